package executor_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spachava753/cellopt/internal/executor"
	"github.com/spachava753/cellopt/internal/models"
	"github.com/spachava753/cellopt/internal/optimizer"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedService hands out fixed batches, one per poll.
type scriptedService struct {
	mu sync.Mutex
	// resolvedBudget overrides the submitted budget when non-zero.
	resolvedBudget int
	batches        [][]map[string]float64
	notReady       bool

	initCalls int
	polls     int
	reports   [][]map[string]float64
}

func (s *scriptedService) Initialize(ctx context.Context, cfg optimizer.Config) (*optimizer.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initCalls++
	if s.resolvedBudget > 0 {
		cfg.Budget = s.resolvedBudget
	}
	return &optimizer.Session{ID: "scripted", Config: cfg}, nil
}

func (s *scriptedService) Suggest(ctx context.Context, sess *optimizer.Session) ([]*models.Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notReady {
		return nil, optimizer.ErrNotReady
	}
	iter := s.polls
	s.polls++
	if iter >= len(s.batches) {
		return nil, nil
	}
	var out []*models.Suggestion
	for k, params := range s.batches[iter] {
		out = append(out, &models.Suggestion{ID: fmt.Sprintf("s-%d-%d", iter, k), ParamValues: params})
	}
	return out, nil
}

func (s *scriptedService) ReportMeasurements(ctx context.Context, sess *optimizer.Session, suggestions []*models.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var batch []map[string]float64
	for _, sg := range suggestions {
		batch = append(batch, sg.Measurements)
	}
	s.reports = append(s.reports, batch)
	return nil
}

// stubSimulator maps the negative electrode thickness to an outcome.
type stubSimulator struct {
	mu       sync.Mutex
	results  map[float64]float64
	failures map[float64]bool
	delays   map[float64]time.Duration
	requests []models.SimulationRequest
}

func (s *stubSimulator) Run(ctx context.Context, req models.SimulationRequest) (*models.SimulationResult, error) {
	neg := req.Geometry.NegativeElectrode.ActiveMaterial.Thickness

	s.mu.Lock()
	s.requests = append(s.requests, req)
	ed, fail, delay := s.results[neg], s.failures[neg], s.delays[neg]
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return nil, &models.SimulationFailure{UUID: req.UUID, Reason: "simulator exited with code 1"}
	}
	return &models.SimulationResult{
		Status: models.StatusOK,
		UUID:   req.UUID,
		Result: models.PerformanceSpec{E: 4, EnergyDensity: ed, Energy: ed / 100},
	}, nil
}

func params(neg, pos, sep float64) map[string]float64 {
	return map[string]float64{
		models.ParamNegativeElectrodeThickness: neg,
		models.ParamPositiveElectrodeThickness: pos,
		models.ParamSeparatorThickness:         sep,
	}
}

func request(budget, batchSize int) models.OptimizationRequest {
	req := models.DefaultOptimizationRequest()
	req.Budget = budget
	req.BatchSize = batchSize
	return req
}

func TestRunExample(t *testing.T) {
	svc := &scriptedService{batches: [][]map[string]float64{
		{params(60e-6, 60e-6, 10e-6)},
		{params(90e-6, 90e-6, 12e-6)},
	}}
	sim := &stubSimulator{results: map[float64]float64{60e-6: 300, 90e-6: 250}}
	orch := executor.NewOrchestrator(svc, sim, executor.Options{MaxRetries: 1})

	if orch.Phase() != executor.PhaseIdle {
		t.Errorf("expected idle phase before run, got %s", orch.Phase())
	}

	run, err := orch.Run(context.Background(), request(2, 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(run.Experiments) != 2 {
		t.Fatalf("expected 2 experiments, got %d", len(run.Experiments))
	}
	if run.BestRun == nil || run.BestRun.Iteration != 0 {
		t.Fatalf("expected first iteration to be best, got %+v", run.BestRun)
	}
	if best, _ := run.BestEnergyDensity(); best != 300 {
		t.Errorf("expected best 300, got %f", best)
	}
	if run.BestRun != &run.Experiments[0] {
		t.Error("best run does not point into experiments")
	}
	if orch.Phase() != executor.PhaseDone {
		t.Errorf("expected done phase, got %s", orch.Phase())
	}
	if !run.EndedAt.After(run.StartedAt) && !run.EndedAt.Equal(run.StartedAt) {
		t.Errorf("end %v before start %v", run.EndedAt, run.StartedAt)
	}

	if len(svc.reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(svc.reports))
	}
	if svc.reports[0][0][models.ObjectiveEnergyDensity] != 300 || svc.reports[1][0][models.ObjectiveEnergyDensity] != 250 {
		t.Errorf("unexpected reports %v", svc.reports)
	}

	for i, exp := range run.Experiments {
		if exp.Response.UUID != sim.requests[i].UUID {
			t.Errorf("experiment %d: response uuid %s does not match request %s", i, exp.Response.UUID, sim.requests[i].UUID)
		}
	}
}

func TestRunEmptyBatches(t *testing.T) {
	svc := &scriptedService{batches: [][]map[string]float64{
		{params(60e-6, 60e-6, 10e-6)},
		{},
		{params(70e-6, 60e-6, 10e-6), params(80e-6, 60e-6, 10e-6)},
		nil,
	}}
	sim := &stubSimulator{results: map[float64]float64{60e-6: 1, 70e-6: 3, 80e-6: 2}}

	run, err := executor.NewOrchestrator(svc, sim, executor.Options{}).Run(context.Background(), request(4, 2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(run.Experiments) != 3 {
		t.Errorf("expected 3 experiments, got %d", len(run.Experiments))
	}
	if len(svc.reports) != 2 {
		t.Errorf("empty batches must not be reported, got %d reports", len(svc.reports))
	}
	if svc.polls != 4 {
		t.Errorf("expected 4 iterations, got %d", svc.polls)
	}
	if run.BestRun.Iteration != 2 || run.BestRun.Batch != 0 {
		t.Errorf("unexpected best %d/%d", run.BestRun.Iteration, run.BestRun.Batch)
	}
}

func TestRunUsesResolvedBudget(t *testing.T) {
	svc := &scriptedService{resolvedBudget: 2}
	for range 10 {
		svc.batches = append(svc.batches, []map[string]float64{params(60e-6, 60e-6, 10e-6)})
	}
	sim := &stubSimulator{results: map[float64]float64{60e-6: 1}}

	run, err := executor.NewOrchestrator(svc, sim, executor.Options{}).Run(context.Background(), request(7, 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if svc.polls != 2 {
		t.Errorf("expected 2 iterations, got %d", svc.polls)
	}
	if run.Budget != 2 || len(run.Experiments) != 2 {
		t.Errorf("unexpected run budget=%d experiments=%d", run.Budget, len(run.Experiments))
	}
}

// deterministicSimulator derives the objective from the geometry alone.
type deterministicSimulator struct{}

func (deterministicSimulator) Run(ctx context.Context, req models.SimulationRequest) (*models.SimulationResult, error) {
	g := req.Geometry
	ed := 1e6*(g.NegativeElectrode.ActiveMaterial.Thickness+g.PositiveElectrode.ActiveMaterial.Thickness) - 1e6*g.Electrolyte.Separator.Thickness
	return &models.SimulationResult{Status: models.StatusOK, UUID: req.UUID, Result: models.PerformanceSpec{EnergyDensity: ed}}, nil
}

func sequentialIDs() func() uuid.UUID {
	var n uint32
	return func() uuid.UUID {
		n++
		var id uuid.UUID
		id[12], id[13], id[14], id[15] = byte(n>>24), byte(n>>16), byte(n>>8), byte(n)
		return id
	}
}

func TestRunDeterministic(t *testing.T) {
	runOnce := func() *models.OptimizationRun {
		req := request(5, 3)
		req.UUID = uuid.MustParse("00000000-0000-0000-0000-00000000abcd")
		req.RandomSeed = 1234
		orch := executor.NewOrchestrator(optimizer.NewFake(), deterministicSimulator{}, executor.Options{NewRequestID: sequentialIDs()})
		run, err := orch.Run(context.Background(), req)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return run
	}

	a, b := runOnce(), runOnce()
	if !reflect.DeepEqual(a.Experiments, b.Experiments) {
		t.Error("experiments differ between identical runs")
	}
	if a.BestIndex() != b.BestIndex() {
		t.Errorf("best index differs: %d vs %d", a.BestIndex(), b.BestIndex())
	}
	if a.RunID != b.RunID || len(a.Experiments) != 15 {
		t.Errorf("unexpected runs %s/%s with %d experiments", a.RunID, b.RunID, len(a.Experiments))
	}
}

func TestRunFailurePolicies(t *testing.T) {
	batch := [][]map[string]float64{{
		params(60e-6, 60e-6, 10e-6),
		params(70e-6, 60e-6, 10e-6),
		params(80e-6, 60e-6, 10e-6),
	}}

	tests := []struct {
		name         string
		policy       models.FailurePolicy
		wantErr      bool
		wantReported []float64
	}{
		{name: "abort", policy: models.FailureAbort, wantErr: true},
		{name: "default aborts", policy: "", wantErr: true},
		{name: "skip", policy: models.FailureSkip, wantReported: []float64{100, 50}},
		{name: "sentinel", policy: models.FailureSentinel, wantReported: []float64{100, -1, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &scriptedService{batches: batch}
			sim := &stubSimulator{
				results:  map[float64]float64{60e-6: 100, 80e-6: 50},
				failures: map[float64]bool{70e-6: true},
			}
			orch := executor.NewOrchestrator(svc, sim, executor.Options{FailurePolicy: tt.policy, SentinelValue: -1})

			run, err := orch.Run(context.Background(), request(1, 3))
			if tt.wantErr {
				var simErr *models.SimulationFailure
				if !errors.As(err, &simErr) {
					t.Fatalf("expected SimulationFailure, got %v", err)
				}
				if !strings.Contains(err.Error(), "iteration 0 batch 1") {
					t.Errorf("error lacks position: %v", err)
				}
				if len(svc.reports) != 0 {
					t.Errorf("aborted batch must not be reported")
				}
				return
			}
			if err != nil {
				t.Fatalf("Run: %v", err)
			}

			if len(run.Experiments) != 3 || run.FailedCount() != 1 {
				t.Fatalf("expected 3 experiments with 1 failure, got %d/%d", len(run.Experiments), run.FailedCount())
			}
			if !run.Experiments[1].Failed || run.Experiments[1].Error == "" {
				t.Errorf("failed experiment not recorded: %+v", run.Experiments[1])
			}
			if run.BestIndex() != 0 {
				t.Errorf("expected best index 0, got %d", run.BestIndex())
			}

			if len(svc.reports) != 1 {
				t.Fatalf("expected 1 report, got %d", len(svc.reports))
			}
			var got []float64
			for _, m := range svc.reports[0] {
				got = append(got, m[models.ObjectiveEnergyDensity])
			}
			if !reflect.DeepEqual(got, tt.wantReported) {
				t.Errorf("reported %v, want %v", got, tt.wantReported)
			}
		})
	}
}

func TestRunSkipWholeBatchIsNotReported(t *testing.T) {
	svc := &scriptedService{batches: [][]map[string]float64{{params(70e-6, 60e-6, 10e-6)}}}
	sim := &stubSimulator{failures: map[float64]bool{70e-6: true}}

	run, err := executor.NewOrchestrator(svc, sim, executor.Options{FailurePolicy: models.FailureSkip}).Run(context.Background(), request(1, 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(svc.reports) != 0 {
		t.Errorf("expected no report, got %v", svc.reports)
	}
	if run.BestRun != nil {
		t.Errorf("failed experiment became best")
	}
}

func TestRunParallelMatchesSequential(t *testing.T) {
	batches := [][]map[string]float64{
		{params(60e-6, 60e-6, 10e-6), params(70e-6, 60e-6, 10e-6), params(80e-6, 60e-6, 10e-6), params(90e-6, 60e-6, 10e-6)},
		{params(100e-6, 60e-6, 10e-6), params(110e-6, 60e-6, 10e-6)},
	}
	results := map[float64]float64{60e-6: 10, 70e-6: 30, 80e-6: 30, 90e-6: 20, 100e-6: 5, 110e-6: 30}
	// Later suggestions finish first.
	delays := map[float64]time.Duration{60e-6: 40 * time.Millisecond, 70e-6: 30 * time.Millisecond, 80e-6: 10 * time.Millisecond}

	runWith := func(parallelism int) *models.OptimizationRun {
		svc := &scriptedService{batches: batches}
		sim := &stubSimulator{results: results, delays: delays}
		run, err := executor.NewOrchestrator(svc, sim, executor.Options{Parallelism: parallelism}).Run(context.Background(), request(2, 4))
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return run
	}

	seq, par := runWith(1), runWith(4)
	if len(seq.Experiments) != len(par.Experiments) {
		t.Fatalf("experiment counts differ: %d vs %d", len(seq.Experiments), len(par.Experiments))
	}
	for i := range seq.Experiments {
		s, p := seq.Experiments[i], par.Experiments[i]
		if s.Geometry != p.Geometry || s.Iteration != p.Iteration || s.Batch != p.Batch {
			t.Errorf("experiment %d differs: %+v vs %+v", i, s, p)
		}
	}
	if seq.BestIndex() != 1 || par.BestIndex() != 1 {
		t.Errorf("expected first of the tied experiments to be best, got %d and %d", seq.BestIndex(), par.BestIndex())
	}
}

func TestRunInvalidAlgorithm(t *testing.T) {
	svc := &scriptedService{}
	req := request(2, 1)
	req.Algorithm = "notreal"

	_, err := executor.NewOrchestrator(svc, &stubSimulator{}, executor.Options{}).Run(context.Background(), req)
	var vErr *models.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "algorithm" {
		t.Fatalf("expected algorithm ValidationError, got %v", err)
	}
	if svc.initCalls != 0 {
		t.Errorf("optimizer was contacted %d times", svc.initCalls)
	}
}

func TestRunSuggestionTimeout(t *testing.T) {
	svc := &scriptedService{notReady: true}
	sim := &stubSimulator{}

	_, err := executor.NewOrchestrator(svc, sim, executor.Options{MaxRetries: 3}).Run(context.Background(), request(2, 1))
	var timeout *models.SuggestionTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("expected SuggestionTimeout, got %v", err)
	}
	if timeout.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", timeout.Attempts)
	}
	if len(sim.requests) != 0 {
		t.Errorf("simulator ran %d times", len(sim.requests))
	}
}

func TestRunMissingParameter(t *testing.T) {
	svc := &scriptedService{batches: [][]map[string]float64{{{models.ParamNegativeElectrodeThickness: 60e-6}}}}
	sim := &stubSimulator{}

	_, err := executor.NewOrchestrator(svc, sim, executor.Options{FailurePolicy: models.FailureSkip}).Run(context.Background(), request(1, 1))
	if err == nil || !strings.Contains(err.Error(), models.ParamPositiveElectrodeThickness) {
		t.Fatalf("expected missing parameter error, got %v", err)
	}
	if len(sim.requests) != 0 {
		t.Errorf("simulator ran for an incomplete suggestion")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := &scriptedService{batches: [][]map[string]float64{{params(60e-6, 60e-6, 10e-6)}}}
	_, err := executor.NewOrchestrator(svc, &stubSimulator{}, executor.Options{}).Run(ctx, request(1, 1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
