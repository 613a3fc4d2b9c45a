package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spachava753/cellopt/internal/models"
	"github.com/spachava753/cellopt/internal/optimizer"
	"golang.org/x/sync/errgroup"
)

// Simulator runs one simulation request to completion.
type Simulator interface {
	Run(ctx context.Context, req models.SimulationRequest) (*models.SimulationResult, error)
}

// Phase is the controller's position in a run.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitializing Phase = "initializing"
	PhaseIterating    Phase = "iterating"
	PhaseFinalizing   Phase = "finalizing"
	PhaseDone         Phase = "done"
)

// Options tunes the optimization loop.
type Options struct {
	Account       optimizer.Account
	MaxRetries    int
	RetryDelay    time.Duration
	FailurePolicy models.FailurePolicy
	SentinelValue float64
	// Parallelism > 1 runs the simulations of one batch concurrently.
	Parallelism int
	// ExperimentsDir, when set, receives one JSON file per experiment.
	ExperimentsDir string
	// NewRequestID generates simulation request identifiers. Defaults to
	// uuid.New. It must be safe for concurrent use when Parallelism > 1.
	NewRequestID func() uuid.UUID
}

// Orchestrator drives one optimization run: it pulls suggestion batches,
// simulates every suggestion, tracks the best experiment and reports
// measurements back.
type Orchestrator struct {
	svc  optimizer.Service
	sim  Simulator
	opts Options

	mu    sync.Mutex
	phase Phase
}

// NewOrchestrator creates a controller over the given optimizer and simulator.
func NewOrchestrator(svc optimizer.Service, sim Simulator, opts Options) *Orchestrator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = models.FailureAbort
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.NewRequestID == nil {
		opts.NewRequestID = uuid.New
	}
	return &Orchestrator{svc: svc, sim: sim, opts: opts, phase: PhaseIdle}
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
	slog.Debug("optimization phase", "phase", p)
}

// outcome is the result of evaluating one suggestion.
type outcome struct {
	experiment models.ExecutedExperiment
	suggestion *models.Suggestion
	report     bool
}

// Run executes exactly session.Config.Budget iterations and returns the
// accumulated run. The budget is taken from the initialized session, not
// from req.
func (o *Orchestrator) Run(ctx context.Context, req models.OptimizationRequest) (*models.OptimizationRun, error) {
	o.setPhase(PhaseInitializing)

	cfg := optimizer.BattmoConfig(req, o.opts.Account)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	session, err := o.svc.Initialize(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing optimizer: %w", err)
	}

	runID := req.UUID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	run := models.NewOptimizationRun(runID)
	run.Algorithm = session.Config.Algorithm
	run.Budget = session.Config.Budget

	slog.Info("optimization initialized",
		"run_id", runID,
		"optimization", session.ID,
		"algorithm", session.Config.Algorithm,
		"budget", session.Config.Budget,
		"batch_size", session.Config.BatchSize)

	o.setPhase(PhaseIterating)
	for iteration := range session.Config.Budget {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iteration, err)
		}

		suggestions, err := optimizer.GetSuggestions(ctx, o.svc, session, o.opts.MaxRetries, o.opts.RetryDelay)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iteration, err)
		}
		slog.Info("suggestions received", "iteration", iteration, "count", len(suggestions))
		if len(suggestions) == 0 {
			continue
		}

		outcomes, err := o.evaluateBatch(ctx, iteration, suggestions)
		if err != nil {
			return nil, err
		}

		var measured []*models.Suggestion
		for _, out := range outcomes {
			if run.Append(out.experiment) {
				best, _ := out.experiment.Objective()
				slog.Info("new best experiment", "iteration", iteration, "batch", out.experiment.Batch, "energy_density", best)
			}
			o.saveExperiment(out.experiment)
			if out.report {
				measured = append(measured, out.suggestion)
			}
		}

		if len(measured) == 0 {
			slog.Warn("no measurements to report", "iteration", iteration)
			continue
		}
		if err := o.svc.ReportMeasurements(ctx, session, measured); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iteration, err)
		}
	}

	o.setPhase(PhaseFinalizing)
	run.EndedAt = time.Now()
	if best, ok := run.BestEnergyDensity(); ok {
		slog.Info("optimization finished", "run_id", runID, "experiments", len(run.Experiments), "failed", run.FailedCount(), "best_energy_density", best)
	} else {
		slog.Warn("optimization finished without a successful experiment", "run_id", runID, "experiments", len(run.Experiments))
	}
	o.setPhase(PhaseDone)

	return run, nil
}

// evaluateBatch simulates every suggestion of a batch and returns the
// outcomes in batch order, whether or not they ran concurrently.
func (o *Orchestrator) evaluateBatch(ctx context.Context, iteration int, suggestions []*models.Suggestion) ([]outcome, error) {
	outcomes := make([]outcome, len(suggestions))

	if o.opts.Parallelism <= 1 || len(suggestions) == 1 {
		for i, s := range suggestions {
			out, err := o.evaluate(ctx, iteration, i, s)
			if err != nil {
				return nil, err
			}
			outcomes[i] = out
		}
		return outcomes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Parallelism)
	for i, s := range suggestions {
		g.Go(func() error {
			out, err := o.evaluate(gctx, iteration, i, s)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// evaluate runs one suggestion. It returns an error only when the run must stop.
func (o *Orchestrator) evaluate(ctx context.Context, iteration, batch int, s *models.Suggestion) (outcome, error) {
	geometry, err := models.GeometryFromParams(s.ParamValues)
	if err != nil {
		return outcome{}, fmt.Errorf("iteration %d batch %d: suggestion %s: %w", iteration, batch, s.ID, err)
	}

	req := models.SimulationRequest{UUID: o.opts.NewRequestID(), Geometry: geometry}
	exp := models.ExecutedExperiment{
		Geometry:  geometry,
		Iteration: iteration,
		Batch:     batch,
	}

	slog.Info("running simulation", "iteration", iteration, "batch", batch, "uuid", req.UUID, "params", s.ParamValues)

	res, err := o.sim.Run(ctx, req)
	if err != nil {
		var simErr *models.SimulationFailure
		if !errors.As(err, &simErr) || o.opts.FailurePolicy == models.FailureAbort {
			return outcome{}, fmt.Errorf("iteration %d batch %d: %w", iteration, batch, err)
		}

		exp.Failed = true
		exp.Error = err.Error()
		out := outcome{experiment: exp, suggestion: s}
		if o.opts.FailurePolicy == models.FailureSentinel {
			s.Measure(models.ObjectiveEnergyDensity, o.opts.SentinelValue)
			out.report = true
		}
		slog.Warn("simulation failed", "iteration", iteration, "batch", batch, "uuid", req.UUID, "policy", o.opts.FailurePolicy, "error", err)
		return out, nil
	}

	exp.Response = res
	s.Measure(models.ObjectiveEnergyDensity, res.Result.EnergyDensity)
	return outcome{experiment: exp, suggestion: s, report: true}, nil
}

// saveExperiment writes one experiment to ExperimentsDir. Failures are logged.
func (o *Orchestrator) saveExperiment(exp models.ExecutedExperiment) {
	if o.opts.ExperimentsDir == "" {
		return
	}
	data, err := json.MarshalIndent(exp, "", "  ")
	if err == nil {
		name := fmt.Sprintf("%03d_%02d.json", exp.Iteration, exp.Batch)
		err = os.WriteFile(filepath.Join(o.opts.ExperimentsDir, name), data, 0644)
	}
	if err != nil {
		slog.Warn("saving experiment", "iteration", exp.Iteration, "batch", exp.Batch, "error", err)
	}
}
