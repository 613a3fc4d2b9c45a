package models

import (
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
)

func experiment(iteration, batch int, energyDensity float64) ExecutedExperiment {
	return ExecutedExperiment{
		Geometry:  DefaultGeometry(),
		Iteration: iteration,
		Batch:     batch,
		Response: &SimulationResult{
			Status: StatusOK,
			UUID:   uuid.New(),
			Result: PerformanceSpec{EnergyDensity: energyDensity},
		},
	}
}

func TestAppendTracksMaximumFirstSeen(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		wantBest int
	}{
		{name: "single", values: []float64{300}, wantBest: 0},
		{name: "increasing", values: []float64{100, 200, 300}, wantBest: 2},
		{name: "decreasing", values: []float64{300, 250}, wantBest: 0},
		{name: "tie keeps earlier", values: []float64{100, 300, 300, 200}, wantBest: 1},
		{name: "negative values", values: []float64{-5, -1, -3}, wantBest: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := NewOptimizationRun(uuid.New())
			for i, v := range tt.values {
				run.Append(experiment(i, 0, v))
			}

			if run.BestIndex() != tt.wantBest {
				t.Errorf("BestIndex() = %d, want %d", run.BestIndex(), tt.wantBest)
			}
			if run.BestRun != &run.Experiments[tt.wantBest] {
				t.Error("BestRun does not point into Experiments")
			}
		})
	}
}

func TestAppendRandomSequences(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 200; trial++ {
		n := 1 + r.IntN(30)
		run := NewOptimizationRun(uuid.New())
		wantIdx := -1
		var wantVal float64
		for i := 0; i < n; i++ {
			// Few distinct values so ties are common.
			v := float64(r.IntN(5))
			if wantIdx < 0 || v > wantVal {
				wantIdx, wantVal = i, v
			}
			run.Append(experiment(i, 0, v))
		}
		if run.BestIndex() != wantIdx {
			t.Fatalf("trial %d: BestIndex() = %d, want %d", trial, run.BestIndex(), wantIdx)
		}
		if got, _ := run.BestEnergyDensity(); got != wantVal {
			t.Fatalf("trial %d: best = %f, want %f", trial, got, wantVal)
		}
	}
}

func TestAppendIgnoresFailedExperiments(t *testing.T) {
	run := NewOptimizationRun(uuid.New())

	run.Append(ExecutedExperiment{Iteration: 0, Failed: true, Error: "boom"})
	if run.BestRun != nil || run.BestIndex() != -1 {
		t.Fatal("failed experiment must not become best")
	}
	if _, ok := run.BestEnergyDensity(); ok {
		t.Error("expected no best energy density")
	}

	if !run.Append(experiment(1, 0, 10)) {
		t.Error("first successful experiment should become best")
	}
	run.Append(ExecutedExperiment{Iteration: 2, Failed: true})

	if run.BestIndex() != 1 {
		t.Errorf("BestIndex() = %d, want 1", run.BestIndex())
	}
	if run.FailedCount() != 2 {
		t.Errorf("FailedCount() = %d, want 2", run.FailedCount())
	}
}

func TestBestRunSurvivesGrowth(t *testing.T) {
	run := NewOptimizationRun(uuid.New())
	run.Append(experiment(0, 0, 1000))
	for i := 1; i < 100; i++ {
		run.Append(experiment(i, 0, float64(i)))
	}
	if run.BestRun != &run.Experiments[0] {
		t.Fatal("BestRun must follow the backing array after growth")
	}
	if run.BestRun.Response.Result.EnergyDensity != 1000 {
		t.Errorf("unexpected best %f", run.BestRun.Response.Result.EnergyDensity)
	}
}

func TestOptimizationRunJSON(t *testing.T) {
	run := NewOptimizationRun(uuid.New())
	run.Append(experiment(0, 0, 300))
	run.Append(experiment(1, 0, 250))

	data, err := json.Marshal(run)
	if err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		Experiments []ExecutedExperiment `json:"experiments"`
		BestRun     ExecutedExperiment   `json:"best_run"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Experiments) != 2 {
		t.Errorf("expected 2 experiments, got %d", len(decoded.Experiments))
	}
	if decoded.BestRun.Response.Result.EnergyDensity != 300 || decoded.BestRun.Iteration != 0 {
		t.Errorf("unexpected best_run %+v", decoded.BestRun)
	}
}

func TestSuggestionMeasure(t *testing.T) {
	s := &Suggestion{ParamValues: map[string]float64{"x": 1}}
	if s.Measured() {
		t.Fatal("new suggestion should not be measured")
	}
	s.Measure(ObjectiveEnergyDensity, 300)
	if !s.Measured() || s.Measurements[ObjectiveEnergyDensity] != 300 {
		t.Errorf("unexpected measurements %v", s.Measurements)
	}
}
