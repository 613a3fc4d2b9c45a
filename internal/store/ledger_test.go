package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spachava753/cellopt/internal/models"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger", "cellopt.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func experiment(iteration int, energyDensity float64) models.ExecutedExperiment {
	return models.ExecutedExperiment{
		Geometry:  models.NewGeometry(60e-6, 50e-6, 10e-6),
		Iteration: iteration,
		Response: &models.SimulationResult{
			Status: models.StatusOK,
			UUID:   uuid.New(),
			Result: models.PerformanceSpec{EnergyDensity: energyDensity},
		},
	}
}

func testRun(started time.Time, densities ...float64) *models.OptimizationRun {
	run := models.NewOptimizationRun(uuid.New())
	run.Algorithm = "gpyopt"
	run.Budget = len(densities)
	run.StartedAt = started
	for i, d := range densities {
		run.Append(experiment(i, d))
	}
	run.Append(models.ExecutedExperiment{Iteration: len(densities), Failed: true, Error: "simulator exited with code 1"})
	run.EndedAt = started.Add(time.Minute)
	return run
}

func TestRecordAndGetRun(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run := testRun(started, 300, 250, 310)

	if err := l.RecordRun(ctx, "job-a", "Item:OSWabc", run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	got, err := l.GetRun(ctx, run.RunID.String())
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.JobName != "job-a" || got.EntityTitle != "Item:OSWabc" || got.Algorithm != "gpyopt" {
		t.Errorf("unexpected summary %+v", got)
	}
	if got.Experiments != 4 || got.Failed != 1 {
		t.Errorf("expected 4 experiments with 1 failed, got %d/%d", got.Experiments, got.Failed)
	}
	if got.BestEnergyDensity == nil || *got.BestEnergyDensity != 310 {
		t.Errorf("expected best 310, got %v", got.BestEnergyDensity)
	}
	if got.BestIteration == nil || *got.BestIteration != 2 {
		t.Errorf("expected best iteration 2, got %v", got.BestIteration)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected started %v, got %v", started, got.StartedAt)
	}

	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiments WHERE run_id = ?`, run.RunID.String()).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("expected 4 experiment rows, got %d", n)
	}
}

func TestRecordRunReplaces(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	run := testRun(time.Now(), 100)

	if err := l.RecordRun(ctx, "job", "", run); err != nil {
		t.Fatal(err)
	}
	run.Append(experiment(5, 500))
	if err := l.RecordRun(ctx, "job", "", run); err != nil {
		t.Fatalf("second RecordRun: %v", err)
	}

	runs, err := l.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Experiments != 3 || *runs[0].BestEnergyDensity != 500 {
		t.Errorf("unexpected replaced run %+v", runs[0])
	}
	if runs[0].EntityTitle != "" {
		t.Errorf("expected empty title, got %q", runs[0].EntityTitle)
	}
}

func TestListRunsOrderAndLimit(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := range 3 {
		run := testRun(base.Add(time.Duration(i)*time.Hour), float64(100*(i+1)))
		ids = append(ids, run.RunID.String())
		if err := l.RecordRun(ctx, "job", "", run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := l.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != ids[2] || runs[1].RunID != ids[1] {
		t.Errorf("expected newest first, got %s, %s", runs[0].RunID, runs[1].RunID)
	}
}

func TestRunWithoutSuccess(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	run := models.NewOptimizationRun(uuid.New())
	run.Append(models.ExecutedExperiment{Failed: true, Error: "boom"})

	if err := l.RecordRun(ctx, "job", "", run); err != nil {
		t.Fatal(err)
	}
	got, err := l.GetRun(ctx, run.RunID.String())
	if err != nil {
		t.Fatal(err)
	}
	if got.BestEnergyDensity != nil || got.BestIteration != nil {
		t.Errorf("expected no best, got %+v", got)
	}
}

func TestGetRunNotFound(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cellopt.db")
	ctx := context.Background()

	l, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	run := testRun(time.Now(), 1)
	if err := l.RecordRun(ctx, "job", "", run); err != nil {
		t.Fatal(err)
	}
	l.Close()

	l, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer l.Close()
	if _, err := l.GetRun(ctx, run.RunID.String()); err != nil {
		t.Errorf("run lost after reopen: %v", err)
	}
}
