package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spachava753/cellopt/internal/models"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is one ledger row.
type RunSummary struct {
	RunID             string    `json:"run_id"`
	JobName           string    `json:"job_name"`
	EntityTitle       string    `json:"entity_title,omitempty"`
	Algorithm         string    `json:"algorithm"`
	Budget            int       `json:"budget"`
	Experiments       int       `json:"experiments"`
	Failed            int       `json:"failed"`
	BestEnergyDensity *float64  `json:"best_energy_density,omitempty"`
	BestIteration     *int      `json:"best_iteration,omitempty"`
	BestBatch         *int      `json:"best_batch,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
}

// Ledger is a SQLite-backed run history.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger database at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordRun stores a finished run with all of its experiments. Recording
// the same run id again replaces the earlier entry.
func (l *Ledger) RecordRun(ctx context.Context, jobName, entityTitle string, run *models.OptimizationRun) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	runID := run.RunID.String()
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("replacing run %s: %w", runID, err)
	}

	var bestED sql.NullFloat64
	var bestIter, bestBatch sql.NullInt64
	if best, ok := run.BestEnergyDensity(); ok {
		bestED = sql.NullFloat64{Float64: best, Valid: true}
		bestIter = sql.NullInt64{Int64: int64(run.BestRun.Iteration), Valid: true}
		bestBatch = sql.NullInt64{Int64: int64(run.BestRun.Batch), Valid: true}
	}

	ended := run.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, job_name, entity_title, algorithm, budget, experiments, failed,
			best_energy_density, best_iteration, best_batch, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, jobName, nullString(entityTitle), run.Algorithm, run.Budget, len(run.Experiments), run.FailedCount(),
		bestED, bestIter, bestBatch,
		run.StartedAt.UTC().Format(time.RFC3339Nano), ended.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("inserting run %s: %w", runID, err)
	}

	for _, exp := range run.Experiments {
		var reqUUID sql.NullString
		var ed sql.NullFloat64
		if exp.Response != nil {
			reqUUID = sql.NullString{String: exp.Response.UUID.String(), Valid: true}
		}
		if v, ok := exp.Objective(); ok {
			ed = sql.NullFloat64{Float64: v, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO experiments (run_id, iteration, batch, request_uuid,
				negative_electrode_thickness, positive_electrode_thickness, separator_thickness,
				energy_density, failed, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, exp.Iteration, exp.Batch, reqUUID,
			exp.Geometry.NegativeElectrode.ActiveMaterial.Thickness,
			exp.Geometry.PositiveElectrode.ActiveMaterial.Thickness,
			exp.Geometry.Electrolyte.Separator.Thickness,
			ed, exp.Failed, nullString(exp.Error),
		); err != nil {
			return fmt.Errorf("inserting experiment %d/%d of run %s: %w", exp.Iteration, exp.Batch, runID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run %s: %w", runID, err)
	}
	return nil
}

const selectRuns = `SELECT run_id, job_name, entity_title, algorithm, budget, experiments, failed,
	best_energy_density, best_iteration, best_batch, started_at, ended_at FROM runs`

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := selectRuns + ` ORDER BY started_at DESC, run_id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run by id.
func (l *Ledger) GetRun(ctx context.Context, runID string) (RunSummary, error) {
	row := l.db.QueryRowContext(ctx, selectRuns+` WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunSummary, error) {
	var (
		r                  RunSummary
		title, algorithm   sql.NullString
		bestED             sql.NullFloat64
		bestIter, bestBat  sql.NullInt64
		startedAt, endedAt string
	)
	if err := s.Scan(&r.RunID, &r.JobName, &title, &algorithm, &r.Budget, &r.Experiments, &r.Failed,
		&bestED, &bestIter, &bestBat, &startedAt, &endedAt); err != nil {
		return r, err
	}
	r.EntityTitle = title.String
	r.Algorithm = algorithm.String
	if bestED.Valid {
		v := bestED.Float64
		r.BestEnergyDensity = &v
	}
	if bestIter.Valid {
		v := int(bestIter.Int64)
		r.BestIteration = &v
	}
	if bestBat.Valid {
		v := int(bestBat.Int64)
		r.BestBatch = &v
	}
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return r, fmt.Errorf("parsing started_at of run %s: %w", r.RunID, err)
	}
	if r.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
		return r, fmt.Errorf("parsing ended_at of run %s: %w", r.RunID, err)
	}
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
