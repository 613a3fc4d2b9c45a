// Package persistence writes finished runs to the entity store, the local
// ledger and, optionally, a public archive.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spachava753/cellopt/internal/archive"
	"github.com/spachava753/cellopt/internal/entitystore"
	"github.com/spachava753/cellopt/internal/models"
)

const (
	DefaultLabel       = "BattMo Model"
	DefaultDescription = "Demo data"
)

// ErrNoResult is returned when a run has no successful experiment to persist.
var ErrNoResult = errors.New("run has no successful experiment")

// EntityStore loads and stores battery model entities.
type EntityStore interface {
	LoadModel(ctx context.Context, title string) (*entitystore.BattmoModel, error)
	StoreModel(ctx context.Context, m *entitystore.BattmoModel) error
}

// Ledger records finished runs locally.
type Ledger interface {
	RecordRun(ctx context.Context, jobName, entityTitle string, run *models.OptimizationRun) error
}

// EntityRef names the entity a result belongs to and the workflow run
// that requested it.
type EntityRef struct {
	Title       string
	WorkflowRun uuid.UUID
}

// Outcome reports what Persist wrote.
type Outcome struct {
	ArtifactPath    string          `json:"artifact_path,omitempty"`
	Title           string          `json:"title,omitempty"`
	PerformanceUUID uuid.UUID       `json:"performance_uuid,omitempty"`
	CompletedRuns   int             `json:"completed_runs"`
	Record          *archive.Record `json:"record,omitempty"`
}

// Options configures a Persister. Every collaborator is optional.
type Options struct {
	JobName string
	// Dir receives optimization.json.
	Dir         string
	Entities    EntityStore
	Ledger      Ledger
	Publisher   archive.Publisher
	Creator     string
	Affiliation string
}

// Persister writes results to the configured targets.
type Persister struct {
	opts  Options
	newID func() uuid.UUID
}

// New creates a Persister.
func New(opts Options) *Persister {
	return &Persister{opts: opts, newID: uuid.New}
}

// Persist writes the run artifact, records the run in the ledger and
// updates the referenced entity with the best experiment. Only the entity
// update is fatal; ledger and archive failures are logged.
func (p *Persister) Persist(ctx context.Context, run *models.OptimizationRun, ref EntityRef) (*Outcome, error) {
	out := &Outcome{Title: ref.Title}

	if p.opts.Dir != "" {
		path := filepath.Join(p.opts.Dir, "optimization.json")
		if err := writeJSON(path, run); err != nil {
			return out, &models.PersistenceFailure{Target: path, Err: err}
		}
		out.ArtifactPath = path
	}

	if p.opts.Ledger != nil {
		if err := p.opts.Ledger.RecordRun(ctx, p.opts.JobName, ref.Title, run); err != nil {
			slog.Warn("recording run in ledger", "run_id", run.RunID, "error", err)
		}
	}

	if p.opts.Entities == nil || ref.Title == "" {
		return out, nil
	}

	best, ok := run.BestEnergyDensity()
	if !ok {
		return out, &models.PersistenceFailure{Target: ref.Title, Err: ErrNoResult}
	}

	m, err := p.opts.Entities.LoadModel(ctx, ref.Title)
	if err != nil {
		return out, &models.PersistenceFailure{Target: ref.Title, Err: err}
	}

	g := run.BestRun.Geometry
	m.Geometry = &g
	out.PerformanceUUID = p.newID()
	m.Performance = &entitystore.Performance{UUID: out.PerformanceUUID, EnergyDensity: best}
	out.CompletedRuns = m.CompleteRun(ref.WorkflowRun, run.RunID, run.BestRun.Response.UUID)
	if out.CompletedRuns == 0 {
		slog.Warn("no workflow run matched", "title", ref.Title, "workflow_run", ref.WorkflowRun, "run_id", run.RunID)
	}

	if err := p.opts.Entities.StoreModel(ctx, m); err != nil {
		return out, &models.PersistenceFailure{Target: ref.Title, Err: err}
	}
	slog.Info("stored optimization result", "title", ref.Title, "energy_density", best, "completed_runs", out.CompletedRuns)

	if p.opts.Publisher != nil {
		out.Record = p.archiveBestEffort(ctx, m)
	}
	return out, nil
}

// PersistSimulation records a single simulation on the referenced entity.
// The entity's geometry is left unchanged.
func (p *Persister) PersistSimulation(ctx context.Context, res *models.SimulationResult, ref EntityRef) (*Outcome, error) {
	out := &Outcome{Title: ref.Title}
	if p.opts.Entities == nil {
		return out, &models.PersistenceFailure{Target: ref.Title, Err: errors.New("no entity store configured")}
	}

	m, err := p.opts.Entities.LoadModel(ctx, ref.Title)
	if err != nil {
		return out, &models.PersistenceFailure{Target: ref.Title, Err: err}
	}

	out.PerformanceUUID = p.newID()
	m.Performance = &entitystore.Performance{UUID: out.PerformanceUUID, EnergyDensity: res.Result.EnergyDensity}
	out.CompletedRuns = m.CompleteRun(ref.WorkflowRun, res.UUID)

	if err := p.opts.Entities.StoreModel(ctx, m); err != nil {
		return out, &models.PersistenceFailure{Target: ref.Title, Err: err}
	}
	slog.Info("stored simulation result", "title", ref.Title, "uuid", res.UUID, "energy_density", res.Result.EnergyDensity)
	return out, nil
}

// Publish uploads an existing entity to the archive and stores the record
// link back on it. Unlike Persist, archive failures are returned.
func (p *Persister) Publish(ctx context.Context, title string) (*archive.Record, error) {
	if p.opts.Publisher == nil {
		return nil, fmt.Errorf("publishing %s: no archive configured", title)
	}
	if p.opts.Entities == nil {
		return nil, fmt.Errorf("publishing %s: no entity store configured", title)
	}

	m, err := p.opts.Entities.LoadModel(ctx, title)
	if err != nil {
		return nil, &models.PersistenceFailure{Target: title, Err: err}
	}
	rec, err := p.publish(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("publishing %s: %w", title, err)
	}
	if err := p.opts.Entities.StoreModel(ctx, m); err != nil {
		return rec, &models.PersistenceFailure{Target: title, Err: err}
	}
	return rec, nil
}

// archiveBestEffort publishes m and stores the record back. Failures are logged.
func (p *Persister) archiveBestEffort(ctx context.Context, m *entitystore.BattmoModel) *archive.Record {
	rec, err := p.publish(ctx, m)
	if err != nil {
		slog.Warn("archiving entity", "title", m.Title(), "repository", p.opts.Publisher.Name(), "error", err)
		return nil
	}
	if err := p.opts.Entities.StoreModel(ctx, m); err != nil {
		slog.Warn("storing archive record", "title", m.Title(), "link", rec.Link, "error", err)
	}
	return rec
}

// publish uploads m and attaches the resulting record to it.
func (p *Persister) publish(ctx context.Context, m *entitystore.BattmoModel) (*archive.Record, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding entity: %w", err)
	}

	meta := archive.Metadata{
		Title:           m.LabelText(DefaultLabel),
		Description:     m.DescriptionText(DefaultDescription),
		PublicationDate: time.Now(),
	}
	if p.opts.Creator != "" {
		meta.Creators = []archive.Creator{{Name: p.opts.Creator, Affiliation: p.opts.Affiliation}}
	}
	files := []archive.File{{Name: m.UUID.String() + ".json", Data: data}}

	rec, err := p.opts.Publisher.Publish(ctx, meta, files)
	if err != nil {
		return nil, err
	}

	m.RepositoryRecords = append(m.RepositoryRecords, entitystore.RepositoryRecord{
		RepositoryName: rec.Repository,
		RecordPID:      rec.PID,
		RecordLink:     rec.Link,
	})
	if rec.DOI != "" {
		m.DOI = rec.DOI
	}
	slog.Info("archived entity", "title", m.Title(), "repository", rec.Repository, "link", rec.Link, "doi", rec.DOI)
	return rec, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0644)
}
