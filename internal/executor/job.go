package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/spachava753/cellopt/internal/archive"
	"github.com/spachava753/cellopt/internal/config"
	"github.com/spachava753/cellopt/internal/entitystore"
	"github.com/spachava753/cellopt/internal/environment"
	"github.com/spachava753/cellopt/internal/environment/docker"
	"github.com/spachava753/cellopt/internal/environment/local"
	"github.com/spachava753/cellopt/internal/environment/modal"
	"github.com/spachava753/cellopt/internal/models"
	"github.com/spachava753/cellopt/internal/optimizer"
	"github.com/spachava753/cellopt/internal/persistence"
	"github.com/spachava753/cellopt/internal/secrets"
	"github.com/spachava753/cellopt/internal/simulation"
	"github.com/spachava753/cellopt/internal/store"
)

// ErrNoPendingRequest is returned by Schedule when no model has a ToDo
// workflow run for the requested tool.
var ErrNoPendingRequest = errors.New("no pending request")

// EntityStore is the entity store as used by jobs.
type EntityStore interface {
	persistence.EntityStore
	QueryPending(ctx context.Context) ([]string, error)
}

// Deps are the collaborators of a Job. Nil fields are optional, except
// Optimizer and Provider.
type Deps struct {
	Secrets   secrets.Store
	Optimizer optimizer.Service
	Provider  environment.Provider
	Entities  EntityStore
	Ledger    persistence.Ledger
	Publisher archive.Publisher
}

// Job runs optimizations and simulations described by one job config.
type Job struct {
	cfg     models.JobConfig
	deps    Deps
	closers []func() error
}

// NewJob creates a job from explicit collaborators.
func NewJob(cfg models.JobConfig, deps Deps) *Job {
	return &Job{cfg: cfg, deps: deps}
}

// Open creates a job and connects every collaborator the config enables.
func Open(ctx context.Context, cfg models.JobConfig) (*Job, error) {
	secretStore := secrets.Default(cfg.SecretsDir)

	svc, err := NewOptimizer(cfg.Optimizer, secretStore)
	if err != nil {
		return nil, err
	}
	provider, err := NewProvider(cfg.Environment)
	if err != nil {
		return nil, err
	}

	job := NewJob(cfg, Deps{Secrets: secretStore, Optimizer: svc, Provider: provider})

	if cfg.EntityStore.Enabled() {
		session, err := entitystore.Connect(ctx, entitystore.Settings{
			Domain:         cfg.EntityStore.Domain,
			BaseURL:        cfg.EntityStore.BaseURL,
			User:           cfg.EntityStore.User,
			PasswordSecret: cfg.EntityStore.PasswordSecret,
			APIPath:        cfg.EntityStore.APIPath,
		}, secretStore)
		if err != nil {
			return nil, fmt.Errorf("connecting to entity store: %w", err)
		}
		job.deps.Entities = session
	}

	job.deps.Publisher, err = archive.New(cfg.Archive, secretStore)
	if err != nil {
		return nil, err
	}

	if cfg.LedgerPath != "" {
		ledger, err := store.Open(ctx, cfg.LedgerPath)
		if err != nil {
			return nil, err
		}
		job.deps.Ledger = ledger
		job.closers = append(job.closers, ledger.Close)
	}

	return job, nil
}

// Close releases resources opened by Open.
func (j *Job) Close() error {
	var errs []error
	for _, c := range j.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NewOptimizer returns the optimizer service selected by cfg.
func NewOptimizer(cfg models.OptimizerConfig, store secrets.Store) (optimizer.Service, error) {
	switch cfg.Type {
	case "http":
		return optimizer.NewHTTPClient(cfg.BaseURL, cfg.APIKeySecret, store, cfg.RequestsPerSecond), nil
	case "fake":
		return optimizer.NewFake(), nil
	default:
		return nil, fmt.Errorf("unsupported optimizer type: %s", cfg.Type)
	}
}

// NewProvider returns the execution backend selected by cfg.
func NewProvider(cfg models.JobEnvironmentConfig) (environment.Provider, error) {
	switch cfg.Type {
	case "local":
		return local.NewProvider(), nil
	case "docker":
		return docker.NewProvider(), nil
	case "modal":
		return modal.NewProvider(modal.ParseProviderConfig(cfg.ProviderConfig))
	default:
		return nil, fmt.Errorf("unsupported environment type: %s", cfg.Type)
	}
}

// RunFromConfig loads a job config file and runs its optimization.
func RunFromConfig(ctx context.Context, configPath string) (*models.JobResult, error) {
	cfg, err := config.LoadJobConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading job config: %w", err)
	}

	job, err := Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening job: %w", err)
	}
	defer job.Close()

	return job.Run(ctx)
}

// Run optimizes with the configured request. When the config names an
// entity, the result is written to it and its pending optimization
// request, if any, is completed.
func (j *Job) Run(ctx context.Context) (*models.JobResult, error) {
	ref := persistence.EntityRef{Title: j.cfg.EntityStore.Model}
	req := j.cfg.Request

	if ref.Title != "" && j.deps.Entities != nil {
		m, err := j.deps.Entities.LoadModel(ctx, ref.Title)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", ref.Title, err)
		}
		if wr, ok := m.PendingRun(entitystore.ToolOptimization); ok {
			ref.WorkflowRun = wr.UUID
			req.UUID = wr.UUID
		}
	}

	return j.Optimize(ctx, j.jobName(""), req, ref)
}

// Optimize runs one optimization in a fresh job directory and persists its
// outcome. An existing job directory is never overwritten.
func (j *Job) Optimize(ctx context.Context, jobName string, req models.OptimizationRequest, ref persistence.EntityRef) (*models.JobResult, error) {
	jobDir := filepath.Join(j.cfg.JobsDir, jobName)
	if _, err := os.Stat(jobDir); err == nil {
		return nil, fmt.Errorf("job directory already exists: %s (will not overwrite existing results)", jobDir)
	}
	experimentsDir := filepath.Join(jobDir, "experiments")
	if err := os.MkdirAll(experimentsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating job directory: %w", err)
	}

	cfg := j.cfg
	cfg.Name = &jobName
	cfg.Request = req
	if err := writeJSON(filepath.Join(jobDir, "config.json"), cfg); err != nil {
		return nil, err
	}

	runner, err := j.setupSimulator(ctx, jobName)
	if err != nil {
		writeError(jobDir, err)
		return nil, err
	}
	defer closeRunner(runner)

	orch := NewOrchestrator(j.deps.Optimizer, runner, Options{
		Account:        optimizer.Account{GroupID: j.cfg.Optimizer.GroupID, AccountType: j.cfg.Optimizer.AccountType},
		MaxRetries:     j.cfg.Optimizer.SuggestionRetry.MaxRetries,
		RetryDelay:     j.cfg.Optimizer.SuggestionRetry.Delay(),
		FailurePolicy:  j.cfg.FailurePolicy,
		SentinelValue:  j.cfg.SentinelValue,
		Parallelism:    j.cfg.Parallelism,
		ExperimentsDir: experimentsDir,
	})

	run, err := orch.Run(ctx, req)
	if err != nil {
		writeError(jobDir, err)
		return nil, fmt.Errorf("running optimization: %w", err)
	}

	result := models.NewJobResult(jobName, run)

	p := j.persister(jobName, jobDir)
	out, err := p.Persist(ctx, run, ref)
	if err != nil {
		writeError(jobDir, err)
		return nil, err
	}
	if ref.Title != "" && j.deps.Entities != nil {
		result.EntityTitle = ref.Title
	}
	if out.Record != nil {
		result.ArchiveLink = out.Record.Link
	}

	if err := writeJSON(filepath.Join(jobDir, "result.json"), result); err != nil {
		return nil, err
	}
	return result, nil
}

// Simulate runs a single simulation of req.Geometry. When ref names an entity the
// result is written to it.
func (j *Job) Simulate(ctx context.Context, req models.SimulationRequest, ref persistence.EntityRef) (*models.SimulationResult, error) {
	runner, err := j.setupSimulator(ctx, j.jobName("simulate"))
	if err != nil {
		return nil, err
	}
	defer closeRunner(runner)

	res, err := runner.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.Info("simulation finished", "uuid", res.UUID, "energy_density", res.Result.EnergyDensity)

	if ref.Title != "" {
		if _, err := j.persister("", "").PersistSimulation(ctx, res, ref); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Schedule processes the first pending request found on the given entity
// titles, or on every model with a ToDo workflow run when titles is empty.
// The tool selects between optimization and single-simulation requests.
// It returns the entity title that was processed.
func (j *Job) Schedule(ctx context.Context, titles []string, tool string) (string, error) {
	if j.deps.Entities == nil {
		return "", fmt.Errorf("scheduling requires an entity_store")
	}

	if len(titles) == 0 {
		var err error
		titles, err = j.deps.Entities.QueryPending(ctx)
		if err != nil {
			return "", err
		}
	}
	slog.Info("checking pending requests", "models", len(titles), "tool", tool)

	for _, title := range titles {
		m, err := j.deps.Entities.LoadModel(ctx, title)
		if err != nil {
			slog.Warn("skipping model", "title", title, "error", err)
			continue
		}
		wr, ok := m.PendingRun(tool)
		if !ok {
			continue
		}
		ref := persistence.EntityRef{Title: title, WorkflowRun: wr.UUID}
		slog.Info("processing request", "title", title, "workflow_run", wr.UUID, "tool", tool)

		switch tool {
		case entitystore.ToolSimulation:
			g := models.DefaultGeometry()
			if m.Geometry != nil {
				g = *m.Geometry
			}
			_, err = j.Simulate(ctx, models.SimulationRequest{UUID: wr.UUID, Geometry: g}, ref)
		default:
			req := j.cfg.Request
			req.UUID = wr.UUID
			req.RandomSeed = optimizer.MinRandomSeed + rand.IntN(optimizer.MaxRandomSeed)
			_, err = j.Optimize(ctx, j.jobName(wr.UUID.String()[:8]), req, ref)
		}
		if err != nil {
			return title, fmt.Errorf("processing %s: %w", title, err)
		}
		return title, nil
	}
	return "", ErrNoPendingRequest
}

// Publish archives the given entities and stores the record on each.
func (j *Job) Publish(ctx context.Context, titles []string) ([]*archive.Record, error) {
	p := j.persister("", "")
	var records []*archive.Record
	for _, title := range titles {
		rec, err := p.Publish(ctx, title)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (j *Job) jobName(suffix string) string {
	name := time.Now().Format("2006-01-02__15-04-05")
	if j.cfg.Name != nil {
		name = *j.cfg.Name
	}
	if suffix != "" {
		name += "__" + suffix
	}
	return name
}

func (j *Job) setupSimulator(ctx context.Context, name string) (*simulation.Runner, error) {
	simPath := j.cfg.SimulatorPath
	if j.cfg.SimulatorGit.GitURL != "" {
		var err error
		if simPath, err = simulation.Fetch(ctx, j.cfg.SimulatorGit); err != nil {
			return nil, fmt.Errorf("fetching simulator: %w", err)
		}
	}

	sim, err := simulation.LoadSimulator(simPath)
	if err != nil {
		return nil, fmt.Errorf("loading simulator: %w", err)
	}
	runner, err := simulation.Setup(ctx, j.deps.Provider, sim, simulation.SetupOptions{
		Name:       name,
		ForceBuild: j.cfg.Environment.ForceBuild,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up simulator: %w", err)
	}
	return runner, nil
}

func (j *Job) persister(jobName, dir string) *persistence.Persister {
	return persistence.New(persistence.Options{
		JobName:     jobName,
		Dir:         dir,
		Entities:    j.deps.Entities,
		Ledger:      j.deps.Ledger,
		Publisher:   j.deps.Publisher,
		Creator:     j.cfg.Archive.Creator,
		Affiliation: j.cfg.Archive.Affiliation,
	})
}

func closeRunner(r *simulation.Runner) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		slog.Warn("destroying simulator environment", "error", err)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeError(jobDir string, err error) {
	os.WriteFile(filepath.Join(jobDir, "error.txt"), []byte(err.Error()), 0644)
}
