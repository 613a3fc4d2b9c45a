package models

import (
	"time"

	"github.com/google/uuid"
)

// FailurePolicy controls what the controller does when one simulation fails.
type FailurePolicy string

const (
	// Abort the whole run on the first failed simulation.
	FailureAbort FailurePolicy = "abort"
	// Record the failure and leave the suggestion out of the report.
	FailureSkip FailurePolicy = "skip"
	// Record the failure and report SentinelValue as its measurement.
	FailureSentinel FailurePolicy = "sentinel"
)

// JobConfig represents the parsed job.yaml configuration.
type JobConfig struct {
	Name          *string              `yaml:"name,omitempty" json:"name,omitempty"`
	JobsDir       string               `yaml:"jobs_dir" json:"jobs_dir"`
	LogLevel      string               `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	LogFormat     string               `yaml:"log_format,omitempty" json:"log_format,omitempty"`
	Request       OptimizationRequest  `yaml:"request" json:"request"`
	Optimizer     OptimizerConfig      `yaml:"optimizer" json:"optimizer"`
	SimulatorPath string               `yaml:"simulator_path" json:"simulator_path"`
	SimulatorGit  SimulatorSource      `yaml:"simulator_git,omitempty" json:"simulator_git,omitempty"`
	Environment   JobEnvironmentConfig `yaml:"environment" json:"environment"`
	FailurePolicy FailurePolicy        `yaml:"failure_policy" json:"failure_policy"`
	SentinelValue float64              `yaml:"sentinel_value,omitempty" json:"sentinel_value,omitempty"`
	Parallelism   int                  `yaml:"parallelism" json:"parallelism"`
	EntityStore   EntityStoreConfig    `yaml:"entity_store,omitempty" json:"entity_store,omitempty"`
	Archive       ArchiveConfig        `yaml:"archive,omitempty" json:"archive,omitempty"`
	LedgerPath    string               `yaml:"ledger_path,omitempty" json:"ledger_path,omitempty"`
	SecretsDir    string               `yaml:"secrets_dir,omitempty" json:"secrets_dir,omitempty"`
}

// SimulatorSource pins a simulator directory inside a git repository. When
// GitURL is set the repository is cloned into a cache and SimulatorPath is
// ignored.
type SimulatorSource struct {
	GitURL      string `yaml:"git_url,omitempty" json:"git_url,omitempty"`
	GitCommitID string `yaml:"git_commit_id,omitempty" json:"git_commit_id,omitempty"` // empty = HEAD
	Path        string `yaml:"path,omitempty" json:"path,omitempty"`                   // empty = repo root
	CacheDir    string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
}

type OptimizerConfig struct {
	Type              string      `yaml:"type" json:"type"`
	BaseURL           string      `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKeySecret      string      `yaml:"api_key_secret,omitempty" json:"api_key_secret,omitempty"`
	GroupID           string      `yaml:"group_id,omitempty" json:"group_id,omitempty"`
	AccountType       string      `yaml:"account_type,omitempty" json:"account_type,omitempty"`
	RequestsPerSecond float64     `yaml:"requests_per_second,omitempty" json:"requests_per_second,omitempty"`
	SuggestionRetry   RetryConfig `yaml:"suggestion_retry" json:"suggestion_retry"`
}

type RetryConfig struct {
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	DelayMs    int `yaml:"delay_ms" json:"delay_ms"`
}

// Delay returns the fixed wait between suggestion polls.
func (c RetryConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

type JobEnvironmentConfig struct {
	Type           string         `yaml:"type" json:"type"`
	ForceBuild     bool           `yaml:"force_build" json:"force_build"`
	ProviderConfig map[string]any `yaml:"provider_config,omitempty" json:"provider_config,omitempty"`
}

type EntityStoreConfig struct {
	Domain         string `yaml:"domain,omitempty" json:"domain,omitempty"`
	BaseURL        string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	User           string `yaml:"user,omitempty" json:"user,omitempty"`
	PasswordSecret string `yaml:"password_secret,omitempty" json:"password_secret,omitempty"`
	APIPath        string `yaml:"api_path,omitempty" json:"api_path,omitempty"`
	// Model is the entity title an optimize job writes its best result to.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`
}

// Enabled reports whether an entity store is configured.
func (c EntityStoreConfig) Enabled() bool {
	return c.Domain != "" || c.BaseURL != ""
}

type ArchiveConfig struct {
	Type        string `yaml:"type" json:"type"`
	BaseURL     string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	TokenSecret string `yaml:"token_secret,omitempty" json:"token_secret,omitempty"`
	Publish     bool   `yaml:"publish" json:"publish"`
	Creator     string `yaml:"creator,omitempty" json:"creator,omitempty"`
	Affiliation string `yaml:"affiliation,omitempty" json:"affiliation,omitempty"`
}

// JobResult summarises a finished optimization job.
type JobResult struct {
	JobName           string      `json:"job_name"`
	RunID             uuid.UUID   `json:"run_id"`
	Algorithm         string      `json:"algorithm"`
	Budget            int         `json:"budget"`
	TotalExperiments  int         `json:"total_experiments"`
	FailedExperiments int         `json:"failed_experiments"`
	BestEnergyDensity *float64    `json:"best_energy_density"`
	BestGeometry      *Geometry1D `json:"best_geometry,omitempty"`
	EntityTitle       string      `json:"entity_title,omitempty"`
	ArchiveLink       string      `json:"archive_link,omitempty"`
	TotalDurationSec  float64     `json:"total_duration_sec"`
	StartedAt         time.Time   `json:"started_at"`
	EndedAt           time.Time   `json:"ended_at"`
}

// NewJobResult builds the summary for a finished run.
func NewJobResult(jobName string, run *OptimizationRun) *JobResult {
	jr := &JobResult{
		JobName:           jobName,
		RunID:             run.RunID,
		Algorithm:         run.Algorithm,
		Budget:            run.Budget,
		TotalExperiments:  len(run.Experiments),
		FailedExperiments: run.FailedCount(),
		StartedAt:         run.StartedAt,
		EndedAt:           run.EndedAt,
	}
	jr.TotalDurationSec = jr.EndedAt.Sub(jr.StartedAt).Seconds()
	if best, ok := run.BestEnergyDensity(); ok {
		jr.BestEnergyDensity = &best
		g := run.BestRun.Geometry
		jr.BestGeometry = &g
	}
	return jr
}
