package config

import (
	"fmt"
	"os"

	"github.com/spachava753/cellopt/internal/models"
	"gopkg.in/yaml.v3"
)

// DefaultJobConfig returns a JobConfig with default values.
func DefaultJobConfig() models.JobConfig {
	return models.JobConfig{
		JobsDir:       "jobs",
		LogLevel:      "info",
		LogFormat:     "text",
		Request:       models.DefaultOptimizationRequest(),
		SimulatorPath: "simulator",
		Optimizer: models.OptimizerConfig{
			Type:              "http",
			APIKeySecret:      "atinary-api-key",
			GroupID:           "onterface",
			AccountType:       "academic",
			RequestsPerSecond: 2,
			SuggestionRetry: models.RetryConfig{
				MaxRetries: 6,
				DelayMs:    30000,
			},
		},
		Environment: models.JobEnvironmentConfig{
			Type: "local",
		},
		FailurePolicy: models.FailureAbort,
		Parallelism:   1,
		Archive: models.ArchiveConfig{
			Type:        "none",
			Creator:     "Onterface Bot",
			Affiliation: "Onterface",
		},
	}
}

// LoadJobConfig loads and parses a job.yaml file.
func LoadJobConfig(path string) (models.JobConfig, error) {
	cfg := DefaultJobConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading job config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing job config: %w", err)
	}

	// Apply defaults for missing values
	def := DefaultJobConfig()
	if cfg.JobsDir == "" {
		cfg.JobsDir = def.JobsDir
	}
	if cfg.Request.Algorithm == "" {
		cfg.Request.Algorithm = def.Request.Algorithm
	}
	if cfg.Optimizer.Type == "" {
		cfg.Optimizer.Type = def.Optimizer.Type
	}
	if cfg.Optimizer.SuggestionRetry.MaxRetries == 0 {
		cfg.Optimizer.SuggestionRetry.MaxRetries = def.Optimizer.SuggestionRetry.MaxRetries
	}
	if cfg.Environment.Type == "" {
		cfg.Environment.Type = def.Environment.Type
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = models.FailureAbort
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.Archive.Type == "" {
		cfg.Archive.Type = "none"
	}

	if err := ValidateJobConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ValidateJobConfig checks the enumerated fields of a job config.
// Optimization request bounds are checked by the optimizer config.
func ValidateJobConfig(cfg models.JobConfig) error {
	switch cfg.Optimizer.Type {
	case "http", "fake":
	default:
		return &models.ValidationError{Field: "optimizer.type", Message: fmt.Sprintf("unsupported optimizer %q", cfg.Optimizer.Type)}
	}
	if cfg.Optimizer.Type == "http" && cfg.Optimizer.BaseURL == "" {
		return &models.ValidationError{Field: "optimizer.base_url", Message: "required for the http optimizer"}
	}
	if cfg.Optimizer.SuggestionRetry.MaxRetries < 1 {
		return &models.ValidationError{Field: "optimizer.suggestion_retry.max_retries", Message: "must be at least 1"}
	}
	if cfg.Optimizer.SuggestionRetry.DelayMs < 0 {
		return &models.ValidationError{Field: "optimizer.suggestion_retry.delay_ms", Message: "must not be negative"}
	}

	switch cfg.Environment.Type {
	case "local", "docker", "modal":
	default:
		return &models.ValidationError{Field: "environment.type", Message: fmt.Sprintf("unsupported environment %q", cfg.Environment.Type)}
	}

	switch cfg.FailurePolicy {
	case models.FailureAbort, models.FailureSkip, models.FailureSentinel:
	default:
		return &models.ValidationError{Field: "failure_policy", Message: fmt.Sprintf("unknown policy %q", cfg.FailurePolicy)}
	}

	switch cfg.Archive.Type {
	case "none", "zenodo", "bigmap":
	default:
		return &models.ValidationError{Field: "archive.type", Message: fmt.Sprintf("unsupported archive %q", cfg.Archive.Type)}
	}
	if cfg.Archive.Type != "none" && !cfg.EntityStore.Enabled() {
		return &models.ValidationError{Field: "archive", Message: "archive upload requires an entity_store"}
	}

	return nil
}
