package environment

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrTimedOut is returned by Exec when the command exceeds its timeout.
var ErrTimedOut = errors.New("command timed out")

// Environment is a place where the simulator can run: the local host,
// a container or a remote sandbox.
type Environment interface {
	// ID returns the unique identifier for this environment.
	ID() string

	// CopyTo copies a local file or directory into the environment.
	CopyTo(ctx context.Context, src, dst string) error

	// CopyFrom copies a file or directory from the environment to local path.
	CopyFrom(ctx context.Context, src, dst string) error

	// Exec executes a command in the environment, streaming stdout and stderr to the provided writers.
	// Returns the exit code or error on failure.
	Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts ExecOptions) (int, error)

	// Destroy removes the environment and cleans up all resources.
	Destroy(ctx context.Context) error

	// Cost returns the cost incurred by this environment.
	Cost() float64
}

// ExecOptions configures command execution.
type ExecOptions struct {
	Env     map[string]string
	Timeout time.Duration
	WorkDir string
}

// Provider is a factory for creating environments.
type Provider interface {
	// Name returns the provider name (e.g., "local", "docker", "modal").
	Name() string

	// BuildImage builds an image from the given context directory and
	// returns a reference usable in CreateEnvironmentOptions.ImageRef.
	BuildImage(ctx context.Context, opts BuildImageOptions) (string, error)

	// CreateEnvironment creates and starts a new environment.
	CreateEnvironment(ctx context.Context, opts CreateEnvironmentOptions) (Environment, error)
}

// BuildImageOptions configures image building.
type BuildImageOptions struct {
	ContextDir string
	Tag        string
	Timeout    time.Duration
	NoCache    bool
}

// CreateEnvironmentOptions configures environment creation.
type CreateEnvironmentOptions struct {
	Name     string
	ImageRef string
	WorkDir  string
	CPUs     int
	MemoryMB int
	Env      map[string]string
}
