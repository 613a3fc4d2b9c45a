package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spachava753/cellopt/internal/environment"
)

// Provider runs the simulator directly on the host.
type Provider struct{}

// NewProvider creates a new local provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "local"
}

// BuildImage is a no-op; the host already has the simulator installed.
func (p *Provider) BuildImage(ctx context.Context, opts environment.BuildImageOptions) (string, error) {
	return "", nil
}

// CreateEnvironment returns an environment rooted at opts.WorkDir.
func (p *Provider) CreateEnvironment(ctx context.Context, opts environment.CreateEnvironmentOptions) (environment.Environment, error) {
	workDir := opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		workDir = wd
	}
	info, err := os.Stat(workDir)
	if err != nil {
		return nil, fmt.Errorf("stat work dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("work dir %s is not a directory", workDir)
	}

	id := opts.Name
	if id == "" {
		id = fmt.Sprintf("local-%d", time.Now().UnixNano())
	}

	return &LocalEnvironment{
		id:      id,
		workDir: workDir,
		env:     opts.Env,
	}, nil
}

// LocalEnvironment executes commands as host processes.
type LocalEnvironment struct {
	id      string
	workDir string
	env     map[string]string
}

// ID returns the environment ID.
func (e *LocalEnvironment) ID() string {
	return e.id
}

// CopyTo copies a host file into the environment's filesystem, which is
// the host filesystem. Relative destinations resolve against the work dir.
func (e *LocalEnvironment) CopyTo(ctx context.Context, src, dst string) error {
	return copyFile(src, e.resolve(dst))
}

// CopyFrom copies a file out of the environment.
func (e *LocalEnvironment) CopyFrom(ctx context.Context, src, dst string) error {
	return copyFile(e.resolve(src), dst)
}

func (e *LocalEnvironment) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.workDir, p)
}

// Exec runs cmd with bash in the work dir.
func (e *LocalEnvironment) Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts environment.ExecOptions) (int, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(ctx, "bash", "-c", cmd)
	execCmd.Dir = e.workDir
	if opts.WorkDir != "" {
		execCmd.Dir = e.resolve(opts.WorkDir)
	}
	execCmd.Env = os.Environ()
	for k, v := range e.env {
		execCmd.Env = append(execCmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range opts.Env {
		execCmd.Env = append(execCmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr

	slog.Debug("executing local command", "dir", execCmd.Dir, "command", cmd)

	err := execCmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return -1, environment.ErrTimedOut
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("executing command: %w", err)
	}

	return 0, nil
}

// Destroy is a no-op for the host.
func (e *LocalEnvironment) Destroy(ctx context.Context) error {
	return nil
}

// Cost returns 0; local runs are free.
func (e *LocalEnvironment) Cost() float64 {
	return 0
}

func copyFile(src, dst string) error {
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return err
	}
	if srcAbs == dstAbs {
		return nil
	}

	data, err := os.ReadFile(srcAbs)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(dstAbs, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}
