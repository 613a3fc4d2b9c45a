package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spachava753/cellopt/internal/environment"
)

// Provider runs the simulator inside a long-lived Docker container.
type Provider struct{}

// NewProvider creates a new Docker provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "docker"
}

// BuildImage builds a Docker image from the given context directory.
func (p *Provider) BuildImage(ctx context.Context, opts environment.BuildImageOptions) (string, error) {
	args := []string{"build", "-t", opts.Tag}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	args = append(args, opts.ContextDir)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	slog.Debug("building docker image", "tag", opts.Tag, "context", opts.ContextDir)

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("building docker image: %w", err)
	}

	return opts.Tag, nil
}

// CreateEnvironment creates and starts a Docker container.
func (p *Provider) CreateEnvironment(ctx context.Context, opts environment.CreateEnvironmentOptions) (environment.Environment, error) {
	if opts.ImageRef == "" {
		return nil, fmt.Errorf("docker environment requires an image")
	}

	containerID := opts.Name
	if containerID == "" {
		containerID = fmt.Sprintf("cellopt-%d", time.Now().UnixNano())
	}

	args := createArgs(containerID, opts)

	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("creating docker container: %w: %s", err, stderr.String())
	}

	slog.Debug("docker container started", "container", containerID, "image", opts.ImageRef)

	return &Container{id: containerID, workDir: opts.WorkDir}, nil
}

// createArgs builds the `docker run` argument list.
func createArgs(containerID string, opts environment.CreateEnvironmentOptions) []string {
	args := []string{
		"run",
		"-d",
		"--name", containerID,
	}

	if opts.CPUs > 0 {
		args = append(args, "--cpus", strconv.Itoa(opts.CPUs))
	}
	if opts.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", opts.MemoryMB))
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}

	for k, v := range opts.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}

	args = append(args, opts.ImageRef)
	// Keep container running with sleep infinity
	args = append(args, "sleep", "infinity")
	return args
}

// Container is a running simulator container. Relative paths resolve
// against its work dir.
type Container struct {
	id      string
	workDir string
}

func (c *Container) ID() string {
	return c.id
}

func (c *Container) resolve(p string) string {
	if path.IsAbs(p) || c.workDir == "" {
		return p
	}
	return path.Join(c.workDir, p)
}

// docker runs one docker CLI call and folds its stderr into the error.
func docker(ctx context.Context, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (c *Container) CopyTo(ctx context.Context, src, dst string) error {
	dst = c.resolve(dst)
	if dir := path.Dir(dst); dir != "/" && dir != "." {
		if err := docker(ctx, "exec", c.id, "mkdir", "-p", dir); err != nil {
			return fmt.Errorf("creating %s in container: %w", dir, err)
		}
	}
	return docker(ctx, "cp", src, c.id+":"+dst)
}

func (c *Container) CopyFrom(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	return docker(ctx, "cp", c.id+":"+c.resolve(src), dst)
}

// Exec runs cmd through bash in the container. A non-zero exit is returned
// as the exit code with a nil error.
func (c *Container) Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts environment.ExecOptions) (int, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{"exec"}
	for k, v := range opts.Env {
		args = append(args, "-e", k+"="+v)
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", c.resolve(opts.WorkDir))
	}
	args = append(args, c.id, "bash", "-c", cmd)

	slog.Debug("docker exec", "container", c.id, "command", cmd)

	run := exec.CommandContext(ctx, "docker", args...)
	run.Stdout = stdout
	run.Stderr = stderr
	err := run.Run()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return -1, environment.ErrTimedOut
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, fmt.Errorf("docker exec: %w", err)
	}
}

// Destroy force-removes the container. A container that is already gone is
// not an error.
func (c *Container) Destroy(ctx context.Context) error {
	if err := docker(ctx, "rm", "-f", c.id); err != nil && !strings.Contains(err.Error(), "No such container") {
		return err
	}
	return nil
}

// Cost is always zero for a local Docker daemon.
func (c *Container) Cost() float64 {
	return 0
}
