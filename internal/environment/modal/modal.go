// Package modal runs the simulator in a Modal sandbox. Simulator images are
// either pulled from a registry or built from the simulator's Dockerfile.
package modal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/modal-labs/libmodal/modal-go"
	"github.com/spachava753/cellopt/internal/environment"
)

// MinImageBuilderVersion is the oldest Modal image builder that understands
// WORKDIR, which simulator Dockerfiles rely on.
const MinImageBuilderVersion = "2025.06"

const (
	defaultMemoryMiB = 4096
	sandboxLifetime  = 24 * time.Hour
)

// ProviderConfig holds the provider_config section of a job for
// environment type "modal".
type ProviderConfig struct {
	AppName string
	Regions []string
	Verbose bool
}

// ParseProviderConfig reads app_name, region or regions, and verbose.
func ParseProviderConfig(config map[string]any) ProviderConfig {
	var pc ProviderConfig
	if v, ok := config["app_name"].(string); ok {
		pc.AppName = v
	}
	if v, ok := config["region"].(string); ok {
		pc.Regions = []string{v}
	}
	if v, ok := config["regions"].([]any); ok {
		for _, r := range v {
			if s, ok := r.(string); ok {
				pc.Regions = append(pc.Regions, s)
			}
		}
	}
	if v, ok := config["verbose"].(bool); ok {
		pc.Verbose = v
	}
	return pc
}

// Provider creates one sandbox per simulator setup.
type Provider struct {
	client *modal.Client
	config ProviderConfig
}

// NewProvider checks the local Modal configuration and connects a client.
func NewProvider(config ProviderConfig) (*Provider, error) {
	if err := checkImageBuilderVersionWith(defaultConfigReader); err != nil {
		return nil, err
	}
	client, err := modal.NewClient()
	if err != nil {
		return nil, fmt.Errorf("creating modal client: %w", err)
	}
	return &Provider{client: client, config: config}, nil
}

// ConfigReader returns the output of `modal config show`.
type ConfigReader interface {
	ReadConfig() ([]byte, error)
}

type cliConfigReader struct{}

func (cliConfigReader) ReadConfig() ([]byte, error) {
	bin, err := exec.LookPath("modal")
	if err != nil {
		return nil, fmt.Errorf("modal CLI not found: %w", err)
	}
	return exec.Command(bin, "config", "show").Output()
}

var defaultConfigReader ConfigReader = cliConfigReader{}

func checkImageBuilderVersionWith(reader ConfigReader) error {
	output, err := reader.ReadConfig()
	if err != nil {
		return fmt.Errorf("failed to get modal config: %w", err)
	}

	var cfg struct {
		ImageBuilderVersion *string `json:"image_builder_version"`
	}
	if err := json.Unmarshal(output, &cfg); err != nil {
		return fmt.Errorf("failed to parse modal config: %w", err)
	}

	hint := fmt.Sprintf("run: modal config set image_builder_version %s", MinImageBuilderVersion)
	if cfg.ImageBuilderVersion == nil || *cfg.ImageBuilderVersion == "" {
		return fmt.Errorf("modal image_builder_version is not set; %s", hint)
	}
	// Versions are YYYY.MM, so string order is release order.
	if *cfg.ImageBuilderVersion < MinImageBuilderVersion {
		return fmt.Errorf("modal image_builder_version %q is too old; %s", *cfg.ImageBuilderVersion, hint)
	}
	return nil
}

func (p *Provider) Name() string {
	return "modal"
}

// BuildImage only checks that the context has a Dockerfile. The image is
// built in CreateEnvironment because Modal builds are scoped to an app, and
// the returned reference is the context directory itself.
func (p *Provider) BuildImage(ctx context.Context, opts environment.BuildImageOptions) (string, error) {
	if _, err := os.Stat(filepath.Join(opts.ContextDir, "Dockerfile")); err != nil {
		return "", fmt.Errorf("simulator Dockerfile: %w", err)
	}
	return opts.ContextDir, nil
}

func (p *Provider) CreateEnvironment(ctx context.Context, opts environment.CreateEnvironmentOptions) (environment.Environment, error) {
	appName := opts.Name
	if appName == "" {
		appName = p.config.AppName
	}
	if appName == "" {
		appName = fmt.Sprintf("cellopt-%d", time.Now().UnixNano())
	}

	app, err := p.client.Apps.FromName(ctx, appName, &modal.AppFromNameParams{CreateIfMissing: true})
	if err != nil {
		return nil, fmt.Errorf("looking up modal app %s: %w", appName, err)
	}

	image, err := p.image(ctx, app, opts.ImageRef)
	if err != nil {
		return nil, err
	}

	cpus := max(opts.CPUs, 1)
	memory := opts.MemoryMB
	if memory <= 0 {
		memory = defaultMemoryMiB
	}

	slog.Debug("creating modal sandbox", "app", appName, "cpus", cpus, "memory_mib", memory, "regions", p.config.Regions)

	sb, err := p.client.Sandboxes.Create(ctx, app, image, &modal.SandboxCreateParams{
		CPU:       float64(cpus),
		MemoryMiB: memory,
		Env:       opts.Env,
		Timeout:   sandboxLifetime,
		Verbose:   p.config.Verbose,
		Regions:   p.config.Regions,
	})
	if err != nil {
		return nil, fmt.Errorf("creating modal sandbox: %w", err)
	}

	return &Sandbox{
		sandbox: sb,
		appName: appName,
		workDir: opts.WorkDir,
		started: time.Now(),
		cpus:    cpus,
		memory:  memory,
	}, nil
}

// image resolves ref, which is either a registry reference or a directory
// returned by BuildImage.
func (p *Provider) image(ctx context.Context, app *modal.App, ref string) (*modal.Image, error) {
	info, err := os.Stat(ref)
	if err != nil || !info.IsDir() {
		return p.client.Images.FromRegistry(ref, nil), nil
	}

	content, err := os.ReadFile(filepath.Join(ref, "Dockerfile"))
	if err != nil {
		return nil, fmt.Errorf("reading simulator Dockerfile: %w", err)
	}
	base, commands, err := parseDockerfile(string(content))
	if err != nil {
		return nil, fmt.Errorf("parsing simulator Dockerfile: %w", err)
	}

	slog.Info("building simulator image on modal", "base", base, "steps", len(commands))

	image := p.client.Images.FromRegistry(base, nil)
	if len(commands) > 0 {
		image = image.DockerfileCommands(commands, nil)
	}
	built, err := image.Build(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("building simulator image: %w", err)
	}
	return built, nil
}

// parseDockerfile returns the last FROM image and the instructions Modal can
// replay on top of it. Line continuations are joined. COPY and ADD are
// rejected since modal-go has no build context to copy from.
func parseDockerfile(content string) (string, []string, error) {
	var (
		base     string
		commands []string
		pending  strings.Builder
	)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cont := strings.HasSuffix(line, "\\")
		line = strings.TrimSpace(strings.TrimSuffix(line, "\\"))

		if pending.Len() > 0 {
			pending.WriteString(" ")
			pending.WriteString(line)
			if !cont {
				commands = append(commands, pending.String())
				pending.Reset()
			}
			continue
		}

		instruction, _, _ := strings.Cut(line, " ")
		switch strings.ToUpper(instruction) {
		case "FROM":
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return "", nil, fmt.Errorf("FROM without an image")
			}
			base = fields[1]
		case "COPY", "ADD":
			return "", nil, fmt.Errorf("COPY and ADD instructions are not supported: %s", line)
		case "RUN", "WORKDIR", "ENV", "USER", "EXPOSE", "LABEL", "ARG", "SHELL":
			if cont {
				pending.WriteString(line)
			} else {
				commands = append(commands, line)
			}
		default:
			slog.Debug("ignoring dockerfile instruction", "instruction", instruction)
		}
	}

	if pending.Len() > 0 {
		commands = append(commands, pending.String())
	}
	if base == "" {
		return "", nil, fmt.Errorf("no FROM instruction found in Dockerfile")
	}
	return base, commands, nil
}

// Sandbox is a running Modal sandbox. The simulator only moves single files
// in and out, so copies are file-to-file.
type Sandbox struct {
	sandbox *modal.Sandbox
	appName string
	workDir string
	started time.Time
	cpus    int
	memory  int
}

func (s *Sandbox) ID() string {
	return s.sandbox.SandboxID
}

func (s *Sandbox) remote(p string) string {
	if path.IsAbs(p) || s.workDir == "" {
		return p
	}
	return path.Join(s.workDir, p)
}

func (s *Sandbox) CopyTo(ctx context.Context, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	dst = s.remote(dst)

	code, err := s.run(ctx, []string{"mkdir", "-p", path.Dir(dst)}, nil, nil, nil)
	if err != nil {
		return fmt.Errorf("creating %s in sandbox: %w", path.Dir(dst), err)
	}
	if code != 0 {
		return fmt.Errorf("creating %s in sandbox: mkdir exited with code %d", path.Dir(dst), code)
	}

	f, err := s.sandbox.Open(ctx, dst, "w")
	if err != nil {
		return fmt.Errorf("opening %s in sandbox: %w", dst, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s in sandbox: %w", dst, err)
	}
	if err := f.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing %s in sandbox: %w", dst, err)
	}
	return f.Close()
}

func (s *Sandbox) CopyFrom(ctx context.Context, src, dst string) error {
	src = s.remote(src)
	f, err := s.sandbox.Open(ctx, src, "r")
	if err != nil {
		return fmt.Errorf("opening %s in sandbox: %w", src, err)
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("reading %s in sandbox: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	return os.WriteFile(dst, data, 0644)
}

func (s *Sandbox) Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts environment.ExecOptions) (int, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	params := &modal.SandboxExecParams{Env: opts.Env, Timeout: opts.Timeout, Workdir: opts.WorkDir}
	if params.Workdir == "" {
		params.Workdir = s.workDir
	}

	code, err := s.run(ctx, []string{"bash", "-c", cmd}, stdout, stderr, params)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return -1, environment.ErrTimedOut
	}
	return code, err
}

func (s *Sandbox) run(ctx context.Context, argv []string, stdout, stderr io.Writer, params *modal.SandboxExecParams) (int, error) {
	if params == nil {
		params = &modal.SandboxExecParams{}
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	proc, err := s.sandbox.Exec(ctx, argv, params)
	if err != nil {
		return -1, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	done := make(chan struct{})
	go func() {
		io.Copy(stderr, proc.Stderr)
		close(done)
	}()
	io.Copy(stdout, proc.Stdout)
	<-done

	code, err := proc.Wait(ctx)
	if err != nil {
		return -1, fmt.Errorf("waiting for %s: %w", argv[0], err)
	}
	return code, nil
}

// Destroy terminates the sandbox and stops its app. modal-go has no app
// stop call, so the CLI is used for that.
func (s *Sandbox) Destroy(ctx context.Context) error {
	slog.Debug("destroying modal sandbox", "sandbox_id", s.sandbox.SandboxID, "app", s.appName)

	if err := s.sandbox.Terminate(ctx); err != nil && !isGone(err.Error()) {
		return fmt.Errorf("terminating sandbox: %w", err)
	}

	bin, err := exec.LookPath("modal")
	if err != nil {
		return fmt.Errorf("modal CLI is required to stop app %s: %w", s.appName, err)
	}
	out, err := exec.CommandContext(ctx, bin, "app", "stop", s.appName).CombinedOutput()
	if err != nil && !isGone(string(out)) {
		return fmt.Errorf("stopping modal app %s: %s", s.appName, strings.TrimSpace(string(out)))
	}
	return nil
}

func isGone(msg string) bool {
	for _, s := range []string{"already terminated", "already stopped", "not found", "Could not find"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Cost estimates spend from Modal's published per-second CPU and memory
// rates.
func (s *Sandbox) Cost() float64 {
	secs := time.Since(s.started).Seconds()
	return secs*float64(s.cpus)*0.000463 + secs*float64(s.memory)/1024*0.000058
}
