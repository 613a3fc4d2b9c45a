package simulation

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/spachava753/cellopt/internal/config"
	"github.com/spachava753/cellopt/internal/environment"
	"github.com/spachava753/cellopt/internal/models"
)

type fakeEnv struct{}

func (fakeEnv) ID() string                                          { return "fake" }
func (fakeEnv) CopyTo(ctx context.Context, src, dst string) error   { return nil }
func (fakeEnv) CopyFrom(ctx context.Context, src, dst string) error { return nil }
func (fakeEnv) Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts environment.ExecOptions) (int, error) {
	return 0, nil
}
func (fakeEnv) Destroy(ctx context.Context) error { return nil }
func (fakeEnv) Cost() float64                     { return 0 }

type fakeProvider struct {
	builds  []environment.BuildImageOptions
	created []environment.CreateEnvironmentOptions
}

func (p *fakeProvider) Name() string { return "docker" }

func (p *fakeProvider) BuildImage(ctx context.Context, opts environment.BuildImageOptions) (string, error) {
	p.builds = append(p.builds, opts)
	return opts.Tag, nil
}

func (p *fakeProvider) CreateEnvironment(ctx context.Context, opts environment.CreateEnvironmentOptions) (environment.Environment, error) {
	p.created = append(p.created, opts)
	return fakeEnv{}, nil
}

func testSimulator(image string, withDockerfile bool) *models.Simulator {
	cfg := config.DefaultSimulatorConfig()
	cfg.Simulator.WorkDir = "/root/flows/BattMo"
	if image != "" {
		cfg.Env.DockerImage = &image
	}
	fsys := fstest.MapFS{}
	if withDockerfile {
		fsys["environment/Dockerfile"] = &fstest.MapFile{Data: []byte("FROM gnuoctave/octave:8.4.0\n")}
	}
	return &models.Simulator{Name: "BattMo", Path: "/sims/battmo", FS: fsys, Config: cfg}
}

func TestSetupImageResolution(t *testing.T) {
	tests := []struct {
		name       string
		image      string
		dockerfile bool
		force      bool
		wantBuild  bool
		wantErr    bool
	}{
		{name: "prebuilt image", image: "battmo:latest", wantBuild: false},
		{name: "prebuilt image ignores dockerfile", image: "battmo:latest", dockerfile: true, wantBuild: false},
		{name: "force build with dockerfile", image: "battmo:latest", dockerfile: true, force: true, wantBuild: true},
		{name: "dockerfile only", dockerfile: true, wantBuild: true},
		{name: "nothing to run", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{}
			runner, err := Setup(context.Background(), p, testSimulator(tt.image, tt.dockerfile), SetupOptions{
				ForceBuild: tt.force,
				StagingDir: t.TempDir(),
			})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Setup: %v", err)
			}

			if got := len(p.builds) == 1; got != tt.wantBuild {
				t.Fatalf("built = %v, want %v", got, tt.wantBuild)
			}
			created := p.created[0]
			if tt.wantBuild {
				if !strings.HasPrefix(created.ImageRef, "cellopt-battmo:") {
					t.Errorf("unexpected built tag %q", created.ImageRef)
				}
				if p.builds[0].ContextDir != filepath.Join("/sims/battmo", "environment") {
					t.Errorf("unexpected context dir %q", p.builds[0].ContextDir)
				}
			} else if created.ImageRef != tt.image {
				t.Errorf("ImageRef = %q, want %q", created.ImageRef, tt.image)
			}
			if created.WorkDir != "/root/flows/BattMo" || created.MemoryMB != 4096 {
				t.Errorf("unexpected create options %+v", created)
			}
			if runner.Environment().ID() != "fake" {
				t.Error("runner not bound to created environment")
			}
		})
	}
}

func TestSetupRemoteStagingDefaultsToTempDir(t *testing.T) {
	runner, err := Setup(context.Background(), &fakeProvider{}, testSimulator("img", false), SetupOptions{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(runner.stagingDir) })

	if !strings.Contains(filepath.Base(runner.stagingDir), "cellopt-artifacts-") {
		t.Errorf("unexpected staging dir %q", runner.stagingDir)
	}
}
