package simulation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spachava753/cellopt/internal/environment"
	"github.com/spachava753/cellopt/internal/models"
)

// SetupOptions configures environment creation for a simulator.
type SetupOptions struct {
	Name       string
	ForceBuild bool
	// StagingDir holds input and output artifacts on the host. For the local
	// provider it defaults to the simulator's artifacts dir.
	StagingDir string
}

// Setup builds (or reuses) the simulator image, creates an environment for it
// and returns a Runner bound to that environment.
func Setup(ctx context.Context, provider environment.Provider, sim *models.Simulator, opts SetupOptions) (*Runner, error) {
	local := provider.Name() == "local"

	workDir := sim.Config.Simulator.WorkDir
	if local {
		switch {
		case workDir == "":
			workDir = sim.Path
		case !filepath.IsAbs(workDir):
			workDir = filepath.Join(sim.Path, workDir)
		}
	}

	var imageRef string
	if !local {
		ref, err := resolveImage(ctx, provider, sim, opts.ForceBuild)
		if err != nil {
			return nil, fmt.Errorf("building image: %w", err)
		}
		imageRef = ref
	}

	env, err := provider.CreateEnvironment(ctx, environment.CreateEnvironmentOptions{
		Name:     opts.Name,
		ImageRef: imageRef,
		WorkDir:  workDir,
		CPUs:     sim.Config.Env.CPUs,
		MemoryMB: sim.Config.Env.MemoryMB,
		Env:      sim.Config.Env.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("creating environment: %w", err)
	}

	stagingDir := opts.StagingDir
	if stagingDir == "" {
		if local {
			stagingDir = filepath.Join(workDir, sim.Config.Simulator.ArtifactsDir)
		} else {
			stagingDir, err = os.MkdirTemp("", "cellopt-artifacts-*")
			if err != nil {
				env.Destroy(context.Background())
				return nil, fmt.Errorf("creating staging dir: %w", err)
			}
		}
	}

	runner, err := NewRunner(sim, env, stagingDir)
	if err != nil {
		env.Destroy(context.Background())
		return nil, err
	}
	return runner, nil
}

func resolveImage(ctx context.Context, provider environment.Provider, sim *models.Simulator, forceBuild bool) (string, error) {
	image := sim.Config.Env.DockerImage
	hasImage := image != nil && *image != ""

	if hasImage && !(forceBuild && sim.HasBuildContext()) {
		return *image, nil
	}
	if !sim.HasBuildContext() {
		return "", fmt.Errorf("simulator %s has no docker_image and no environment/Dockerfile", sim.Name)
	}

	tag := fmt.Sprintf("cellopt-%s:%d", strings.ToLower(sim.Name), time.Now().UnixNano())
	timeout := time.Duration(sim.Config.Env.BuildTimeoutSec * float64(time.Second))
	return provider.BuildImage(ctx, environment.BuildImageOptions{
		ContextDir: filepath.Join(sim.Path, "environment"),
		Tag:        tag,
		Timeout:    timeout,
		NoCache:    forceBuild,
	})
}
