package simulation

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spachava753/cellopt/internal/config"
	"github.com/spachava753/cellopt/internal/models"
)

// LoadSimulator loads a simulator directory containing simulator.toml.
func LoadSimulator(simPath string) (*models.Simulator, error) {
	absPath, err := filepath.Abs(simPath)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	fsys := os.DirFS(absPath)

	cfg, err := config.LoadSimulatorConfig(fsys)
	if err != nil {
		return nil, fmt.Errorf("loading simulator config: %w", err)
	}

	var gitCommitID *string
	if sha := resolveGitSHA(absPath); sha != "" {
		gitCommitID = &sha
	}

	return &models.Simulator{
		Name:        filepath.Base(absPath),
		Path:        absPath,
		FS:          fsys,
		Config:      cfg,
		GitCommitID: gitCommitID,
	}, nil
}

// resolveGitSHA attempts to get the current HEAD commit SHA.
func resolveGitSHA(path string) string {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = path
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
