package simulation

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spachava753/cellopt/internal/models"
)

// DefaultCacheDir is where simulator repositories are cloned when the source
// does not name a cache dir.
func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locating user cache dir: %w", err)
	}
	return filepath.Join(dir, "cellopt", "simulators"), nil
}

// Fetch clones src into its cache dir and returns the simulator directory
// inside the clone. A clone of the same URL and commit is reused. Without a
// commit the repository is shallow-cloned at HEAD and refreshed on every
// call.
func Fetch(ctx context.Context, src models.SimulatorSource) (string, error) {
	cacheDir := src.CacheDir
	if cacheDir == "" {
		var err error
		if cacheDir, err = DefaultCacheDir(); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}

	clone := filepath.Join(cacheDir, cloneDirName(src))
	if err := syncClone(ctx, src, clone); err != nil {
		return "", err
	}

	simDir := clone
	if src.Path != "" {
		simDir = filepath.Join(clone, filepath.FromSlash(src.Path))
	}
	if _, err := os.Stat(filepath.Join(simDir, "simulator.toml")); err != nil {
		return "", fmt.Errorf("%s has no simulator.toml at %q: %w", src.GitURL, src.Path, err)
	}
	return simDir, nil
}

func syncClone(ctx context.Context, src models.SimulatorSource, clone string) error {
	_, err := os.Stat(clone)
	exists := err == nil

	switch {
	case exists && src.GitCommitID != "":
		slog.Debug("reusing simulator clone", "url", src.GitURL, "commit", src.GitCommitID, "path", clone)
		return nil
	case exists:
		// HEAD moves, so a cached HEAD clone is refreshed. A failed refresh
		// falls back to the stale clone.
		if err := git(ctx, clone, "pull", "--ff-only", "--depth", "1"); err != nil {
			slog.Warn("refreshing simulator clone failed, using cached copy", "url", src.GitURL, "error", err)
		}
		return nil
	}

	tmp, err := os.MkdirTemp(filepath.Dir(clone), ".clone-*")
	if err != nil {
		return fmt.Errorf("creating clone dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if src.GitCommitID == "" {
		slog.Info("cloning simulator", "url", src.GitURL)
		if err := git(ctx, "", "clone", "--depth", "1", src.GitURL, tmp); err != nil {
			return err
		}
	} else {
		slog.Info("cloning simulator", "url", src.GitURL, "commit", src.GitCommitID)
		if err := git(ctx, "", "clone", src.GitURL, tmp); err != nil {
			return err
		}
		if err := git(ctx, tmp, "checkout", "--quiet", src.GitCommitID); err != nil {
			return err
		}
	}

	if err := os.Rename(tmp, clone); err != nil {
		return fmt.Errorf("moving clone into place: %w", err)
	}
	return nil
}

func git(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// cloneDirName is unique per URL and commit and keeps the repository name
// for readability.
func cloneDirName(src models.SimulatorSource) string {
	h := sha256.Sum256([]byte(src.GitURL))

	commit := "HEAD"
	if src.GitCommitID != "" {
		commit = src.GitCommitID
		if len(commit) > 12 {
			commit = commit[:12]
		}
	}

	repo := filepath.Base(strings.TrimSuffix(strings.TrimRight(src.GitURL, "/"), ".git"))
	return fmt.Sprintf("%s-%x-%s", repo, h[:8], commit)
}
