package simulation

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spachava753/cellopt/internal/models"
)

func gitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) string {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-c", "user.name=cellopt", "-c", "user.email=cellopt@example.com"}, args...)...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
		return strings.TrimSpace(string(out))
	}
	run("init", "--quiet")
	return dir
}

func commitFile(t *testing.T, repo, name, content string) string {
	t.Helper()
	path := filepath.Join(repo, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{
		{"add", "."},
		{"-c", "user.name=cellopt", "-c", "user.email=cellopt@example.com", "commit", "--quiet", "-m", "update " + name},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	out, err := exec.Command("git", "-C", repo, "rev-parse", "HEAD").Output()
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(out))
}

func TestFetchPinnedCommit(t *testing.T) {
	repo := gitRepo(t)
	first := commitFile(t, repo, "battmo/simulator.toml", "[simulator]\ncommand = \"v1\"\n")
	commitFile(t, repo, "battmo/simulator.toml", "[simulator]\ncommand = \"v2\"\n")

	src := models.SimulatorSource{GitURL: repo, GitCommitID: first, Path: "battmo", CacheDir: t.TempDir()}
	dir, err := Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "simulator.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "v1") {
		t.Errorf("expected pinned content, got %q", data)
	}

	again, err := Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if again != dir {
		t.Errorf("clone not reused: %s != %s", again, dir)
	}
}

func TestFetchHeadRefreshes(t *testing.T) {
	repo := gitRepo(t)
	commitFile(t, repo, "simulator.toml", "[simulator]\ncommand = \"v1\"\n")

	// file:// makes git honour --depth for a local repository.
	src := models.SimulatorSource{GitURL: "file://" + repo, CacheDir: t.TempDir()}
	dir, err := Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	commitFile(t, repo, "simulator.toml", "[simulator]\ncommand = \"v2\"\n")
	if _, err := Fetch(context.Background(), src); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "simulator.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "v2") {
		t.Errorf("expected refreshed content, got %q", data)
	}
}

func TestFetchMissingSimulator(t *testing.T) {
	repo := gitRepo(t)
	commitFile(t, repo, "README.md", "BattMo\n")

	_, err := Fetch(context.Background(), models.SimulatorSource{GitURL: repo, CacheDir: t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "no simulator.toml") {
		t.Fatalf("expected missing simulator.toml error, got %v", err)
	}
}

func TestCloneDirName(t *testing.T) {
	pinned := cloneDirName(models.SimulatorSource{GitURL: "https://github.com/BattMoTeam/BattMo.git", GitCommitID: "abc123def4567890"})
	if !strings.HasPrefix(pinned, "BattMo-") || !strings.HasSuffix(pinned, "-abc123def456") {
		t.Errorf("unexpected pinned name %q", pinned)
	}

	head := cloneDirName(models.SimulatorSource{GitURL: "https://github.com/BattMoTeam/BattMo.git"})
	if !strings.HasSuffix(head, "-HEAD") {
		t.Errorf("unexpected HEAD name %q", head)
	}

	other := cloneDirName(models.SimulatorSource{GitURL: "https://gitlab.com/fork/BattMo.git"})
	if other == head {
		t.Error("different URLs share a clone dir")
	}
}
