package models

import "io/fs"

// SimulatorConfig represents the parsed simulator.toml descriptor.
type SimulatorConfig struct {
	Version   string            `toml:"version"`
	Metadata  map[string]any    `toml:"metadata,omitempty"`
	Simulator SimulatorSection  `toml:"simulator"`
	Env       EnvironmentConfig `toml:"environment"`
}

type SimulatorSection struct {
	// Command is a text/template rendered with .Input, .Output, .Reference and .UUID.
	Command        string  `toml:"command"`
	ReferenceInput string  `toml:"reference_input"`
	WorkDir        string  `toml:"work_dir"`
	ArtifactsDir   string  `toml:"artifacts_dir"`
	TimeoutSec     float64 `toml:"timeout_sec"` // default: 1800.0
}

type EnvironmentConfig struct {
	BuildTimeoutSec float64           `toml:"build_timeout_sec"` // default: 600.0
	DockerImage     *string           `toml:"docker_image,omitempty"`
	CPUs            int               `toml:"cpus"`             // default: 1
	Memory          string            `toml:"memory,omitempty"` // Deprecated: use MemoryMB
	MemoryMB        int               `toml:"memory_mb,omitempty"`
	Env             map[string]string `toml:"env,omitempty"`
}

// Simulator is a loaded simulator directory ready to be set up.
type Simulator struct {
	Name        string
	Path        string // filesystem path to simulator directory
	FS          fs.FS  // filesystem rooted at simulator directory
	Config      SimulatorConfig
	GitCommitID *string // resolved git SHA, nil if not in git repo
}

// HasBuildContext reports whether the directory ships an environment/Dockerfile.
func (s *Simulator) HasBuildContext() bool {
	if s.FS == nil {
		return false
	}
	_, err := fs.Stat(s.FS, "environment/Dockerfile")
	return err == nil
}
