package config

import (
	"fmt"
	"io/fs"

	"github.com/BurntSushi/toml"
	"github.com/spachava753/cellopt/internal/models"
	"github.com/spachava753/cellopt/internal/util"
)

// DefaultSimulatorCommand runs BattMo's JSON entry point through Octave.
const DefaultSimulatorCommand = `octave --no-gui --quiet --eval "run('startupBattMo.m'); runJsonFunction({'{{.Reference}}', '{{.Input}}'}, '{{.Output}}', true)"`

// DefaultSimulatorConfig returns a SimulatorConfig with default values.
func DefaultSimulatorConfig() models.SimulatorConfig {
	return models.SimulatorConfig{
		Version: "1.0",
		Simulator: models.SimulatorSection{
			Command:        DefaultSimulatorCommand,
			ReferenceInput: "ParameterData/BatteryCellParameters/LithiumIonBatteryCell/lithium_ion_battery_nmc_graphite.json",
			ArtifactsDir:   "Examples",
			TimeoutSec:     1800.0,
		},
		Env: models.EnvironmentConfig{
			BuildTimeoutSec: 600.0,
			CPUs:            1,
			MemoryMB:        4096, // 4G
		},
	}
}

// LoadSimulatorConfig loads and parses a simulator.toml file from the given filesystem.
func LoadSimulatorConfig(fsys fs.FS) (models.SimulatorConfig, error) {
	cfg := DefaultSimulatorConfig()

	data, err := fs.ReadFile(fsys, "simulator.toml")
	if err != nil {
		return cfg, fmt.Errorf("reading simulator.toml: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parsing simulator.toml: %w", err)
	}

	// Handle legacy 'memory' field if 'memory_mb' is not explicitly set
	if !md.IsDefined("environment", "memory_mb") && md.IsDefined("environment", "memory") {
		mb, err := util.ParseMemory(cfg.Env.Memory)
		if err != nil {
			return cfg, fmt.Errorf("parsing memory %q: %w", cfg.Env.Memory, err)
		}
		cfg.Env.MemoryMB = mb
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown keys in simulator.toml: %v", undecoded)
	}

	if cfg.Simulator.Command == "" {
		return cfg, fmt.Errorf("simulator.command must not be empty")
	}
	if cfg.Simulator.TimeoutSec < 0 {
		return cfg, fmt.Errorf("simulator.timeout_sec must not be negative")
	}

	return cfg, nil
}
