// Package simulation runs the external cell simulator for one geometry at a
// time and parses its output.
package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/spachava753/cellopt/internal/environment"
	"github.com/spachava753/cellopt/internal/models"
)

// Runner executes simulation requests inside one environment. Input and
// output artifacts are named after the request UUID, so requests never
// share files.
type Runner struct {
	sim        *models.Simulator
	env        environment.Environment
	stagingDir string
	command    *template.Template
	timeout    time.Duration
	envVars    map[string]string
}

type commandData struct {
	Input     string
	Output    string
	Reference string
	UUID      string
}

// NewRunner creates a runner. stagingDir is the host directory where input
// files are written and outputs are copied back to.
func NewRunner(sim *models.Simulator, env environment.Environment, stagingDir string) (*Runner, error) {
	tmpl, err := template.New("command").Option("missingkey=error").Parse(sim.Config.Simulator.Command)
	if err != nil {
		return nil, fmt.Errorf("parsing simulator command: %w", err)
	}
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}

	return &Runner{
		sim:        sim,
		env:        env,
		stagingDir: stagingDir,
		command:    tmpl,
		timeout:    time.Duration(sim.Config.Simulator.TimeoutSec * float64(time.Second)),
		envVars:    sim.Config.Env.Env,
	}, nil
}

// Environment returns the environment the runner executes in.
func (r *Runner) Environment() environment.Environment {
	return r.env
}

// Close destroys the underlying environment.
func (r *Runner) Close(ctx context.Context) error {
	return r.env.Destroy(ctx)
}

// Run writes the request geometry, invokes the simulator and returns the last
// row of its output. Any failure of the simulator itself is reported as a
// *models.SimulationFailure.
func (r *Runner) Run(ctx context.Context, req models.SimulationRequest) (*models.SimulationResult, error) {
	id := req.UUID.String()
	fail := func(reason string, err error) error {
		return &models.SimulationFailure{UUID: req.UUID, Reason: reason, Err: err}
	}

	artifacts := r.sim.Config.Simulator.ArtifactsDir
	inputName := id + ".json"
	outputName := id + ".csv"
	inputRemote := path.Join(artifacts, inputName)
	outputRemote := path.Join(artifacts, outputName)
	inputHost := filepath.Join(r.stagingDir, inputName)
	outputHost := filepath.Join(r.stagingDir, outputName)

	geometryJSON, err := json.Marshal(req.Geometry)
	if err != nil {
		return nil, fail("encoding geometry", err)
	}
	if err := os.WriteFile(inputHost, geometryJSON, 0644); err != nil {
		return nil, fail("writing input", err)
	}
	if err := r.env.CopyTo(ctx, inputHost, inputRemote); err != nil {
		return nil, fail("staging input", err)
	}

	var cmd bytes.Buffer
	if err := r.command.Execute(&cmd, commandData{
		Input:     inputRemote,
		Output:    outputRemote,
		Reference: r.sim.Config.Simulator.ReferenceInput,
		UUID:      id,
	}); err != nil {
		return nil, fail("rendering command", err)
	}

	slog.Debug("running simulation", "uuid", id, "environment", r.env.ID(), "command", cmd.String())

	var stdout, stderr bytes.Buffer
	exitCode, execErr := r.env.Exec(ctx, cmd.String(), &stdout, &stderr, environment.ExecOptions{
		Env:     r.envVars,
		Timeout: r.timeout,
	})

	os.WriteFile(filepath.Join(r.stagingDir, id+".stdout.txt"), stdout.Bytes(), 0644)
	os.WriteFile(filepath.Join(r.stagingDir, id+".stderr.txt"), stderr.Bytes(), 0644)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("simulation %s: %w", id, ctxErr)
	}
	if execErr != nil {
		if errors.Is(execErr, environment.ErrTimedOut) {
			return nil, fail(fmt.Sprintf("timed out after %s", r.timeout), execErr)
		}
		return nil, fail("executing simulator", execErr)
	}
	if exitCode != 0 {
		return nil, fail(fmt.Sprintf("simulator exited with code %d", exitCode), tail(stderr.String()))
	}

	if err := r.env.CopyFrom(ctx, outputRemote, outputHost); err != nil {
		return nil, fail("missing output", err)
	}
	f, err := os.Open(outputHost)
	if err != nil {
		return nil, fail("missing output", err)
	}
	defer f.Close()

	spec, err := ParseOutput(f)
	if err != nil {
		return nil, fail("malformed output", err)
	}

	slog.Debug("simulation finished", "uuid", id, "energy_density", spec.EnergyDensity)

	return &models.SimulationResult{
		Status: models.StatusOK,
		UUID:   req.UUID,
		Result: spec,
	}, nil
}

// tail keeps the end of the simulator's stderr for error messages.
func tail(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	const limit = 512
	if len(s) > limit {
		s = "..." + s[len(s)-limit:]
	}
	return errors.New(s)
}
