package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spachava753/cellopt/internal/models"
	"github.com/spachava753/cellopt/internal/persistence"
	"github.com/spf13/cobra"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate [geometry.json|-]",
		Short: "Run a single simulation",
		Long: `Run the simulator once and print its performance summary.

The geometry is read from a JSON file in the simulator's input encoding, or
from stdin with "-". Without an argument the reference cell is simulated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			simPath, _ := cmd.Flags().GetString("simulator")
			id, _ := cmd.Flags().GetString("uuid")
			title, _ := cmd.Flags().GetString("model")

			g := models.DefaultGeometry()
			if len(args) == 1 {
				var err error
				if g, err = readGeometry(cmd, args[0]); err != nil {
					return err
				}
			}

			req := models.NewSimulationRequest(g)
			if id != "" {
				parsed, err := uuid.Parse(id)
				if err != nil {
					return fmt.Errorf("parsing --uuid: %w", err)
				}
				req.UUID = parsed
			}

			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			if simPath != "" {
				cfg.SimulatorPath = simPath
				cfg.SimulatorGit = models.SimulatorSource{}
			}
			if title != "" && !cfg.EntityStore.Enabled() {
				return fmt.Errorf("--model requires an entity_store in the job config")
			}
			if title == "" {
				cfg.EntityStore = models.EntityStoreConfig{}
			}

			job, err := openJobFromConfig(cmd, cfg)
			if err != nil {
				return err
			}
			defer job.Close()

			res, err := job.Simulate(cmd.Context(), req, persistence.EntityRef{Title: title, WorkflowRun: req.UUID})
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, res)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "UUID: %s\n", res.UUID)
			fmt.Fprintf(w, "E: %.4f\n", res.Result.E)
			fmt.Fprintf(w, "Energy density: %.4f\n", res.Result.EnergyDensity)
			fmt.Fprintf(w, "Energy: %.4f\n", res.Result.Energy)
			return nil
		},
	}
	cmd.Flags().String("config", "", "Job config file")
	cmd.Flags().String("simulator", "", "Simulator directory (overrides simulator_path)")
	cmd.Flags().String("uuid", "", "Request identifier (default: random)")
	cmd.Flags().String("model", "", "Entity title to write the result to")
	return cmd
}

func readGeometry(cmd *cobra.Command, path string) (models.Geometry1D, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return models.Geometry1D{}, fmt.Errorf("opening geometry: %w", err)
		}
		defer f.Close()
		r = f
	}

	g := models.DefaultGeometry()
	if err := json.NewDecoder(r).Decode(&g); err != nil {
		return g, fmt.Errorf("decoding geometry: %w", err)
	}
	return g, nil
}
