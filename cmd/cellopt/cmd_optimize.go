package main

import (
	"fmt"

	"github.com/spachava753/cellopt/internal/models"
	"github.com/spf13/cobra"
)

func newOptimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize <job.yaml>",
		Short: "Run the optimization described by a job file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := openJob(cmd, args[0])
			if err != nil {
				return err
			}
			defer job.Close()

			result, err := job.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("job failed: %w", err)
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, result)
			}
			printJobResult(cmd, result)
			return nil
		},
	}
}

func printJobResult(cmd *cobra.Command, result *models.JobResult) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nJob: %s\n", result.JobName)
	fmt.Fprintf(w, "Run: %s\n", result.RunID)
	fmt.Fprintf(w, "Algorithm: %s (budget %d)\n", result.Algorithm, result.Budget)
	fmt.Fprintf(w, "Experiments: %d\n", result.TotalExperiments)
	fmt.Fprintf(w, "Failed: %d\n", result.FailedExperiments)
	if result.BestEnergyDensity != nil {
		g := result.BestGeometry
		fmt.Fprintf(w, "Best energy density: %.4f\n", *result.BestEnergyDensity)
		fmt.Fprintf(w, "Best geometry: negative %.3g m, positive %.3g m, separator %.3g m\n",
			g.NegativeElectrode.ActiveMaterial.Thickness,
			g.PositiveElectrode.ActiveMaterial.Thickness,
			g.Electrolyte.Separator.Thickness)
	}
	if result.EntityTitle != "" {
		fmt.Fprintf(w, "Entity: %s\n", result.EntityTitle)
	}
	if result.ArchiveLink != "" {
		fmt.Fprintf(w, "Archive: %s\n", result.ArchiveLink)
	}
	fmt.Fprintf(w, "Duration: %.2fs\n", result.TotalDurationSec)
}
