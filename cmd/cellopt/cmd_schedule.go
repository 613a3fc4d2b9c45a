package main

import (
	"errors"
	"fmt"

	"github.com/spachava753/cellopt/internal/entitystore"
	"github.com/spachava753/cellopt/internal/executor"
	"github.com/spf13/cobra"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <job.yaml> [title...]",
		Short: "Process the next pending request from the entity store",
		Long: `Find a model with a ToDo workflow run and process it.

By default optimization requests are processed with a fresh random seed and
the best geometry is written back to the model. With --simulation a single
simulation of the model's own geometry is run instead. Titles restrict the
search to the given models; otherwise the store is queried for pending ones.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			simulation, _ := cmd.Flags().GetBool("simulation")
			tool := entitystore.ToolOptimization
			if simulation {
				tool = entitystore.ToolSimulation
			}

			job, err := openJob(cmd, args[0])
			if err != nil {
				return err
			}
			defer job.Close()

			title, err := job.Schedule(cmd.Context(), args[1:], tool)
			if errors.Is(err, executor.ErrNoPendingRequest) {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending requests.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %s\n", title)
			return nil
		},
	}
	cmd.Flags().Bool("simulation", false, "Process simulation requests instead of optimization requests")
	return cmd
}
