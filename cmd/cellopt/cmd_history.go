package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spachava753/cellopt/internal/store"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs recorded in the local ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("ledger")
			configPath, _ := cmd.Flags().GetString("config")
			limit, _ := cmd.Flags().GetInt("limit")

			if configPath != "" && !cmd.Flags().Changed("ledger") {
				cfg, err := loadConfig(cmd, configPath)
				if err != nil {
					return err
				}
				if cfg.LedgerPath != "" {
					path = cfg.LedgerPath
				}
			}

			ledger, err := store.Open(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer ledger.Close()

			runs, err := ledger.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, runs)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tJOB\tRUN\tALGORITHM\tEXPERIMENTS\tFAILED\tBEST\tENTITY")
			for _, r := range runs {
				best := "-"
				if r.BestEnergyDensity != nil {
					best = fmt.Sprintf("%.4f", *r.BestEnergyDensity)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.JobName, r.RunID, r.Algorithm,
					r.Experiments, r.Failed, best, r.EntityTitle)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("ledger", "cellopt.db", "Ledger database path")
	cmd.Flags().String("config", "", "Job config file to read ledger_path from")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 for all)")
	return cmd
}
