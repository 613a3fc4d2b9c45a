package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <job.yaml> <title>...",
		Short: "Publish model entities to the configured archive",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := openJob(cmd, args[0])
			if err != nil {
				return err
			}
			defer job.Close()

			records, err := job.Publish(cmd.Context(), args[1:])
			if jsonOutput(cmd) && len(records) > 0 {
				if perr := printJSON(cmd, records); perr != nil {
					return perr
				}
			} else {
				for i, rec := range records {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s\n", args[1+i], rec.Repository, rec.Link)
					if rec.DOI != "" {
						fmt.Fprintf(cmd.OutOrStdout(), "  DOI: %s\n", rec.DOI)
					}
				}
			}
			return err
		},
	}
}
