package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spachava753/cellopt/internal/config"
	"github.com/spachava753/cellopt/internal/executor"
	"github.com/spachava753/cellopt/internal/logging"
	"github.com/spachava753/cellopt/internal/models"
	"github.com/spf13/cobra"
)

func main() {
	// Setup context with manual signal handling
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	defer func() {
		signal.Stop(sigChan)
		cancel()
	}()

	go func() {
		sig := <-sigChan
		slog.Info("interrupt received, shutting down gracefully...", "signal", sig)
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cellopt",
		Short: "Battery cell geometry optimization",
		Long: `cellopt optimizes battery cell layer thicknesses for energy density.

It asks a hosted black-box optimizer for candidate geometries, runs the cell
simulator once per candidate, reports the measured energy density back and
writes the best result to the model entity store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level, _ := cmd.Flags().GetString("log-level")
			format, _ := cmd.Flags().GetString("log-format")
			logging.Setup(level, format, os.Stderr)
		},
	}

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().Bool("json", false, "Print results as JSON")

	rootCmd.AddCommand(
		newOptimizeCmd(),
		newSimulateCmd(),
		newScheduleCmd(),
		newPublishCmd(),
		newHistoryCmd(),
	)
	return rootCmd
}

// loadConfig reads the job config at path, or returns the defaults when path
// is empty. Log settings from the file apply unless given on the command line.
func loadConfig(cmd *cobra.Command, path string) (models.JobConfig, error) {
	if path == "" {
		return config.DefaultJobConfig(), nil
	}
	cfg, err := config.LoadJobConfig(path)
	if err != nil {
		return cfg, fmt.Errorf("loading job config: %w", err)
	}

	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	if !cmd.Flags().Changed("log-level") && cfg.LogLevel != "" {
		level = cfg.LogLevel
	}
	if !cmd.Flags().Changed("log-format") && cfg.LogFormat != "" {
		format = cfg.LogFormat
	}
	logging.Setup(level, format, os.Stderr)
	return cfg, nil
}

// openJob loads the config at path and connects the job's collaborators.
func openJob(cmd *cobra.Command, path string) (*executor.Job, error) {
	cfg, err := loadConfig(cmd, path)
	if err != nil {
		return nil, err
	}
	return openJobFromConfig(cmd, cfg)
}

func openJobFromConfig(cmd *cobra.Command, cfg models.JobConfig) (*executor.Job, error) {
	job, err := executor.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("opening job: %w", err)
	}
	return job, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
