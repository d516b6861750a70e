// Package cmd defines the CLI commands for the pdfbatch executable.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRunCmd creates the 'run' subcommand, which processes one dataset end to
// end: admit rows, convert them through the remote service, and bundle the
// artifacts with the failure report.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <dataset>",
		Short: "Convert every URL in a dataset and bundle the results",
		Long: `Reads a spreadsheet (.xlsx or .csv) with a link column and an optional
title column, converts every valid URL through the conversion service, and
writes <dataset>.zip containing the rendered documents plus a failure report.`,
		Args: cobra.ExactArgs(1),
		RunE: runBatchCommand,
	}

	cmd.Flags().String("output-dir", "", "directory for artifacts and the archive (overrides config)")
	cmd.Flags().String("api-url", "", "conversion service base URL (overrides config)")
	cmd.Flags().Int("concurrency", 0, "worker pool width (overrides config)")
	cmd.Flags().String("metrics-addr", "", "listen address for /healthz, /metrics and /progress (overrides config)")
	return cmd
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	result, err := appInstance.Run(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("run batch: %w", err)
	}

	if !result.Success {
		return fmt.Errorf("batch finished without a usable archive: %s",
			strings.Join(result.Errors, "; "))
	}

	appInstance.Logger.Info("batch succeeded",
		zap.String("archive", result.ArchivePath),
		zap.Int("completed", result.CompletedTasks),
		zap.Int("failed", result.FailedTasks))
	return nil
}
