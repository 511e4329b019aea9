package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var reportID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a single report",
	Long:  "Runs one report through the pipeline. A FAILED report is retried and keeps its retry count; a COMPLETE report is left alone.",
	RunE:  runReport,
}

func init() {
	runCmd.Flags().StringVar(&reportID, "report", "", "report ID to process")
	_ = runCmd.MarkFlagRequired("report")
	rootCmd.AddCommand(runCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	if _, err := uuid.Parse(reportID); err != nil {
		return fmt.Errorf("invalid report ID %q: %w", reportID, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.orchestrator.Run(ctx, reportID); err != nil {
		return err
	}
	a.logger.Info().Str("report_id", reportID).Msg("report processed")
	return nil
}
