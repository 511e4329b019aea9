package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	batchInterval time.Duration
	batchOnce     bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process pending reports",
	Long:  "Polls for PENDING reports and processes them with bounded concurrency until interrupted.",
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().DurationVar(&batchInterval, "interval", 0, "poll interval (defaults to PIPELINE_POLL_INTERVAL)")
	batchCmd.Flags().BoolVar(&batchOnce, "once", false, "process one batch and exit")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	if batchOnce {
		_, err := a.batch.RunOnce(ctx)
		return err
	}

	interval := batchInterval
	if interval <= 0 {
		interval = a.cfg.Pipeline.PollInterval
	}
	a.logger.Info().
		Dur("interval", interval).
		Int("concurrency", a.cfg.Pipeline.BatchConcurrency).
		Msg("batch worker started")

	return a.batch.Poll(ctx, interval)
}
