package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zatekoja/clinicalcoding/internal/adapters/events"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/clients/redis"
	"github.com/zatekoja/clinicalcoding/pkg/config"
)

var watchReportID string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a report's progress",
	Long:  "Subscribes to a report's progress channel in Redis and prints each step until the report reaches 100% or the command is interrupted.",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchReportID, "report", "", "report ID to follow")
	_ = watchCmd.MarkFlagRequired("report")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if _, err := uuid.Parse(watchReportID); err != nil {
		return fmt.Errorf("invalid report ID %q: %w", watchReportID, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfg.Redis.Enabled {
		return fmt.Errorf("redis is disabled, progress events are not published")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	updates, err := events.NewRedisProgressSubscriber(redisClient.Client()).Subscribe(ctx, watchReportID)
	if err != nil {
		return err
	}

	for event := range updates {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %3d%% %s\n", event.Timestamp.Format("15:04:05"), event.ProgressPercent, event.CurrentStep)
		if event.ProgressPercent >= 100 {
			return nil
		}
	}
	if ctx.Err() == nil {
		return fmt.Errorf("progress subscription closed")
	}
	return nil
}
