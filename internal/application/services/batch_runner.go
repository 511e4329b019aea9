package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/domain/repositories"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/observability"
	"golang.org/x/sync/errgroup"
)

// ReportRunner processes a single report
type ReportRunner interface {
	Run(ctx context.Context, reportID string) error
}

var _ ReportRunner = (*PipelineOrchestrator)(nil)

// BatchSummary counts the outcomes of one batch
type BatchSummary struct {
	Picked    int
	Completed int
	Failed    int
}

// BatchRunner drains PENDING reports with bounded concurrency
type BatchRunner struct {
	reports     repositories.ReportRepository
	runner      ReportRunner
	concurrency int
	batchSize   int
}

// NewBatchRunner creates a new batch runner
func NewBatchRunner(reports repositories.ReportRepository, runner ReportRunner, concurrency, batchSize int) *BatchRunner {
	if concurrency <= 0 {
		concurrency = 5
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &BatchRunner{
		reports:     reports,
		runner:      runner,
		concurrency: concurrency,
		batchSize:   batchSize,
	}
}

// RunOnce processes up to batchSize pending reports, at most concurrency at
// a time. A failing report does not stop the others.
func (b *BatchRunner) RunOnce(ctx context.Context) (BatchSummary, error) {
	logger := observability.LoggerFromContext(ctx)

	pending, err := b.reports.ListByStatus(ctx, entities.ReportStatusPending, b.batchSize)
	if err != nil {
		return BatchSummary{}, err
	}
	if len(pending) == 0 {
		return BatchSummary{}, nil
	}

	var completed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for _, report := range pending {
		reportID := report.ID
		g.Go(func() error {
			if err := b.runner.Run(gctx, reportID); err != nil {
				failed.Add(1)
				return nil
			}
			completed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	summary := BatchSummary{
		Picked:    len(pending),
		Completed: int(completed.Load()),
		Failed:    int(failed.Load()),
	}
	logger.Info().
		Int("picked", summary.Picked).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Msg("batch finished")
	return summary, nil
}

// Poll runs a batch every interval until ctx is cancelled
func (b *BatchRunner) Poll(ctx context.Context, interval time.Duration) error {
	logger := observability.LoggerFromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := b.RunOnce(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to list pending reports")
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("batch polling stopped")
			return nil
		case <-ticker.C:
		}
	}
}
