package services

import (
	"context"
	"time"

	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/domain/providers"
	"github.com/zatekoja/clinicalcoding/internal/domain/repositories"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/observability"
)

const progressWriteTimeout = 5 * time.Second

// ProgressTracker records and broadcasts pipeline progress. It never fails
// the caller: store and publish errors are logged and dropped.
type ProgressTracker struct {
	reports   repositories.ReportRepository
	publisher providers.ProgressPublisher
}

// NewProgressTracker creates a new progress tracker. A nil publisher disables broadcasting.
func NewProgressTracker(reports repositories.ReportRepository, publisher providers.ProgressPublisher) *ProgressTracker {
	return &ProgressTracker{
		reports:   reports,
		publisher: publisher,
	}
}

// SetProgress stores the percentage and step for a report and publishes a progress event
func (t *ProgressTracker) SetProgress(ctx context.Context, reportID string, percent int, step string) {
	logger := observability.LoggerFromContext(ctx).With().
		Str("report_id", reportID).
		Int("progress", percent).
		Str("step", step).
		Logger()

	writeCtx, cancel := context.WithTimeout(ctx, progressWriteTimeout)
	err := t.reports.UpdateProgress(writeCtx, reportID, percent, step)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to store report progress")
	}

	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishProgress(ctx, entities.NewReportProgressEvent(reportID, percent, step)); err != nil {
		logger.Warn().Err(err).Msg("failed to publish report progress")
		return
	}
	logger.Debug().Msg("report progress updated")
}
