package providers

import (
	"context"

	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
)

// EventChannelReportPrefix is the prefix for per-report progress channels
const EventChannelReportPrefix = "report:"

// ProgressPublisher pushes report progress to live subscribers
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, event *entities.ReportProgressEvent) error
}

// GetReportChannel returns the channel name for a specific report
func GetReportChannel(reportID string) string {
	return EventChannelReportPrefix + reportID
}
