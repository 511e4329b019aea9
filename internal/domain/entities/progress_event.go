package entities

import (
	"time"

	"github.com/google/uuid"
)

// ReportProgressEvent is published whenever a report's step or percentage changes
type ReportProgressEvent struct {
	ID              string       `json:"id"`
	ReportID        string       `json:"report_id"`
	Status          ReportStatus `json:"status"`
	ProgressPercent int          `json:"progress_percent"`
	CurrentStep     string       `json:"current_step"`
	Timestamp       time.Time    `json:"timestamp"`
}

// NewReportProgressEvent creates a progress event for a processing report
func NewReportProgressEvent(reportID string, percent int, step string) *ReportProgressEvent {
	return &ReportProgressEvent{
		ID:              uuid.NewString(),
		ReportID:        reportID,
		Status:          ReportStatusProcessing,
		ProgressPercent: percent,
		CurrentStep:     step,
		Timestamp:       time.Now(),
	}
}
