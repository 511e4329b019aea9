package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
)

// ReportResult is the artifact persisted when a report completes.
type ReportResult struct {
	EncounterType        string
	SuggestedCodes       []entities.CodeSuggestion
	BilledCodes          []entities.BilledCode
	ExtractedCodes       []entities.ExtractedCode
	Findings             *entities.CodingFindings
	IncrementalRevenue   float64
	ModelIdentifier      string
	Usage                entities.TokenUsage
	ProcessingDurationMs int64
	CompletedAt          time.Time
}

// ReportRepository defines the interface for coding report persistence.
// Every method returns an error satisfying errors.IsNotFound when the report does not exist.
type ReportRepository interface {
	GetByID(ctx context.Context, id string) (*entities.Report, error)
	// MarkProcessing moves the report to PROCESSING with progress 0 and clears any previous error.
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) error
	UpdateProgress(ctx context.Context, id string, percent int, step string) error
	// RecordFailure stores the failure detail and retry count; status FAILED is set when terminal.
	RecordFailure(ctx context.Context, id string, failure *entities.PipelineFailure, retryCount int, terminal bool) error
	Complete(ctx context.Context, id string, result *ReportResult) error
	ListByStatus(ctx context.Context, status entities.ReportStatus, limit int) ([]*entities.Report, error)
}

// EncounterRepository reads the de-identified pipeline input for an encounter.
type EncounterRepository interface {
	GetInput(ctx context.Context, encounterID string) (*entities.EncounterInput, error)
}
