package entities

import (
	"time"
)

// ReportStatus represents the lifecycle state of a coding report
type ReportStatus string

const (
	ReportStatusPending    ReportStatus = "PENDING"
	ReportStatusProcessing ReportStatus = "PROCESSING"
	ReportStatusComplete   ReportStatus = "COMPLETE"
	ReportStatusFailed     ReportStatus = "FAILED"
)

// MaxErrorMessageLength bounds Report.ErrorMessage as seen by pollers.
const MaxErrorMessageLength = 500

// Report is the persisted unit of work for one coding-analysis run.
type Report struct {
	ID                    string           `json:"id" db:"id"`
	EncounterID           string           `json:"encounter_id" db:"encounter_id"`
	Status                ReportStatus     `json:"status" db:"status"`
	ProgressPercent       int              `json:"progress_percent" db:"progress_percent"`
	CurrentStep           string           `json:"current_step" db:"current_step"`
	EncounterType         string           `json:"encounter_type,omitempty" db:"encounter_type"`
	SuggestedCodes        []CodeSuggestion `json:"suggested_codes" db:"suggested_codes"`
	BilledCodes           []BilledCode     `json:"billed_codes" db:"billed_codes"`
	ExtractedCodes        []ExtractedCode  `json:"extracted_codes" db:"extracted_codes"`
	Findings              *CodingFindings  `json:"findings,omitempty" db:"findings"`
	IncrementalRevenue    float64          `json:"incremental_revenue" db:"incremental_revenue"`
	ModelIdentifier       string           `json:"model_identifier,omitempty" db:"model_identifier"`
	Usage                 TokenUsage       `json:"usage" db:"usage"`
	RetryCount            int              `json:"retry_count" db:"retry_count"`
	ErrorMessage          string           `json:"error_message,omitempty" db:"error_message"`
	ErrorDetail           *PipelineFailure `json:"error_detail,omitempty" db:"error_detail"`
	ProcessingStartedAt   *time.Time       `json:"processing_started_at,omitempty" db:"processing_started_at"`
	ProcessingCompletedAt *time.Time       `json:"processing_completed_at,omitempty" db:"processing_completed_at"`
	ProcessingDurationMs  int64            `json:"processing_duration_ms" db:"processing_duration_ms"`
	CreatedAt             time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at" db:"updated_at"`
}

// FailureKind classifies why a pipeline attempt aborted
type FailureKind string

const (
	FailureKindTimeout     FailureKind = "TIMEOUT"
	FailureKindParse       FailureKind = "PARSE_ERROR"
	FailureKindExternal    FailureKind = "EXTERNAL_ERROR"
	FailureKindPersistence FailureKind = "PERSISTENCE_ERROR"
	FailureKindInput       FailureKind = "INPUT_ERROR"
	FailureKindInternal    FailureKind = "INTERNAL_ERROR"
)

// PipelineFailure is the structured error detail stored on a failed attempt.
type PipelineFailure struct {
	Kind      FailureKind `json:"kind"`
	Message   string      `json:"message"`
	Stage     string      `json:"stage"`
	Timestamp time.Time   `json:"timestamp"`
}

// TruncateErrorMessage shortens msg to MaxErrorMessageLength runes.
func TruncateErrorMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= MaxErrorMessageLength {
		return msg
	}
	return string(runes[:MaxErrorMessageLength-3]) + "..."
}

// TokenUsage accumulates completion-service accounting for a report.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Add returns the sum of u and other.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		CostUSD:          u.CostUSD + other.CostUSD,
	}
}
