package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/domain/repositories"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/clinicalcoding/pkg/errors"
)

const reportsTable = "coding_reports"

var reportColumns = []interface{}{
	"id", "encounter_id", "status", "progress_percent", "current_step", "encounter_type",
	"suggested_codes", "billed_codes", "extracted_codes", "findings",
	"incremental_revenue", "model_identifier", "usage", "retry_count",
	"error_message", "error_detail",
	"processing_started_at", "processing_completed_at", "processing_duration_ms",
	"created_at", "updated_at",
}

// ReportAdapter implements ReportRepository
type ReportAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewReportAdapter creates a new report adapter
func NewReportAdapter(client *postgres.Client) repositories.ReportRepository {
	return &ReportAdapter{
		client: client,
		db:     client.Goqu(),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// GetByID retrieves a report by ID
func (a *ReportAdapter) GetByID(ctx context.Context, id string) (*entities.Report, error) {
	query, args, err := a.db.Select(reportColumns...).
		From(reportsTable).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	report, err := scanReport(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("report with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get report", err)
	}
	return report, nil
}

// MarkProcessing starts a new attempt on the report
func (a *ReportAdapter) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	return a.update(ctx, id, "mark report processing", goqu.Record{
		"status":                  entities.ReportStatusProcessing,
		"progress_percent":        0,
		"current_step":            "starting",
		"error_message":           nil,
		"error_detail":            nil,
		"processing_started_at":   startedAt,
		"processing_completed_at": nil,
		"updated_at":              time.Now(),
	})
}

// UpdateProgress stores the current step and percentage
func (a *ReportAdapter) UpdateProgress(ctx context.Context, id string, percent int, step string) error {
	return a.update(ctx, id, "update report progress", goqu.Record{
		"progress_percent": percent,
		"current_step":     step,
		"updated_at":       time.Now(),
	})
}

// RecordFailure stores the failure of an attempt
func (a *ReportAdapter) RecordFailure(ctx context.Context, id string, failure *entities.PipelineFailure, retryCount int, terminal bool) error {
	detail, err := json.Marshal(failure)
	if err != nil {
		return apperrors.NewInternalError("failed to encode failure detail", err)
	}

	record := goqu.Record{
		"error_message": entities.TruncateErrorMessage(failure.Message),
		"error_detail":  string(detail),
		"retry_count":   retryCount,
		"updated_at":    time.Now(),
	}
	if terminal {
		record["status"] = entities.ReportStatusFailed
		record["processing_completed_at"] = failure.Timestamp
	}
	return a.update(ctx, id, "record report failure", record)
}

// Complete persists the final artifact and marks the report COMPLETE
func (a *ReportAdapter) Complete(ctx context.Context, id string, result *repositories.ReportResult) error {
	if result == nil {
		return apperrors.NewValidationError("report result is required")
	}

	encoded := make(map[string]string, 5)
	for column, value := range map[string]interface{}{
		"suggested_codes": nonNilSlice(result.SuggestedCodes),
		"billed_codes":    nonNilSlice(result.BilledCodes),
		"extracted_codes": nonNilSlice(result.ExtractedCodes),
		"findings":        result.Findings,
		"usage":           result.Usage,
	} {
		raw, err := json.Marshal(value)
		if err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("failed to encode %s", column), err)
		}
		encoded[column] = string(raw)
	}

	return a.update(ctx, id, "complete report", goqu.Record{
		"status":                  entities.ReportStatusComplete,
		"progress_percent":        100,
		"current_step":            "finalizing",
		"encounter_type":          sql.NullString{String: result.EncounterType, Valid: result.EncounterType != ""},
		"suggested_codes":         encoded["suggested_codes"],
		"billed_codes":            encoded["billed_codes"],
		"extracted_codes":         encoded["extracted_codes"],
		"findings":                encoded["findings"],
		"usage":                   encoded["usage"],
		"incremental_revenue":     result.IncrementalRevenue,
		"model_identifier":        result.ModelIdentifier,
		"error_message":           nil,
		"error_detail":            nil,
		"processing_completed_at": result.CompletedAt,
		"processing_duration_ms":  result.ProcessingDurationMs,
		"updated_at":              time.Now(),
	})
}

// ListByStatus returns the oldest reports with the given status
func (a *ReportAdapter) ListByStatus(ctx context.Context, status entities.ReportStatus, limit int) ([]*entities.Report, error) {
	ds := a.db.Select(reportColumns...).
		From(reportsTable).
		Where(goqu.Ex{"status": status}).
		Order(goqu.I("created_at").Asc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list reports", err)
	}
	defer rows.Close()

	var reports []*entities.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan report", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate reports", err)
	}

	return reports, nil
}

func (a *ReportAdapter) update(ctx context.Context, id, op string, record goqu.Record) error {
	query, args, err := a.db.Update(reportsTable).
		Set(record).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError(fmt.Sprintf("failed to %s", op), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to read rows affected", err)
	}
	if affected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("report with id %s not found", id))
	}
	return nil
}

func scanReport(row rowScanner) (*entities.Report, error) {
	report := &entities.Report{}
	var (
		encounterType, modelID, errorMessage  sql.NullString
		suggestedRaw, billedRaw, extractedRaw []byte
		findingsRaw, usageRaw, errorDetailRaw []byte
		startedAt, completedAt                sql.NullTime
		durationMs                            sql.NullInt64
	)

	err := row.Scan(
		&report.ID,
		&report.EncounterID,
		&report.Status,
		&report.ProgressPercent,
		&report.CurrentStep,
		&encounterType,
		&suggestedRaw,
		&billedRaw,
		&extractedRaw,
		&findingsRaw,
		&report.IncrementalRevenue,
		&modelID,
		&usageRaw,
		&report.RetryCount,
		&errorMessage,
		&errorDetailRaw,
		&startedAt,
		&completedAt,
		&durationMs,
		&report.CreatedAt,
		&report.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	report.EncounterType = encounterType.String
	report.ModelIdentifier = modelID.String
	report.ErrorMessage = errorMessage.String
	report.ProcessingDurationMs = durationMs.Int64
	if startedAt.Valid {
		report.ProcessingStartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		report.ProcessingCompletedAt = &completedAt.Time
	}

	if err := decodeJSONColumn(suggestedRaw, &report.SuggestedCodes); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(billedRaw, &report.BilledCodes); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(extractedRaw, &report.ExtractedCodes); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(findingsRaw, &report.Findings); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(usageRaw, &report.Usage); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(errorDetailRaw, &report.ErrorDetail); err != nil {
		return nil, err
	}

	return report, nil
}

func decodeJSONColumn(raw []byte, dest interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
