package services

import (
	"context"
	"strings"
	"time"

	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/domain/repositories"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/observability"
	"github.com/zatekoja/clinicalcoding/pkg/config"
	apperrors "github.com/zatekoja/clinicalcoding/pkg/errors"
	"github.com/zatekoja/clinicalcoding/pkg/retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Pipeline steps as persisted in Report.CurrentStep
const (
	StepStarting        = "starting"
	StepLoading         = "loading"
	StepFiltering       = "filtering"
	StepExtractingCodes = "extracting_codes"
	StepCrosswalk       = "crosswalk"
	StepAnalyzing       = "analyzing"
	StepFinalizing      = "finalizing"
)

const failureWriteTimeout = 5 * time.Second

var stageProgress = map[string]int{
	StepFiltering:       20,
	StepExtractingCodes: 40,
	StepCrosswalk:       55,
	StepAnalyzing:       85,
	StepFinalizing:      100,
}

// PipelineOrchestrator drives one report through filtering, code inference,
// crosswalk, analysis and finalization, retrying whole attempts on failure.
type PipelineOrchestrator struct {
	reports    repositories.ReportRepository
	encounters repositories.EncounterRepository
	filter     *RelevanceFilterService
	inference  *CodeInferenceService
	crosswalk  *CrosswalkService
	analysis   *CodingAnalysisService
	tracker    *ProgressTracker
	cfg        config.PipelineConfig
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewPipelineOrchestrator creates a new pipeline orchestrator
func NewPipelineOrchestrator(
	reports repositories.ReportRepository,
	encounters repositories.EncounterRepository,
	filter *RelevanceFilterService,
	inference *CodeInferenceService,
	crosswalk *CrosswalkService,
	analysis *CodingAnalysisService,
	tracker *ProgressTracker,
	cfg config.PipelineConfig,
) *PipelineOrchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MinCrosswalkConfidence <= 0 {
		cfg.MinCrosswalkConfidence = DefaultMinConfidence
	}
	return &PipelineOrchestrator{
		reports:    reports,
		encounters: encounters,
		filter:     filter,
		inference:  inference,
		crosswalk:  crosswalk,
		analysis:   analysis,
		tracker:    tracker,
		cfg:        cfg,
		now:        time.Now,
		sleep:      retry.Sleep,
	}
}

// Run processes a report until it is COMPLETE or FAILED. Re-running a
// COMPLETE report does nothing; re-running a FAILED one starts a new round
// of attempts and keeps counting retries from the stored value.
func (o *PipelineOrchestrator) Run(ctx context.Context, reportID string) error {
	logger := observability.LoggerFromContext(ctx).With().Str("report_id", reportID).Logger()
	ctx = logger.WithContext(ctx)

	report, err := o.reports.GetByID(ctx, reportID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load report")
		return err
	}
	if report.Status == entities.ReportStatusComplete {
		logger.Info().Msg("report already complete, skipping")
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "pipeline.run", attribute.String("report.id", reportID))
	defer span.End()

	retryCount := report.RetryCount
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		stage, err := o.attempt(ctx, report)
		if err == nil {
			observability.RecordPipelineRun(ctx, string(entities.ReportStatusComplete), attempt)
			logger.Info().Int("attempt", attempt).Int("retry_count", retryCount).Msg("report complete")
			return nil
		}
		lastErr = err
		retryCount++

		failure := classifyFailure(err, stage, o.now())
		terminal := attempt == o.cfg.MaxRetries
		o.recordFailure(ctx, reportID, failure, retryCount, terminal)
		observability.RecordPipelineRetry(ctx, string(failure.Kind))

		logger.Warn().Err(err).
			Str("stage", stage).
			Str("kind", string(failure.Kind)).
			Int("attempt", attempt).
			Int("retry_count", retryCount).
			Bool("terminal", terminal).
			Msg("pipeline attempt failed")

		if terminal {
			break
		}

		delay := retry.ExponentialDelay(o.cfg.BackoffUnit, retryCount, o.cfg.MaxBackoff)
		if err := o.sleep(ctx, delay); err != nil {
			// cancelled while backing off; leave the report retryable-terminal
			o.recordFailure(ctx, reportID, failure, retryCount, true)
			lastErr = err
			break
		}
	}

	observability.RecordPipelineRun(ctx, string(entities.ReportStatusFailed), o.cfg.MaxRetries)
	observability.RecordError(span, lastErr)
	logger.Error().Err(lastErr).Int("retry_count", retryCount).Msg("report failed")
	return lastErr
}

// recordFailure persists a failed attempt. The terminal write ignores ctx
// cancellation; a report must never be left in PROCESSING.
func (o *PipelineOrchestrator) recordFailure(ctx context.Context, reportID string, failure *entities.PipelineFailure, retryCount int, terminal bool) {
	if terminal {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
		defer cancel()
	}
	if err := o.reports.RecordFailure(ctx, reportID, failure, retryCount, terminal); err != nil {
		observability.LoggerFromContext(ctx).Error().Err(err).
			Int("retry_count", retryCount).
			Msg("failed to record pipeline failure")
	}
}

// attempt runs every stage once. On failure it returns the stage that failed.
func (o *PipelineOrchestrator) attempt(ctx context.Context, report *entities.Report) (string, error) {
	logger := observability.LoggerFromContext(ctx)
	startedAt := o.now()

	if err := o.reports.MarkProcessing(ctx, report.ID, startedAt); err != nil {
		return StepStarting, apperrors.NewPersistenceError("failed to mark report processing", err)
	}

	input, err := o.encounters.GetInput(ctx, report.EncounterID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return StepLoading, err
		}
		return StepLoading, apperrors.NewPersistenceError("failed to load encounter input", err)
	}
	if strings.TrimSpace(input.DeidentifiedText) == "" {
		return StepLoading, apperrors.NewValidationError("encounter has no clinical text")
	}

	var usage entities.TokenUsage

	// 1. relevance filter, falls back to the unfiltered note
	text := input.DeidentifiedText
	var filtered *FilterResult
	o.degradable(ctx, report.ID, StepFiltering, func(ctx context.Context) error {
		result, err := o.filter.Filter(ctx, input.DeidentifiedText)
		if err != nil {
			return err
		}
		result.ValidatePlaceholders(input)
		filtered = result
		text = result.FilteredText
		usage = usage.Add(result.Usage)
		return nil
	})

	// 2. code inference, falls back to no extracted codes
	inferred := &InferenceResult{}
	o.degradable(ctx, report.ID, StepExtractingCodes, func(ctx context.Context) error {
		result, err := o.inference.InferCodes(ctx, text)
		if err != nil {
			return err
		}
		inferred = result
		return nil
	})

	// 3. crosswalk of procedure concepts to CPT, falls back to no candidates
	var candidates []*entities.CPTMapping
	o.degradable(ctx, report.ID, StepCrosswalk, func(ctx context.Context) error {
		if len(inferred.ProcedureCodes) == 0 {
			return nil
		}
		sourceCodes := make([]string, 0, len(inferred.ProcedureCodes))
		for _, c := range inferred.ProcedureCodes {
			sourceCodes = append(sourceCodes, c.Code)
		}
		mapped, err := o.crosswalk.LookupBatch(ctx, sourceCodes, o.cfg.MinCrosswalkConfidence)
		if err != nil {
			return err
		}
		candidates = crosswalkCandidates(sourceCodes, mapped)
		return nil
	})

	billed := input.BilledCodes
	encounterType := ""
	if filtered != nil {
		if len(billed) == 0 {
			billed = BilledCodesFromText(filtered.BilledCodesFound)
		}
		if filtered.EncounterType != nil {
			encounterType = *filtered.EncounterType
		}
	}

	// 4. coding analysis is mandatory
	var coding *CodingResult
	err = o.stage(ctx, report.ID, StepAnalyzing, false, func(ctx context.Context) error {
		result, err := o.analysis.Analyze(ctx, &AnalysisInput{
			Text:                 text,
			BilledCodes:          billed,
			DiagnosisCodes:       inferred.DiagnosisCodes,
			CrosswalkSuggestions: candidates,
			EncounterType:        encounterType,
		})
		if err != nil {
			return err
		}
		coding = result
		return nil
	})
	if err != nil {
		return StepAnalyzing, err
	}
	o.tracker.SetProgress(ctx, report.ID, stageProgress[StepAnalyzing], StepAnalyzing)

	// 5. finalize
	completedAt := o.now()
	usage = usage.Add(coding.Usage)
	result := &repositories.ReportResult{
		EncounterType:        encounterType,
		SuggestedCodes:       coding.SuggestedCodes,
		BilledCodes:          coding.BilledCodes,
		ExtractedCodes:       inferred.All(),
		Findings:             coding.Findings,
		IncrementalRevenue:   entities.TotalRevenueImpact(coding.SuggestedCodes),
		ModelIdentifier:      coding.Model,
		Usage:                usage,
		ProcessingDurationMs: completedAt.Sub(startedAt).Milliseconds(),
		CompletedAt:          completedAt,
	}
	err = o.stage(ctx, report.ID, StepFinalizing, false, func(ctx context.Context) error {
		if err := o.reports.Complete(ctx, report.ID, result); err != nil {
			return apperrors.NewPersistenceError("failed to persist report result", err)
		}
		return nil
	})
	if err != nil {
		return StepFinalizing, err
	}
	o.tracker.SetProgress(ctx, report.ID, stageProgress[StepFinalizing], StepFinalizing)

	logger.Info().
		Int("suggested_codes", len(result.SuggestedCodes)).
		Int("extracted_codes", len(result.ExtractedCodes)).
		Float64("incremental_revenue", result.IncrementalRevenue).
		Int64("duration_ms", result.ProcessingDurationMs).
		Msg("pipeline attempt succeeded")
	return "", nil
}

// degradable runs a stage whose failure is logged and ignored, then records
// the stage's progress either way.
func (o *PipelineOrchestrator) degradable(ctx context.Context, reportID, step string, fn func(context.Context) error) {
	if err := o.stage(ctx, reportID, step, true, fn); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).
			Str("stage", step).
			Msg("stage failed, continuing with fallback")
	}
	o.tracker.SetProgress(ctx, reportID, stageProgress[step], step)
}

func (o *PipelineOrchestrator) stage(ctx context.Context, reportID, step string, degradable bool, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, "pipeline."+step,
		attribute.String("report.id", reportID),
		attribute.String("pipeline.stage", step),
	)
	defer span.End()

	start := o.now()
	err := fn(ctx)
	observability.RecordStage(ctx, step, o.now().Sub(start), stageOutcome(err, degradable))
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// stageOutcome maps a stage error to its metric outcome. Only degradable
// stages count as degraded; a mandatory stage error fails the attempt.
func stageOutcome(err error, degradable bool) observability.StageOutcome {
	switch {
	case err == nil:
		return observability.StageOK
	case degradable:
		return observability.StageDegraded
	default:
		return observability.StageFailed
	}
}

// crosswalkCandidates flattens batch lookup results in source-code order,
// keeping one mapping per CPT code (the first, which has the highest confidence).
func crosswalkCandidates(sourceCodes []string, mapped map[string][]*entities.CPTMapping) []*entities.CPTMapping {
	seen := make(map[string]bool)
	var candidates []*entities.CPTMapping
	for _, code := range sourceCodes {
		for _, m := range mapped[code] {
			if seen[m.TargetCode] {
				continue
			}
			seen[m.TargetCode] = true
			candidates = append(candidates, m)
		}
	}
	entities.SortMappingsByConfidence(candidates)
	return candidates
}

func classifyFailure(err error, stage string, at time.Time) *entities.PipelineFailure {
	return &entities.PipelineFailure{
		Kind:      failureKind(err),
		Message:   entities.TruncateErrorMessage(err.Error()),
		Stage:     stage,
		Timestamp: at,
	}
}

func failureKind(err error) entities.FailureKind {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeTimeout:
		return entities.FailureKindTimeout
	case apperrors.ErrorTypeParse:
		return entities.FailureKindParse
	case apperrors.ErrorTypeExternal:
		return entities.FailureKindExternal
	case apperrors.ErrorTypePersistence:
		return entities.FailureKindPersistence
	case apperrors.ErrorTypeValidation, apperrors.ErrorTypeNotFound:
		return entities.FailureKindInput
	default:
		return entities.FailureKindInternal
	}
}
