package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/domain/providers"
	"github.com/zatekoja/clinicalcoding/internal/domain/repositories"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/observability"
	"github.com/zatekoja/clinicalcoding/pkg/config"
	apperrors "github.com/zatekoja/clinicalcoding/pkg/errors"
)

const noteText = "Chief complaint: follow-up. Assessment: uncontrolled type 2 diabetes. Worsening hypertension. " +
	"Plan: laparoscopic appendectomy referral. Seen by [PROVIDER_1] on [DATE_1]."

const filterFixture = `{
	"filtered_text": "Assessment: uncontrolled type 2 diabetes. Worsening hypertension.",
	"encounter_type": "office_visit",
	"provider_placeholder": "[PROVIDER_1]",
	"service_date_placeholder": "[DATE_7]",
	"billed_codes_found": ["99213"]
}`

type pipelineFixture struct {
	reports       *MockReportRepo
	encounters    *MockEncounterRepo
	completer     *MockCompletionProvider
	extractor     *MockExtractionProvider
	crosswalkRepo *MockCrosswalkRepo
	publisher     *MockProgressPublisher

	orchestrator *PipelineOrchestrator
	progress     []int
	steps        []string
	failures     []recordedFailure
	delays       []time.Duration
	completed    *repositories.ReportResult
}

type recordedFailure struct {
	failure    *entities.PipelineFailure
	retryCount int
	terminal   bool
	ctxErr     error
}

func newPipelineFixture(t *testing.T, report *entities.Report, maxRetries int) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{
		reports:       new(MockReportRepo),
		encounters:    new(MockEncounterRepo),
		completer:     new(MockCompletionProvider),
		extractor:     new(MockExtractionProvider),
		crosswalkRepo: new(MockCrosswalkRepo),
		publisher:     new(MockProgressPublisher),
	}

	crosswalk, err := NewCrosswalkService(f.crosswalkRepo, 100)
	require.NoError(t, err)

	cfg := config.DefaultPipelineConfig()
	cfg.MaxRetries = maxRetries

	f.orchestrator = NewPipelineOrchestrator(
		f.reports,
		f.encounters,
		NewRelevanceFilterService(f.completer, time.Second),
		NewCodeInferenceService(f.extractor, time.Second),
		crosswalk,
		NewCodingAnalysisService(f.completer, time.Second),
		NewProgressTracker(f.reports, f.publisher),
		cfg,
	)
	f.orchestrator.sleep = func(_ context.Context, d time.Duration) error {
		f.delays = append(f.delays, d)
		return nil
	}

	f.reports.On("GetByID", mock.Anything, report.ID).Return(report, nil)
	f.reports.On("MarkProcessing", mock.Anything, report.ID, mock.Anything).
		Run(func(mock.Arguments) {
			f.progress = append(f.progress, 0)
			f.steps = append(f.steps, StepStarting)
		}).
		Return(nil)
	f.reports.On("UpdateProgress", mock.Anything, report.ID, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			f.progress = append(f.progress, args.Int(2))
			f.steps = append(f.steps, args.String(3))
		}).
		Return(nil)
	f.reports.On("RecordFailure", mock.Anything, report.ID, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			f.failures = append(f.failures, recordedFailure{
				failure:    args.Get(2).(*entities.PipelineFailure),
				retryCount: args.Int(3),
				terminal:   args.Bool(4),
				ctxErr:     args.Get(0).(context.Context).Err(),
			})
		}).
		Return(nil)
	f.publisher.On("PublishProgress", mock.Anything, mock.Anything).Return(nil)

	return f
}

func (f *pipelineFixture) expectComplete(err error) {
	f.reports.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { f.completed = args.Get(2).(*repositories.ReportResult) }).
		Return(err)
}

func (f *pipelineFixture) expectEncounter(input *entities.EncounterInput) {
	f.encounters.On("GetInput", mock.Anything, input.EncounterID).Return(input, nil)
}

func (f *pipelineFixture) expectHealthyExtraction() {
	f.extractor.On("InferDiagnosisCodes", mock.Anything, mock.Anything).Return([]providers.CodeMatch{
		{Code: "E11.65", Score: 0.91, Text: "uncontrolled type 2 diabetes"},
	}, nil)
	f.extractor.On("InferProcedureCodes", mock.Anything, mock.Anything).Return([]providers.CodeMatch{
		{Code: "80146002", Score: 0.88, Text: "appendectomy"},
	}, nil)
	f.extractor.On("DetectEntities", mock.Anything, mock.Anything).Return([]providers.DetectedEntity{
		diagnosisEntity("uncontrolled type 2 diabetes"),
	}, nil)
}

func (f *pipelineFixture) expectFailingExtraction() {
	f.extractor.On("InferDiagnosisCodes", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))
	f.extractor.On("InferProcedureCodes", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))
	f.extractor.On("DetectEntities", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))
}

func (f *pipelineFixture) expectAnalysis() {
	f.completer.On("Complete", mock.Anything, isCall(codeIdentificationSystemPrompt)).Return(completion(identificationFixture), nil)
	f.completer.On("Complete", mock.Anything, isCall(qualityComplianceSystemPrompt)).Return(completion(qualityFixture), nil)
}

func pendingReport(retryCount int) *entities.Report {
	return &entities.Report{
		ID:          "rep-1",
		EncounterID: "enc-1",
		Status:      entities.ReportStatusPending,
		RetryCount:  retryCount,
	}
}

func encounterInput(billed []entities.BilledCode) *entities.EncounterInput {
	return &entities.EncounterInput{
		EncounterID:      "enc-1",
		DeidentifiedText: noteText,
		PHITokens:        map[string]string{"[PROVIDER_1]": "Dr. Example", "[DATE_1]": "2026-01-05"},
		BilledCodes:      billed,
	}
}

func assertNonDecreasing(t *testing.T, progress []int) {
	t.Helper()
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1], "progress went backwards: %v", progress)
	}
}

func TestPipeline_HappyPath(t *testing.T) {
	f := newPipelineFixture(t, pendingReport(0), 3)
	f.expectEncounter(encounterInput([]entities.BilledCode{{Code: "99213", CodeType: entities.CodeTypeCPT}}))
	f.completer.On("Complete", mock.Anything, isCall(relevanceFilterSystemPrompt)).Return(completion(filterFixture), nil)
	f.expectHealthyExtraction()
	f.crosswalkRepo.On("FindBySourceCodes", mock.Anything, []string{"80146002"}).Return(map[string][]*entities.CPTMapping{
		"80146002": {
			{SourceCode: "80146002", TargetCode: "44950", MappingType: entities.MappingTypeExact, Confidence: floatPtr(0.95)},
			{SourceCode: "80146002", TargetCode: "44970", MappingType: entities.MappingTypeNarrower, Confidence: floatPtr(0.5)},
		},
	}, nil)
	f.expectAnalysis()
	f.expectComplete(nil)

	err := f.orchestrator.Run(context.Background(), "rep-1")

	require.NoError(t, err)
	assert.Equal(t, []int{0, 20, 40, 55, 85, 100}, f.progress)
	assert.Equal(t, []string{StepStarting, StepFiltering, StepExtractingCodes, StepCrosswalk, StepAnalyzing, StepFinalizing}, f.steps)
	assert.Empty(t, f.failures)

	require.NotNil(t, f.completed)
	assert.InDelta(t, 42.50, f.completed.IncrementalRevenue, 1e-9)
	assert.Equal(t, "office_visit", f.completed.EncounterType)
	assert.Equal(t, "gpt-4o", f.completed.ModelIdentifier)
	assert.Len(t, f.completed.ExtractedCodes, 2)
	assert.Equal(t, 450, f.completed.Usage.TotalTokens)

	billed, err := json.Marshal(f.completed.BilledCodes)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"code":"99213","type":"CPT"}]`, string(billed))

	// the filtered note and the confident crosswalk candidate reach the analysis
	f.completer.AssertCalled(t, "Complete", mock.Anything, mock.MatchedBy(func(req providers.CompletionRequest) bool {
		return req.SystemPrompt == codeIdentificationSystemPrompt &&
			strings.Contains(req.UserPrompt, "44950") &&
			!strings.Contains(req.UserPrompt, "44970") &&
			!strings.Contains(req.UserPrompt, "Chief complaint")
	}))
}

func TestPipeline_DegradableStagesStillComplete(t *testing.T) {
	f := newPipelineFixture(t, pendingReport(0), 3)
	f.expectEncounter(encounterInput(nil))
	f.completer.On("Complete", mock.Anything, isCall(relevanceFilterSystemPrompt)).
		Return(nil, apperrors.NewExternalError("openai chat completion failed", errors.New("502")))
	f.expectFailingExtraction()
	f.expectAnalysis()
	f.expectComplete(nil)

	err := f.orchestrator.Run(context.Background(), "rep-1")

	require.NoError(t, err)
	assert.Equal(t, []int{0, 20, 40, 55, 85, 100}, f.progress)
	assert.Empty(t, f.failures)
	assert.Empty(t, f.completed.ExtractedCodes)
	assert.Empty(t, f.completed.EncounterType)
	// billed codes come from the analysis when neither the encounter nor the filter had any
	assert.Equal(t, []entities.BilledCode{{Code: "99213", CodeType: entities.CodeTypeCPT}}, f.completed.BilledCodes)
	f.crosswalkRepo.AssertNotCalled(t, "FindBySourceCodes", mock.Anything, mock.Anything)

	f.completer.AssertCalled(t, "Complete", mock.Anything, mock.MatchedBy(func(req providers.CompletionRequest) bool {
		return req.SystemPrompt == codeIdentificationSystemPrompt && strings.Contains(req.UserPrompt, "Chief complaint")
	}))
}

func TestPipeline_CrosswalkFailureDegrades(t *testing.T) {
	f := newPipelineFixture(t, pendingReport(0), 3)
	f.expectEncounter(encounterInput(nil))
	f.completer.On("Complete", mock.Anything, isCall(relevanceFilterSystemPrompt)).Return(completion(filterFixture), nil)
	f.expectHealthyExtraction()
	f.crosswalkRepo.On("FindBySourceCodes", mock.Anything, mock.Anything).
		Return(nil, apperrors.NewInternalError("failed to query crosswalk", errors.New("connection reset")))
	f.expectAnalysis()
	f.expectComplete(nil)

	err := f.orchestrator.Run(context.Background(), "rep-1")

	require.NoError(t, err)
	assert.Equal(t, 100, f.progress[len(f.progress)-1])
	assert.Empty(t, f.failures)
}

func TestPipeline_MandatoryFailureExhaustsRetries(t *testing.T) {
	f := newPipelineFixture(t, pendingReport(2), 3)
	f.expectEncounter(encounterInput(nil))
	f.completer.On("Complete", mock.Anything, isCall(relevanceFilterSystemPrompt)).Return(completion(filterFixture), nil)
	f.expectHealthyExtraction()
	f.crosswalkRepo.On("FindBySourceCodes", mock.Anything, mock.Anything).Return(map[string][]*entities.CPTMapping{}, nil)
	f.completer.On("Complete", mock.Anything, isCall(codeIdentificationSystemPrompt)).Return(completion("no codes today"), nil)

	err := f.orchestrator.Run(context.Background(), "rep-1")

	require.Error(t, err)
	var parseErr *AnalysisParseError
	assert.ErrorAs(t, err, &parseErr)

	require.Len(t, f.failures, 3)
	for i, rec := range f.failures {
		assert.Equal(t, 3+i, rec.retryCount)
		assert.Equal(t, i == 2, rec.terminal)
		assert.Equal(t, entities.FailureKindParse, rec.failure.Kind)
		assert.Equal(t, StepAnalyzing, rec.failure.Stage)
		assert.NotEmpty(t, rec.failure.Message)
	}
	// retryCount == maxRetries + starting count
	assert.Equal(t, 5, f.failures[2].retryCount)
	assert.Equal(t, []time.Duration{8 * time.Second, 16 * time.Second}, f.delays)
	f.reports.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)

	// each attempt restarts at 0 and stops at the last stage before analysis
	attempts := splitAttempts(f.progress)
	require.Len(t, attempts, 3)
	for _, attempt := range attempts {
		assertNonDecreasing(t, attempt)
		assert.Equal(t, []int{0, 20, 40, 55}, attempt)
	}
}

func TestPipeline_SucceedsOnRetry(t *testing.T) {
	f := newPipelineFixture(t, pendingReport(0), 3)
	f.expectEncounter(encounterInput(nil))
	f.completer.On("Complete", mock.Anything, isCall(relevanceFilterSystemPrompt)).Return(completion(filterFixture), nil)
	f.expectHealthyExtraction()
	f.crosswalkRepo.On("FindBySourceCodes", mock.Anything, mock.Anything).Return(map[string][]*entities.CPTMapping{}, nil)
	f.completer.On("Complete", mock.Anything, isCall(codeIdentificationSystemPrompt)).
		Return(nil, apperrors.NewExternalError("openai chat completion failed", errors.New("503"))).Once()
	f.expectAnalysis()
	f.expectComplete(nil)

	err := f.orchestrator.Run(context.Background(), "rep-1")

	require.NoError(t, err)
	require.Len(t, f.failures, 1)
	assert.Equal(t, entities.FailureKindExternal, f.failures[0].failure.Kind)
	assert.Equal(t, 1, f.failures[0].retryCount)
	assert.False(t, f.failures[0].terminal)
	assert.Equal(t, []time.Duration{2 * time.Second}, f.delays)
	assert.Equal(t, 100, f.progress[len(f.progress)-1])
}

func TestPipeline_PersistenceFailureIsFatal(t *testing.T) {
	f := newPipelineFixture(t, pendingReport(0), 1)
	f.expectEncounter(encounterInput(nil))
	f.completer.On("Complete", mock.Anything, isCall(relevanceFilterSystemPrompt)).Return(completion(filterFixture), nil)
	f.expectHealthyExtraction()
	f.crosswalkRepo.On("FindBySourceCodes", mock.Anything, mock.Anything).Return(map[string][]*entities.CPTMapping{}, nil)
	f.expectAnalysis()
	f.expectComplete(errors.New("disk full"))

	err := f.orchestrator.Run(context.Background(), "rep-1")

	require.Error(t, err)
	require.Len(t, f.failures, 1)
	assert.Equal(t, entities.FailureKindPersistence, f.failures[0].failure.Kind)
	assert.Equal(t, StepFinalizing, f.failures[0].failure.Stage)
	assert.True(t, f.failures[0].terminal)
	assert.Empty(t, f.delays)
}

func TestPipeline_MissingEncounterIsInputError(t *testing.T) {
	f := newPipelineFixture(t, pendingReport(0), 1)
	f.encounters.On("GetInput", mock.Anything, "enc-1").Return(nil, apperrors.NewNotFoundError("encounter not found"))

	err := f.orchestrator.Run(context.Background(), "rep-1")

	require.Error(t, err)
	require.Len(t, f.failures, 1)
	assert.Equal(t, entities.FailureKindInput, f.failures[0].failure.Kind)
	assert.Equal(t, StepLoading, f.failures[0].failure.Stage)
	f.completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestPipeline_TerminalFailureRecordedAfterCancel(t *testing.T) {
	f := newPipelineFixture(t, pendingReport(0), 1)
	ctx, cancel := context.WithCancel(context.Background())
	f.encounters.On("GetInput", mock.Anything, "enc-1").
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, apperrors.NewNotFoundError("encounter not found"))

	err := f.orchestrator.Run(ctx, "rep-1")

	require.Error(t, err)
	require.Len(t, f.failures, 1)
	assert.True(t, f.failures[0].terminal)
	assert.NoError(t, f.failures[0].ctxErr)
}

func TestPipeline_CancelDuringBackoffRecordsTerminal(t *testing.T) {
	f := newPipelineFixture(t, pendingReport(0), 3)
	ctx, cancel := context.WithCancel(context.Background())
	f.encounters.On("GetInput", mock.Anything, "enc-1").Return(nil, errors.New("connection reset"))
	f.orchestrator.sleep = func(ctx context.Context, d time.Duration) error {
		f.delays = append(f.delays, d)
		cancel()
		return ctx.Err()
	}

	err := f.orchestrator.Run(ctx, "rep-1")

	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, f.delays, 1)
	require.Len(t, f.failures, 2)
	assert.False(t, f.failures[0].terminal)
	assert.True(t, f.failures[1].terminal)
	assert.Equal(t, 1, f.failures[1].retryCount)
	assert.Equal(t, entities.FailureKindPersistence, f.failures[1].failure.Kind)
	assert.NoError(t, f.failures[1].ctxErr)
	f.encounters.AssertNumberOfCalls(t, "GetInput", 1)
}

func TestStageOutcome(t *testing.T) {
	boom := errors.New("boom")
	assert.Equal(t, observability.StageOK, stageOutcome(nil, true))
	assert.Equal(t, observability.StageOK, stageOutcome(nil, false))
	assert.Equal(t, observability.StageDegraded, stageOutcome(boom, true))
	assert.Equal(t, observability.StageFailed, stageOutcome(boom, false))
}

func TestPipeline_CompleteReportIsNoop(t *testing.T) {
	report := pendingReport(1)
	report.Status = entities.ReportStatusComplete
	f := newPipelineFixture(t, report, 3)

	err := f.orchestrator.Run(context.Background(), "rep-1")

	require.NoError(t, err)
	f.reports.AssertNotCalled(t, "MarkProcessing", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.progress)
}

func TestPipeline_UnknownReport(t *testing.T) {
	reports := new(MockReportRepo)
	reports.On("GetByID", mock.Anything, "missing").Return(nil, apperrors.NewNotFoundError("report not found"))

	orchestrator := NewPipelineOrchestrator(reports, nil, nil, nil, nil, nil, nil, config.DefaultPipelineConfig())
	err := orchestrator.Run(context.Background(), "missing")

	assert.True(t, apperrors.IsNotFound(err))
	reports.AssertNotCalled(t, "RecordFailure", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFailureKind(t *testing.T) {
	tests := []struct {
		err  error
		want entities.FailureKind
	}{
		{apperrors.NewTimeoutError("slow", nil), entities.FailureKindTimeout},
		{newAnalysisParseError(callQualityCompliance, errors.New("bad")), entities.FailureKindParse},
		{apperrors.NewExternalError("down", errors.New("503")), entities.FailureKindExternal},
		{apperrors.NewPersistenceError("write", apperrors.NewInternalError("sql", nil)), entities.FailureKindPersistence},
		{apperrors.NewValidationError("empty"), entities.FailureKindInput},
		{apperrors.NewNotFoundError("gone"), entities.FailureKindInput},
		{errors.New("boom"), entities.FailureKindInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, failureKind(tt.err), tt.err.Error())
	}
}

func TestCrosswalkCandidates_DedupeByTarget(t *testing.T) {
	mapped := map[string][]*entities.CPTMapping{
		"A": {{SourceCode: "A", TargetCode: "44950", Confidence: floatPtr(0.8)}},
		"B": {
			{SourceCode: "B", TargetCode: "44970", Confidence: floatPtr(0.9)},
			{SourceCode: "B", TargetCode: "44950", Confidence: floatPtr(0.95)},
		},
	}

	candidates := crosswalkCandidates([]string{"A", "B", "C"}, mapped)

	require.Len(t, candidates, 2)
	assert.Equal(t, "44970", candidates[0].TargetCode)
	assert.Equal(t, "A", candidates[1].SourceCode)
}

// splitAttempts cuts a progress log at every reset to 0.
func splitAttempts(progress []int) [][]int {
	var attempts [][]int
	for _, p := range progress {
		if p == 0 || len(attempts) == 0 {
			attempts = append(attempts, nil)
		}
		attempts[len(attempts)-1] = append(attempts[len(attempts)-1], p)
	}
	return attempts
}
