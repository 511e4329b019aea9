package evaluation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	apperrors "github.com/zatekoja/clinicalcoding/pkg/errors"
)

type MockReportSource struct {
	mock.Mock
}

func (m *MockReportSource) GetByID(ctx context.Context, id string) (*entities.Report, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Report), args.Error(1)
}

func TestRunner_Run(t *testing.T) {
	source := new(MockReportSource)
	source.On("GetByID", mock.Anything, "rep-1").Return(&entities.Report{
		ID:                   "rep-1",
		Status:               entities.ReportStatusComplete,
		EncounterType:        "office_visit",
		IncrementalRevenue:   42.5,
		ProcessingDurationMs: 2000,
		SuggestedCodes: []entities.CodeSuggestion{
			{Code: "93000", Confidence: 0.7},
			{Code: "99214", Confidence: 0.9},
		},
	}, nil)
	source.On("GetByID", mock.Anything, "rep-2").Return(&entities.Report{
		ID:                   "rep-2",
		Status:               entities.ReportStatusComplete,
		ProcessingDurationMs: 4000,
		SuggestedCodes:       []entities.CodeSuggestion{{Code: "36415", Confidence: 0.8}},
	}, nil)
	source.On("GetByID", mock.Anything, "rep-3").Return(&entities.Report{
		ID:     "rep-3",
		Status: entities.ReportStatusFailed,
	}, nil)
	source.On("GetByID", mock.Anything, "rep-4").Return(nil, apperrors.NewNotFoundError("report not found"))

	runner := NewRunner(source, NewGuardrails(GuardrailConfig{MinConfidence: 0.5}), 5)
	summary, err := runner.Run(context.Background(), []GoldenEncounter{
		{ID: "g1", ReportID: "rep-1", ExpectedCodes: []string{"99214", "80053"}},
		{ID: "g2", ReportID: "rep-2", EncounterType: "lab", ExpectedCodes: []string{"99213"}},
		{ID: "g3", ReportID: "rep-3", ExpectedCodes: []string{"99214"}},
		{ID: "g4", ReportID: "rep-4", ExpectedCodes: []string{"99214"}},
	})

	require.NoError(t, err)
	assert.Equal(t, 4, summary.TotalEncounters)
	assert.Equal(t, 2, summary.Scored)
	assert.Equal(t, []string{"g3", "g4"}, summary.Skipped)
	assert.InDelta(t, 0.25, summary.AvgRecallAtK, 1e-9)
	assert.InDelta(t, 0.5, summary.AvgMRRAtK, 1e-9)
	assert.InDelta(t, 0.25, summary.AvgPrecisionAtK, 1e-9)
	assert.InDelta(t, 42.5, summary.TotalRevenue, 1e-9)
	assert.Equal(t, 3*time.Second, summary.AvgProcessingDur)

	require.Contains(t, summary.ByEncounterType, "office_visit")
	require.Contains(t, summary.ByEncounterType, "lab")
	assert.Equal(t, 1, summary.ByEncounterType["office_visit"].Count)
	assert.InDelta(t, 0.5, summary.ByEncounterType["office_visit"].AvgRecallAtK, 1e-9)
	assert.InDelta(t, 0.0, summary.ByEncounterType["lab"].AvgRecallAtK, 1e-9)
	source.AssertExpectations(t)
}

func TestRunner_EmptyGoldenSet(t *testing.T) {
	runner := NewRunner(new(MockReportSource), NewGuardrails(GuardrailConfig{}), 0)

	summary, err := runner.Run(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 10, summary.K)
	assert.Zero(t, summary.Scored)
	assert.Zero(t, summary.AvgRecallAtK)
}
