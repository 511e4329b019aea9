package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/domain/providers"
	"github.com/zatekoja/clinicalcoding/internal/domain/repositories"
)

// Mocks

type MockCrosswalkRepo struct {
	mock.Mock
}

func (m *MockCrosswalkRepo) FindBySourceCode(ctx context.Context, sourceCode string) ([]*entities.CPTMapping, error) {
	args := m.Called(ctx, sourceCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.CPTMapping), args.Error(1)
}

func (m *MockCrosswalkRepo) FindBySourceCodes(ctx context.Context, sourceCodes []string) (map[string][]*entities.CPTMapping, error) {
	args := m.Called(ctx, sourceCodes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string][]*entities.CPTMapping), args.Error(1)
}

func (m *MockCrosswalkRepo) FindByTargetCode(ctx context.Context, targetCode string) ([]*entities.CPTMapping, error) {
	args := m.Called(ctx, targetCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.CPTMapping), args.Error(1)
}

func (m *MockCrosswalkRepo) TopSourceCodes(ctx context.Context, limit int) ([]string, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockReportRepo struct {
	mock.Mock
}

func (m *MockReportRepo) GetByID(ctx context.Context, id string) (*entities.Report, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Report), args.Error(1)
}

func (m *MockReportRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	return m.Called(ctx, id, startedAt).Error(0)
}

func (m *MockReportRepo) UpdateProgress(ctx context.Context, id string, percent int, step string) error {
	return m.Called(ctx, id, percent, step).Error(0)
}

func (m *MockReportRepo) RecordFailure(ctx context.Context, id string, failure *entities.PipelineFailure, retryCount int, terminal bool) error {
	return m.Called(ctx, id, failure, retryCount, terminal).Error(0)
}

func (m *MockReportRepo) Complete(ctx context.Context, id string, result *repositories.ReportResult) error {
	return m.Called(ctx, id, result).Error(0)
}

func (m *MockReportRepo) ListByStatus(ctx context.Context, status entities.ReportStatus, limit int) ([]*entities.Report, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Report), args.Error(1)
}

type MockEncounterRepo struct {
	mock.Mock
}

func (m *MockEncounterRepo) GetInput(ctx context.Context, encounterID string) (*entities.EncounterInput, error) {
	args := m.Called(ctx, encounterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.EncounterInput), args.Error(1)
}

type MockCompletionProvider struct {
	mock.Mock
}

func (m *MockCompletionProvider) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.CompletionResponse), args.Error(1)
}

type MockExtractionProvider struct {
	mock.Mock
}

func (m *MockExtractionProvider) InferDiagnosisCodes(ctx context.Context, text string) ([]providers.CodeMatch, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]providers.CodeMatch), args.Error(1)
}

func (m *MockExtractionProvider) InferProcedureCodes(ctx context.Context, text string) ([]providers.CodeMatch, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]providers.CodeMatch), args.Error(1)
}

func (m *MockExtractionProvider) DetectEntities(ctx context.Context, text string) ([]providers.DetectedEntity, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]providers.DetectedEntity), args.Error(1)
}

type MockProgressPublisher struct {
	mock.Mock
}

func (m *MockProgressPublisher) PublishProgress(ctx context.Context, event *entities.ReportProgressEvent) error {
	return m.Called(ctx, event).Error(0)
}

func floatPtr(v float64) *float64 {
	return &v
}

func completion(text string) *providers.CompletionResponse {
	return &providers.CompletionResponse{
		Text:             text,
		Model:            "gpt-4o",
		PromptTokens:     100,
		CompletionTokens: 50,
		CostUSD:          0.01,
	}
}
