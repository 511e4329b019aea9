package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/domain/providers"
)

func diagnosisEntity(text string) providers.DetectedEntity {
	return providers.DetectedEntity{
		Text:     text,
		Category: "MEDICAL_CONDITION",
		Score:    0.9,
		Traits:   []string{providers.TraitDiagnosis},
	}
}

func TestInferCodes_DedupeFilterAndOrder(t *testing.T) {
	extractor := new(MockExtractionProvider)
	extractor.On("InferDiagnosisCodes", mock.Anything, mock.Anything).Return([]providers.CodeMatch{
		{Code: "E11.9", Score: 0.7, Text: "type 2 diabetes"},
		{Code: "E11.9", Score: 0.92, Text: "type 2 diabetes mellitus"},
		{Code: "I10", Score: 0.85, Text: "hypertension"},
		{Code: "R51", Score: 0.99, Text: "headache resolved last year"},
	}, nil)
	extractor.On("InferProcedureCodes", mock.Anything, mock.Anything).Return([]providers.CodeMatch{
		{Code: "73761001", Score: 0.6, Text: "colonoscopy"},
		{Code: "80146002", Score: 0.8, Text: "appendectomy"},
	}, nil)
	extractor.On("DetectEntities", mock.Anything, mock.Anything).Return([]providers.DetectedEntity{
		diagnosisEntity("Type 2 diabetes mellitus"),
		diagnosisEntity("hypertension"),
		{Text: "headache", Traits: []string{"SYMPTOM"}},
	}, nil)

	svc := NewCodeInferenceService(extractor, time.Second)
	result, err := svc.InferCodes(context.Background(), "note")

	require.NoError(t, err)
	require.Len(t, result.DiagnosisCodes, 2)
	assert.Equal(t, "E11.9", result.DiagnosisCodes[0].Code)
	assert.Equal(t, 0.92, result.DiagnosisCodes[0].Confidence)
	assert.Equal(t, "I10", result.DiagnosisCodes[1].Code)
	assert.Equal(t, entities.CodeTypeICD10CM, result.DiagnosisCodes[0].CodeType)

	require.Len(t, result.ProcedureCodes, 2)
	assert.Equal(t, "80146002", result.ProcedureCodes[0].Code)
	assert.Equal(t, entities.CodeTypeSNOMEDCT, result.ProcedureCodes[0].CodeType)
	assert.Len(t, result.All(), 4)
}

func TestInferCodes_NoDiagnosisEntitiesSkipsFilter(t *testing.T) {
	extractor := new(MockExtractionProvider)
	extractor.On("InferDiagnosisCodes", mock.Anything, mock.Anything).Return([]providers.CodeMatch{
		{Code: "R51", Score: 0.5, Text: "headache"},
	}, nil)
	extractor.On("InferProcedureCodes", mock.Anything, mock.Anything).Return([]providers.CodeMatch{}, nil)
	extractor.On("DetectEntities", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	svc := NewCodeInferenceService(extractor, time.Second)
	result, err := svc.InferCodes(context.Background(), "note")

	require.NoError(t, err)
	require.Len(t, result.DiagnosisCodes, 1)
	assert.Empty(t, result.DiagnosisEntities)
}

func TestInferCodes_EachFailureDegradesOnlyItself(t *testing.T) {
	extractor := new(MockExtractionProvider)
	extractor.On("InferDiagnosisCodes", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
	extractor.On("InferProcedureCodes", mock.Anything, mock.Anything).Return([]providers.CodeMatch{
		{Code: "80146002", Score: 0.8, Text: "appendectomy"},
	}, nil)
	extractor.On("DetectEntities", mock.Anything, mock.Anything).Return([]providers.DetectedEntity{}, nil)

	svc := NewCodeInferenceService(extractor, time.Second)
	result, err := svc.InferCodes(context.Background(), "note")

	require.NoError(t, err)
	assert.Empty(t, result.DiagnosisCodes)
	assert.Len(t, result.ProcedureCodes, 1)
}

func TestInferCodes_PerCallTimeout(t *testing.T) {
	extractor := new(MockExtractionProvider)
	extractor.On("InferDiagnosisCodes", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(nil, context.DeadlineExceeded)
	extractor.On("InferProcedureCodes", mock.Anything, mock.Anything).Return([]providers.CodeMatch{
		{Code: "80146002", Score: 0.8},
	}, nil)
	extractor.On("DetectEntities", mock.Anything, mock.Anything).Return([]providers.DetectedEntity{}, nil)

	svc := NewCodeInferenceService(extractor, 20*time.Millisecond)
	result, err := svc.InferCodes(context.Background(), "note")

	require.NoError(t, err)
	assert.Empty(t, result.DiagnosisCodes)
	assert.Len(t, result.ProcedureCodes, 1)
}

func TestInferCodes_TruncatesInputs(t *testing.T) {
	text := strings.Repeat("a", 25000)

	var diagnosisLen, procedureLen, detectionLen int
	extractor := new(MockExtractionProvider)
	extractor.On("InferDiagnosisCodes", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { diagnosisLen = utf8.RuneCountInString(args.String(1)) }).
		Return([]providers.CodeMatch{}, nil)
	extractor.On("InferProcedureCodes", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { procedureLen = utf8.RuneCountInString(args.String(1)) }).
		Return([]providers.CodeMatch{}, nil)
	extractor.On("DetectEntities", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { detectionLen = utf8.RuneCountInString(args.String(1)) }).
		Return([]providers.DetectedEntity{}, nil)

	svc := NewCodeInferenceService(extractor, time.Second)
	_, err := svc.InferCodes(context.Background(), text)

	require.NoError(t, err)
	assert.Equal(t, 10000, diagnosisLen)
	assert.Equal(t, 10000, procedureLen)
	assert.Equal(t, 20000, detectionLen)
}

func TestInferCodes_TruncatesMultibyteWithinCharacterCap(t *testing.T) {
	text := strings.Repeat("é", 15000)

	extractor := new(MockExtractionProvider)
	extractor.On("InferDiagnosisCodes", mock.Anything, mock.MatchedBy(func(s string) bool {
		return utf8.ValidString(s) && utf8.RuneCountInString(s) <= 10000
	})).Return([]providers.CodeMatch{}, nil)
	extractor.On("InferProcedureCodes", mock.Anything, mock.MatchedBy(func(s string) bool {
		return utf8.ValidString(s) && utf8.RuneCountInString(s) <= 10000
	})).Return([]providers.CodeMatch{}, nil)
	extractor.On("DetectEntities", mock.Anything, mock.MatchedBy(func(s string) bool {
		return utf8.ValidString(s) && utf8.RuneCountInString(s) <= 20000
	})).Return([]providers.DetectedEntity{}, nil)

	svc := NewCodeInferenceService(extractor, time.Second)
	_, err := svc.InferCodes(context.Background(), text)

	require.NoError(t, err)
	extractor.AssertExpectations(t)
}

func TestSpanSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, spanSimilarity("Hypertension", "hypertension"))
	assert.GreaterOrEqual(t, spanSimilarity("type 2 diabetes", "type 2 diabetes mellitus"), 0.6)
	assert.Less(t, spanSimilarity("headache", "hypertension"), 0.6)
	assert.Equal(t, 0.0, spanSimilarity("", ""))
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abc", truncateUTF8("abc", 10))
	assert.Equal(t, "a", truncateUTF8("aé", 2))
	assert.Equal(t, "aé", truncateUTF8("aéb", 3))
}
