package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/domain/providers"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/clinicalcoding/pkg/errors"
)

const (
	callCodeIdentification = "code_identification"
	callQualityCompliance  = "quality_compliance"

	highConfidenceThreshold = 0.8
)

// AnalysisInput is everything the coding analysis sees about one encounter
type AnalysisInput struct {
	Text                 string
	BilledCodes          []entities.BilledCode
	DiagnosisCodes       []entities.ExtractedCode
	CrosswalkSuggestions []*entities.CPTMapping
	EncounterType        string
}

// CodingResult is the merged output of both analysis calls
type CodingResult struct {
	BilledCodes    []entities.BilledCode
	SuggestedCodes []entities.CodeSuggestion
	Findings       *entities.CodingFindings
	Model          string
	Usage          entities.TokenUsage
}

// AnalysisParseError is returned when a completion response does not match
// the expected structure.
type AnalysisParseError struct {
	Call string
	Err  error
}

func (e *AnalysisParseError) Error() string {
	return fmt.Sprintf("%s response: %v", e.Call, e.Err)
}

func (e *AnalysisParseError) Unwrap() error {
	return e.Err
}

func newAnalysisParseError(call string, err error) *AnalysisParseError {
	return &AnalysisParseError{
		Call: call,
		Err:  apperrors.NewParseError(fmt.Sprintf("%s response is malformed", call), err),
	}
}

type codeIdentificationPayload struct {
	BilledCodes        []entities.BilledCode        `json:"billed_codes"`
	SuggestedCodes     []entities.CodeSuggestion    `json:"suggested_codes"`
	AdditionalCodes    []entities.CodeSuggestion    `json:"additional_codes"`
	UncapturedServices []entities.UncapturedService `json:"uncaptured_services"`
}

type auditMetadataPayload struct {
	TotalCodesIdentified *int     `json:"total_codes_identified"`
	HighConfidenceCodes  *int     `json:"high_confidence_codes"`
	QualityScore         float64  `json:"quality_score"`
	ComplianceFlags      []string `json:"compliance_flags"`
	Timestamp            string   `json:"timestamp"`
}

type qualityCompliancePayload struct {
	MissingDocumentation []entities.DocumentationGap   `json:"missing_documentation"`
	DenialRisks          []entities.DenialRisk         `json:"denial_risks"`
	RVUAnalysis          entities.RVUAnalysis          `json:"rvu_analysis"`
	ModifierSuggestions  []entities.ModifierSuggestion `json:"modifier_suggestions"`
	AuditMetadata        auditMetadataPayload          `json:"audit_metadata"`
}

// CodingAnalysisService runs the two-call coding analysis: code
// identification, then quality and compliance review of those codes.
type CodingAnalysisService struct {
	completion providers.CompletionProvider
	timeout    time.Duration
	now        func() time.Time
}

// NewCodingAnalysisService creates a new coding analysis service
func NewCodingAnalysisService(completion providers.CompletionProvider, timeout time.Duration) *CodingAnalysisService {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &CodingAnalysisService{
		completion: completion,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Analyze returns the merged coding result. A response that fails schema
// validation yields an *AnalysisParseError; transport errors are returned as is.
func (s *CodingAnalysisService) Analyze(ctx context.Context, in *AnalysisInput) (*CodingResult, error) {
	if in == nil || in.Text == "" {
		return nil, apperrors.NewValidationError("analysis input text is empty")
	}
	logger := observability.LoggerFromContext(ctx)

	var usage entities.TokenUsage

	identResp, err := s.call(ctx, callCodeIdentification, codeIdentificationSystemPrompt, buildCodeIdentificationPrompt(in))
	if err != nil {
		return nil, err
	}
	usage = usage.Add(usageOf(identResp))

	if err := validateDocument(codeIdentificationValidator, identResp.Text); err != nil {
		return nil, newAnalysisParseError(callCodeIdentification, err)
	}
	var identification codeIdentificationPayload
	if err := json.Unmarshal([]byte(identResp.Text), &identification); err != nil {
		return nil, newAnalysisParseError(callCodeIdentification, err)
	}
	identification.normalize()

	qualityResp, err := s.call(ctx, callQualityCompliance, qualityComplianceSystemPrompt, buildQualityCompliancePrompt(in, &identification))
	if err != nil {
		return nil, err
	}
	usage = usage.Add(usageOf(qualityResp))

	if err := validateDocument(qualityComplianceValidator, qualityResp.Text); err != nil {
		return nil, newAnalysisParseError(callQualityCompliance, err)
	}
	var quality qualityCompliancePayload
	if err := json.Unmarshal([]byte(qualityResp.Text), &quality); err != nil {
		return nil, newAnalysisParseError(callQualityCompliance, err)
	}

	suggested := mergeRevenueImpact(identification.SuggestedCodes, quality.RVUAnalysis.PerCodeDetail)
	findings := &entities.CodingFindings{
		AdditionalCodes:      identification.AdditionalCodes,
		UncapturedServices:   identification.UncapturedServices,
		MissingDocumentation: nonNilSlice(quality.MissingDocumentation),
		DenialRisks:          nonNilSlice(quality.DenialRisks),
		RVUAnalysis:          quality.RVUAnalysis,
		ModifierSuggestions:  nonNilSlice(quality.ModifierSuggestions),
		AuditMetadata:        s.auditMetadata(quality.AuditMetadata, suggested, identification.AdditionalCodes),
	}
	findings.RVUAnalysis.PerCodeDetail = nonNilSlice(findings.RVUAnalysis.PerCodeDetail)

	billed := identification.BilledCodes
	if len(in.BilledCodes) > 0 {
		billed = in.BilledCodes
	}

	model := qualityResp.Model
	if model == "" {
		model = identResp.Model
	}

	logger.Info().
		Int("suggested_codes", len(suggested)).
		Int("additional_codes", len(findings.AdditionalCodes)).
		Int("denial_risks", len(findings.DenialRisks)).
		Int("total_tokens", usage.TotalTokens).
		Msg("coding analysis finished")

	return &CodingResult{
		BilledCodes:    billed,
		SuggestedCodes: suggested,
		Findings:       findings,
		Model:          model,
		Usage:          usage,
	}, nil
}

func (s *CodingAnalysisService) call(ctx context.Context, name, systemPrompt, userPrompt string) (*providers.CompletionResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.completion.Complete(callCtx, providers.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		JSONMode:     true,
		MaxTokens:    4096,
		Temperature:  0.1,
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewTimeoutError(fmt.Sprintf("%s call timed out", name), err)
		}
		return nil, err
	}
	return resp, nil
}

func (p *codeIdentificationPayload) normalize() {
	p.BilledCodes = nonNilSlice(p.BilledCodes)
	p.SuggestedCodes = nonNilSlice(p.SuggestedCodes)
	p.AdditionalCodes = nonNilSlice(p.AdditionalCodes)
	p.UncapturedServices = nonNilSlice(p.UncapturedServices)
	for i := range p.SuggestedCodes {
		p.SuggestedCodes[i].SupportingText = nonNilSlice(p.SuggestedCodes[i].SupportingText)
	}
	for i := range p.AdditionalCodes {
		p.AdditionalCodes[i].SupportingText = nonNilSlice(p.AdditionalCodes[i].SupportingText)
	}
}

// auditMetadata fills counts the model omitted from the suggestions
// themselves and falls back to the current time for a missing or
// unparseable timestamp.
func (s *CodingAnalysisService) auditMetadata(p auditMetadataPayload, suggested, additional []entities.CodeSuggestion) entities.AuditMetadata {
	meta := entities.AuditMetadata{
		QualityScore:    p.QualityScore,
		ComplianceFlags: nonNilSlice(p.ComplianceFlags),
	}

	if p.TotalCodesIdentified != nil {
		meta.TotalCodesIdentified = *p.TotalCodesIdentified
	} else {
		meta.TotalCodesIdentified = len(suggested) + len(additional)
	}

	if p.HighConfidenceCodes != nil {
		meta.HighConfidenceCodes = *p.HighConfidenceCodes
	} else {
		for _, c := range suggested {
			if c.Confidence >= highConfidenceThreshold {
				meta.HighConfidenceCodes++
			}
		}
	}

	ts, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		ts = s.now()
	}
	meta.Timestamp = ts.UTC()
	return meta
}

// mergeRevenueImpact sets each suggestion's revenue impact from the per-code
// RVU detail with the same code; suggestions without detail get zero.
func mergeRevenueImpact(suggested []entities.CodeSuggestion, detail []entities.RVUCodeDetail) []entities.CodeSuggestion {
	impact := make(map[string]float64, len(detail))
	for _, d := range detail {
		if _, seen := impact[d.Code]; !seen {
			impact[d.Code] = d.RevenueImpact
		}
	}

	merged := make([]entities.CodeSuggestion, len(suggested))
	for i, c := range suggested {
		v := impact[c.Code]
		c.RevenueImpact = &v
		merged[i] = c
	}
	return merged
}

func usageOf(resp *providers.CompletionResponse) entities.TokenUsage {
	return entities.TokenUsage{
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.PromptTokens + resp.CompletionTokens,
		CostUSD:          resp.CostUSD,
	}
}
