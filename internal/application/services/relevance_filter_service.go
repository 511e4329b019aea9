package services

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/domain/providers"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/clinicalcoding/pkg/errors"
)

const relevanceFilterSystemPrompt = `You are a certified medical coder preparing a clinical note for code assignment.
Remove narrative that cannot change coding: normal vital signs, negative review-of-systems boilerplate,
negated findings, screening questionnaires with normal results, and template filler.
Keep every diagnosis, procedure, medication change, time statement, complexity statement,
laterality, severity and anything else that may affect code selection. Never paraphrase kept text.
The note is de-identified; bracketed tokens such as [PROVIDER_1] or [DATE_1] are placeholders and must be kept verbatim.

Respond with a single JSON object:
{
  "filtered_text": string,
  "encounter_type": string or null (e.g. "office_visit", "emergency", "inpatient", "procedure", "telehealth"),
  "provider_placeholder": string or null (the placeholder token of the rendering provider),
  "service_date_placeholder": string or null (the placeholder token of the date of service),
  "billed_codes_found": array of code strings explicitly listed as billed in the note
}`

// FilterResult is the outcome of the clinical-relevance filter. Fields other
// than FilteredText are nil when the response could not be parsed.
type FilterResult struct {
	FilteredText           string
	EncounterType          *string
	ProviderPlaceholder    *string
	ServiceDatePlaceholder *string
	BilledCodesFound       []string
	Model                  string
	Usage                  entities.TokenUsage
}

type filterPayload struct {
	FilteredText           string   `json:"filtered_text"`
	EncounterType          *string  `json:"encounter_type"`
	ProviderPlaceholder    *string  `json:"provider_placeholder"`
	ServiceDatePlaceholder *string  `json:"service_date_placeholder"`
	BilledCodesFound       []string `json:"billed_codes_found"`
}

// RelevanceFilterService trims non-billing narrative from a clinical note
type RelevanceFilterService struct {
	completion providers.CompletionProvider
	timeout    time.Duration
}

// NewRelevanceFilterService creates a new relevance filter service
func NewRelevanceFilterService(completion providers.CompletionProvider, timeout time.Duration) *RelevanceFilterService {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &RelevanceFilterService{
		completion: completion,
		timeout:    timeout,
	}
}

// Filter runs one bounded completion call. A malformed response is not an
// error: the raw completion text is returned as FilteredText. Transport and
// timeout errors are returned to the caller.
func (s *RelevanceFilterService) Filter(ctx context.Context, text string) (*FilterResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidationError("clinical text is empty")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.completion.Complete(callCtx, providers.CompletionRequest{
		SystemPrompt: relevanceFilterSystemPrompt,
		UserPrompt:   text,
		JSONMode:     true,
		MaxTokens:    8000,
		Temperature:  0,
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewTimeoutError("relevance filter timed out", err)
		}
		return nil, err
	}

	result := &FilterResult{
		FilteredText: resp.Text,
		Model:        resp.Model,
		Usage:        usageOf(resp),
	}

	var payload filterPayload
	if err := json.Unmarshal([]byte(resp.Text), &payload); err != nil || strings.TrimSpace(payload.FilteredText) == "" {
		observability.LoggerFromContext(ctx).Warn().
			Int("response_length", len(resp.Text)).
			Msg("relevance filter response not parseable, using raw completion text")
		return result, nil
	}

	result.FilteredText = payload.FilteredText
	result.EncounterType = payload.EncounterType
	result.ProviderPlaceholder = payload.ProviderPlaceholder
	result.ServiceDatePlaceholder = payload.ServiceDatePlaceholder
	result.BilledCodesFound = payload.BilledCodesFound
	return result, nil
}

// ValidatePlaceholders drops placeholders that are not tokens of the
// encounter's PHI map.
func (r *FilterResult) ValidatePlaceholders(input *entities.EncounterInput) {
	if r.ProviderPlaceholder != nil && !input.HasToken(*r.ProviderPlaceholder) {
		r.ProviderPlaceholder = nil
	}
	if r.ServiceDatePlaceholder != nil && !input.HasToken(*r.ServiceDatePlaceholder) {
		r.ServiceDatePlaceholder = nil
	}
}

var (
	cptPattern   = regexp.MustCompile(`^\d{4}[0-9FTU]$`)
	hcpcsPattern = regexp.MustCompile(`^[A-V]\d{4}$`)
)

// BilledCodesFromText converts codes found in the note into billed codes,
// keeping only well-formed CPT and HCPCS codes.
func BilledCodesFromText(codes []string) []entities.BilledCode {
	billed := make([]entities.BilledCode, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, raw := range codes {
		code := strings.ToUpper(strings.TrimSpace(raw))
		if _, ok := seen[code]; ok {
			continue
		}
		var codeType string
		switch {
		case cptPattern.MatchString(code):
			codeType = entities.CodeTypeCPT
		case hcpcsPattern.MatchString(code):
			codeType = entities.CodeTypeHCPCS
		default:
			continue
		}
		seen[code] = struct{}{}
		billed = append(billed, entities.BilledCode{Code: code, CodeType: codeType})
	}
	return billed
}
