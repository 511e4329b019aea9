package services

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/domain/providers"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/observability"
	"golang.org/x/sync/errgroup"
)

const (
	// Comprehend Medical caps InferICD10CM/InferSNOMEDCT at 10,000 characters
	// and DetectEntitiesV2 at 20,000. Byte limits of the same size keep any
	// UTF-8 text under the character caps.
	maxClassificationBytes = 10000
	maxDetectionBytes      = 20000
	// minSpanSimilarity is the normalized similarity a diagnosis span needs
	// against some DIAGNOSIS-trait entity to be kept.
	minSpanSimilarity = 0.6
)

// InferenceResult holds codes inferred directly from clinical text
type InferenceResult struct {
	DiagnosisCodes []entities.ExtractedCode
	ProcedureCodes []entities.ExtractedCode
	// DiagnosisEntities are the texts of DIAGNOSIS-trait entities found by detection.
	DiagnosisEntities []string
}

// All returns diagnosis then procedure codes
func (r *InferenceResult) All() []entities.ExtractedCode {
	all := make([]entities.ExtractedCode, 0, len(r.DiagnosisCodes)+len(r.ProcedureCodes))
	all = append(all, r.DiagnosisCodes...)
	return append(all, r.ProcedureCodes...)
}

// CodeInferenceService infers ICD-10-CM and SNOMED-CT codes with the entity-extraction service
type CodeInferenceService struct {
	extractor providers.EntityExtractionProvider
	timeout   time.Duration
}

// NewCodeInferenceService creates a new code inference service
func NewCodeInferenceService(extractor providers.EntityExtractionProvider, timeout time.Duration) *CodeInferenceService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CodeInferenceService{
		extractor: extractor,
		timeout:   timeout,
	}
}

// InferCodes runs diagnosis classification, procedure classification and
// entity detection concurrently, each under its own timeout. A failing call
// only empties its own sub-result; InferCodes itself never fails.
func (s *CodeInferenceService) InferCodes(ctx context.Context, text string) (*InferenceResult, error) {
	logger := observability.LoggerFromContext(ctx)
	classificationText := truncateUTF8(text, maxClassificationBytes)
	detectionText := truncateUTF8(text, maxDetectionBytes)

	var (
		diagnoses  []providers.CodeMatch
		procedures []providers.CodeMatch
		detected   []providers.DetectedEntity
	)

	// Each goroutine owns its result variable and never returns an error, so
	// one failure cannot cancel its siblings.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, s.timeout)
		defer cancel()
		out, err := s.extractor.InferDiagnosisCodes(callCtx, classificationText)
		if err != nil {
			logger.Warn().Err(err).Str("call", "diagnosis").Msg("code inference call degraded to empty")
			return nil
		}
		diagnoses = out
		return nil
	})
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, s.timeout)
		defer cancel()
		out, err := s.extractor.InferProcedureCodes(callCtx, classificationText)
		if err != nil {
			logger.Warn().Err(err).Str("call", "procedure").Msg("code inference call degraded to empty")
			return nil
		}
		procedures = out
		return nil
	})
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, s.timeout)
		defer cancel()
		out, err := s.extractor.DetectEntities(callCtx, detectionText)
		if err != nil {
			logger.Warn().Err(err).Str("call", "detection").Msg("code inference call degraded to empty")
			return nil
		}
		detected = out
		return nil
	})
	_ = g.Wait()

	var diagnosisEntities []string
	for _, e := range detected {
		if e.HasTrait(providers.TraitDiagnosis) && e.Text != "" {
			diagnosisEntities = append(diagnosisEntities, e.Text)
		}
	}

	diagnosisCodes := toExtractedCodes(dedupeMatches(diagnoses), entities.CodeTypeICD10CM)
	if len(diagnosisEntities) > 0 {
		diagnosisCodes = filterBySpanSimilarity(diagnosisCodes, diagnosisEntities)
	}
	procedureCodes := toExtractedCodes(dedupeMatches(procedures), entities.CodeTypeSNOMEDCT)

	logger.Debug().
		Int("diagnosis_codes", len(diagnosisCodes)).
		Int("procedure_codes", len(procedureCodes)).
		Int("diagnosis_entities", len(diagnosisEntities)).
		Msg("code inference finished")

	return &InferenceResult{
		DiagnosisCodes:    diagnosisCodes,
		ProcedureCodes:    procedureCodes,
		DiagnosisEntities: diagnosisEntities,
	}, nil
}

// dedupeMatches keeps the highest-scoring match per code, in first-seen order
func dedupeMatches(matches []providers.CodeMatch) []providers.CodeMatch {
	index := make(map[string]int, len(matches))
	deduped := make([]providers.CodeMatch, 0, len(matches))
	for _, m := range matches {
		if m.Code == "" {
			continue
		}
		if i, ok := index[m.Code]; ok {
			if m.Score > deduped[i].Score {
				deduped[i] = m
			}
			continue
		}
		index[m.Code] = len(deduped)
		deduped = append(deduped, m)
	}
	return deduped
}

func toExtractedCodes(matches []providers.CodeMatch, codeType string) []entities.ExtractedCode {
	codes := make([]entities.ExtractedCode, 0, len(matches))
	for _, m := range matches {
		codes = append(codes, entities.ExtractedCode{
			Code:           m.Code,
			CodeType:       codeType,
			Description:    m.Description,
			Confidence:     m.Score,
			SupportingText: m.Text,
			BeginOffset:    m.BeginOffset,
			EndOffset:      m.EndOffset,
		})
	}
	sort.SliceStable(codes, func(i, j int) bool {
		return codes[i].Confidence > codes[j].Confidence
	})
	return codes
}

func filterBySpanSimilarity(codes []entities.ExtractedCode, diagnosisEntities []string) []entities.ExtractedCode {
	kept := make([]entities.ExtractedCode, 0, len(codes))
	for _, c := range codes {
		for _, entity := range diagnosisEntities {
			if spanSimilarity(c.SupportingText, entity) >= minSpanSimilarity {
				kept = append(kept, c)
				break
			}
		}
	}
	return kept
}

// spanSimilarity is 1 - levenshtein(a, b) / max(len(a), len(b)) over
// case-folded runes.
func spanSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// truncateUTF8 cuts s to at most maxBytes without splitting a rune
func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
