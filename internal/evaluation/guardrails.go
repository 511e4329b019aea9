package evaluation

import (
	"sort"

	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
)

// GuardrailConfig filters which suggestions are scored
type GuardrailConfig struct {
	MinConfidence  float64
	MaxSuggestions int
}

// Guardrails decides which suggestions on a report count as retrieved codes.
type Guardrails struct {
	config GuardrailConfig
}

// NewGuardrails creates guardrails, capping suggestions at 10 when unset
func NewGuardrails(config GuardrailConfig) *Guardrails {
	if config.MaxSuggestions <= 0 {
		config.MaxSuggestions = 10
	}
	return &Guardrails{config: config}
}

// RankedCodes returns suggestion codes at or above the confidence floor,
// highest confidence first, capped at MaxSuggestions.
func (g *Guardrails) RankedCodes(suggestions []entities.CodeSuggestion) []string {
	kept := make([]entities.CodeSuggestion, 0, len(suggestions))
	for _, s := range suggestions {
		if s.Confidence >= g.config.MinConfidence {
			kept = append(kept, s)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})
	if len(kept) > g.config.MaxSuggestions {
		kept = kept[:g.config.MaxSuggestions]
	}

	codes := make([]string, len(kept))
	for i, s := range kept {
		codes[i] = s.Code
	}
	return codes
}
