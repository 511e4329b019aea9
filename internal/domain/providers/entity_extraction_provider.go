package providers

import (
	"context"
)

// TraitDiagnosis marks an entity the extraction service judged to be a diagnosis
const TraitDiagnosis = "DIAGNOSIS"

// CodeMatch is one ontology concept the extraction service linked to a text span.
type CodeMatch struct {
	Code        string
	Description string
	Score       float64
	Text        string
	BeginOffset int
	EndOffset   int
	Traits      []string
}

// DetectedEntity is a medical entity found by general entity detection.
type DetectedEntity struct {
	Text        string
	Category    string
	Type        string
	Score       float64
	BeginOffset int
	EndOffset   int
	Traits      []string
}

// HasTrait reports whether the entity carries the named trait.
func (e DetectedEntity) HasTrait(name string) bool {
	for _, t := range e.Traits {
		if t == name {
			return true
		}
	}
	return false
}

// EntityExtractionProvider defines a medical entity-extraction service.
type EntityExtractionProvider interface {
	// InferDiagnosisCodes links text spans to ICD-10-CM codes.
	InferDiagnosisCodes(ctx context.Context, text string) ([]CodeMatch, error)
	// InferProcedureCodes links text spans to SNOMED-CT concepts.
	InferProcedureCodes(ctx context.Context, text string) ([]CodeMatch, error)
	DetectEntities(ctx context.Context, text string) ([]DetectedEntity, error)
}
