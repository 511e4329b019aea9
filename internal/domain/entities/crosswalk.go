package entities

import "sort"

// MappingType describes how closely a target code matches its source
type MappingType string

const (
	MappingTypeExact       MappingType = "EXACT"
	MappingTypeBroader     MappingType = "BROADER"
	MappingTypeNarrower    MappingType = "NARROWER"
	MappingTypeApproximate MappingType = "APPROXIMATE"
)

// CPTMapping maps a source-vocabulary code onto a CPT code. Reference data;
// never mutated after load.
type CPTMapping struct {
	SourceCode        string      `json:"source_code" db:"source_code"`
	SourceDescription string      `json:"source_description" db:"source_description"`
	TargetCode        string      `json:"target_code" db:"target_code"`
	TargetDescription string      `json:"target_description" db:"target_description"`
	MappingType       MappingType `json:"mapping_type" db:"mapping_type"`
	// Confidence is nil when the source vocabulary does not publish one.
	Confidence *float64 `json:"confidence,omitempty" db:"confidence"`
	Provenance string   `json:"provenance" db:"provenance"`
}

// MeetsConfidence reports whether the mapping passes min. Unknown confidence always passes.
func (m *CPTMapping) MeetsConfidence(min float64) bool {
	return m.Confidence == nil || *m.Confidence >= min
}

// SortMappingsByConfidence orders mappings by descending confidence in
// place; unknown confidence sorts last and ties keep their order.
func SortMappingsByConfidence(mappings []*CPTMapping) {
	sort.SliceStable(mappings, func(i, j int) bool {
		ci, cj := mappings[i].Confidence, mappings[j].Confidence
		switch {
		case ci == nil:
			return false
		case cj == nil:
			return true
		default:
			return *ci > *cj
		}
	})
}
