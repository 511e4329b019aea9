package entities

// Code types handled by the pipeline
const (
	CodeTypeCPT      = "CPT"
	CodeTypeHCPCS    = "HCPCS"
	CodeTypeICD10CM  = "ICD10CM"
	CodeTypeSNOMEDCT = "SNOMEDCT"
)

// CodeSuggestion is a billing code the analysis recommends adding.
type CodeSuggestion struct {
	Code                string   `json:"code"`
	CodeType            string   `json:"code_type"`
	Description         string   `json:"description"`
	Justification       string   `json:"justification"`
	Confidence          float64  `json:"confidence"`
	ConfidenceRationale *string  `json:"confidence_rationale,omitempty"`
	SupportingText      []string `json:"supporting_text"`
	RevenueImpact       *float64 `json:"revenue_impact,omitempty"`
}

// BilledCode is a code already charged for the encounter.
type BilledCode struct {
	Code        string  `json:"code"`
	CodeType    string  `json:"type"`
	Description *string `json:"description,omitempty"`
}

// ExtractedCode is a code inferred directly from the clinical text by the
// entity-extraction service.
type ExtractedCode struct {
	Code           string  `json:"code"`
	CodeType       string  `json:"code_type"`
	Description    string  `json:"description"`
	Confidence     float64 `json:"confidence"`
	SupportingText string  `json:"supporting_text"`
	BeginOffset    int     `json:"begin_offset"`
	EndOffset      int     `json:"end_offset"`
}

// TotalRevenueImpact sums the revenue impact of suggestions; suggestions
// without an impact count as zero.
func TotalRevenueImpact(suggestions []CodeSuggestion) float64 {
	total := 0.0
	for _, s := range suggestions {
		if s.RevenueImpact != nil {
			total += *s.RevenueImpact
		}
	}
	return total
}
