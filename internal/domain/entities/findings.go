package entities

import "time"

// CodingFindings holds the quality and compliance output of the analysis
// alongside the secondary code lists from code identification.
type CodingFindings struct {
	AdditionalCodes      []CodeSuggestion     `json:"additional_codes"`
	UncapturedServices   []UncapturedService  `json:"uncaptured_services"`
	MissingDocumentation []DocumentationGap   `json:"missing_documentation"`
	DenialRisks          []DenialRisk         `json:"denial_risks"`
	RVUAnalysis          RVUAnalysis          `json:"rvu_analysis"`
	ModifierSuggestions  []ModifierSuggestion `json:"modifier_suggestions"`
	AuditMetadata        AuditMetadata        `json:"audit_metadata"`
}

// UncapturedService is a performed service with no corresponding billed code.
type UncapturedService struct {
	Service        string   `json:"service"`
	SuggestedCode  string   `json:"suggested_code"`
	SupportingText []string `json:"supporting_text"`
}

// DocumentationGap describes documentation that would support a higher-specificity code.
type DocumentationGap struct {
	Code        string `json:"code"`
	Requirement string `json:"requirement"`
	Impact      string `json:"impact"`
}

// DenialRisk flags a billed or suggested code likely to be denied.
type DenialRisk struct {
	Code       string `json:"code"`
	Risk       string `json:"risk"`
	Severity   string `json:"severity"`
	Mitigation string `json:"mitigation"`
}

// RVUAnalysis totals relative value units for billed and suggested codes.
type RVUAnalysis struct {
	BilledRVUs      float64         `json:"billed_rvus"`
	SuggestedRVUs   float64         `json:"suggested_rvus"`
	IncrementalRVUs float64         `json:"incremental_rvus"`
	PerCodeDetail   []RVUCodeDetail `json:"per_code_detail"`
}

// RVUCodeDetail is the RVU and revenue impact of one code.
type RVUCodeDetail struct {
	Code          string  `json:"code"`
	RVUs          float64 `json:"rvus"`
	RevenueImpact float64 `json:"revenue_impact"`
}

// ModifierSuggestion proposes a modifier for a code with its rationale.
type ModifierSuggestion struct {
	Code      string `json:"code"`
	Modifier  string `json:"modifier"`
	Rationale string `json:"rationale"`
}

// AuditMetadata summarizes the analysis for audit trails.
type AuditMetadata struct {
	TotalCodesIdentified int       `json:"total_codes_identified"`
	HighConfidenceCodes  int       `json:"high_confidence_codes"`
	QualityScore         float64   `json:"quality_score"`
	ComplianceFlags      []string  `json:"compliance_flags"`
	Timestamp            time.Time `json:"timestamp"`
}
