package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
)

const codeIdentificationSystemPrompt = `You are a certified professional coder (CPC) reviewing a de-identified clinical note
for missed billing opportunities. Work only from the documentation; never invent services.

Tasks:
1. Restate the billed codes you were given (or those listed in the note if none were given).
2. Suggest CPT/HCPCS codes that the documentation supports but that are not billed, including a higher
   E/M level when time or medical decision making supports it.
3. List additional ICD-10-CM codes that add specificity or capture documented comorbidities.
4. List services that were performed but have no corresponding code.

For every suggested code give a justification, a confidence between 0 and 1, an optional
confidence_rationale and the exact supporting_text spans copied from the note.

Respond with a single JSON object:
{
  "billed_codes": [{"code": string, "type": string, "description": string}],
  "suggested_codes": [{"code": string, "code_type": string, "description": string, "justification": string,
                       "confidence": number, "confidence_rationale": string, "supporting_text": [string]}],
  "additional_codes": [same shape as suggested_codes],
  "uncaptured_services": [{"service": string, "suggested_code": string, "supporting_text": [string]}]
}`

const qualityComplianceSystemPrompt = `You are a coding compliance auditor. Given a de-identified clinical note, the billed codes
and a proposed set of code suggestions, assess documentation quality and payer risk.

Tasks:
1. missing_documentation: documentation elements that would support more specific or additional codes.
2. denial_risks: codes likely to be denied, with severity (low, medium, high) and mitigation.
3. rvu_analysis: total work RVUs for the billed codes, for billed plus suggested codes, the increment,
   and per_code_detail with rvus and estimated revenue_impact in USD for every suggested code.
4. modifier_suggestions: modifiers that should be appended, with rationale.
5. audit_metadata: totals, number of suggestions with confidence >= 0.8, a quality_score between 0 and 100,
   compliance_flags and an RFC 3339 timestamp.

Respond with a single JSON object:
{
  "missing_documentation": [{"code": string, "requirement": string, "impact": string}],
  "denial_risks": [{"code": string, "risk": string, "severity": string, "mitigation": string}],
  "rvu_analysis": {"billed_rvus": number, "suggested_rvus": number, "incremental_rvus": number,
                   "per_code_detail": [{"code": string, "rvus": number, "revenue_impact": number}]},
  "modifier_suggestions": [{"code": string, "modifier": string, "rationale": string}],
  "audit_metadata": {"total_codes_identified": integer, "high_confidence_codes": integer,
                     "quality_score": number, "compliance_flags": [string], "timestamp": string}
}`

func buildCodeIdentificationPrompt(in *AnalysisInput) string {
	var b strings.Builder
	if in.EncounterType != "" {
		fmt.Fprintf(&b, "Encounter type: %s\n\n", in.EncounterType)
	}
	writeJSONSection(&b, "Billed codes", nonNilSlice(in.BilledCodes))
	writeJSONSection(&b, "Diagnosis codes inferred from the note", promptExtractedCodes(in.DiagnosisCodes))
	writeJSONSection(&b, "CPT candidates from the terminology crosswalk", promptCrosswalk(in.CrosswalkSuggestions))
	b.WriteString("Clinical note:\n")
	b.WriteString(in.Text)
	return b.String()
}

func buildQualityCompliancePrompt(in *AnalysisInput, identification *codeIdentificationPayload) string {
	var b strings.Builder
	if in.EncounterType != "" {
		fmt.Fprintf(&b, "Encounter type: %s\n\n", in.EncounterType)
	}
	writeJSONSection(&b, "Billed codes", identification.BilledCodes)
	writeJSONSection(&b, "Suggested codes", identification.SuggestedCodes)
	writeJSONSection(&b, "Additional codes", identification.AdditionalCodes)
	writeJSONSection(&b, "Uncaptured services", identification.UncapturedServices)
	b.WriteString("Clinical note:\n")
	b.WriteString(in.Text)
	return b.String()
}

func writeJSONSection(b *strings.Builder, title string, v interface{}) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		raw = []byte("[]")
	}
	fmt.Fprintf(b, "%s:\n%s\n\n", title, raw)
}

type promptCode struct {
	Code        string  `json:"code"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

func promptExtractedCodes(codes []entities.ExtractedCode) []promptCode {
	out := make([]promptCode, 0, len(codes))
	for _, c := range codes {
		out = append(out, promptCode{Code: c.Code, Description: c.Description, Confidence: c.Confidence})
	}
	return out
}

type promptMapping struct {
	SourceCode  string   `json:"snomed_code"`
	TargetCode  string   `json:"cpt_code"`
	Description string   `json:"cpt_description,omitempty"`
	MappingType string   `json:"mapping_type"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

func promptCrosswalk(mappings []*entities.CPTMapping) []promptMapping {
	out := make([]promptMapping, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, promptMapping{
			SourceCode:  m.SourceCode,
			TargetCode:  m.TargetCode,
			Description: m.TargetDescription,
			MappingType: string(m.MappingType),
			Confidence:  m.Confidence,
		})
	}
	return out
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
