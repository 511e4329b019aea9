package entities

// EncounterInput is what the pipeline consumes for one encounter. The text
// is already de-identified; PHITokens maps placeholder tokens to original
// values and is read-only.
type EncounterInput struct {
	EncounterID      string            `json:"encounter_id" db:"id"`
	DeidentifiedText string            `json:"deidentified_text" db:"deidentified_text"`
	PHITokens        map[string]string `json:"phi_tokens" db:"phi_token_map"`
	BilledCodes      []BilledCode      `json:"billed_codes" db:"billed_codes"`
}

// HasToken reports whether placeholder is a known PHI token.
func (e *EncounterInput) HasToken(placeholder string) bool {
	if e == nil || e.PHITokens == nil {
		return false
	}
	_, ok := e.PHITokens[placeholder]
	return ok
}
