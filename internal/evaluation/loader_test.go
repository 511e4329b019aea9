package evaluation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadGoldenEncounters_JSON(t *testing.T) {
	path := writeTempFile(t, "golden.json", `[
		{"id": "g1", "report_id": "rep-1", "encounter_type": "office_visit", "expected_codes": ["99214", "93000"], "difficulty": "routine"},
		{"id": "g2", "report_id": "rep-2", "expected_codes": ["36415"], "difficulty": "edge"}
	]`)

	encounters, err := LoadGoldenEncounters(path)
	require.NoError(t, err)
	require.Len(t, encounters, 2)
	assert.Equal(t, "rep-1", encounters[0].ReportID)
	assert.Equal(t, []string{"99214", "93000"}, encounters[0].ExpectedCodes)
	assert.Equal(t, DifficultyEdge, encounters[1].Difficulty)
}

func TestLoadGoldenEncounters_YAML(t *testing.T) {
	path := writeTempFile(t, "golden.yaml", `
- id: g1
  report_id: rep-1
  encounter_type: emergency
  expected_codes: ["99285"]
  difficulty: complex
`)

	encounters, err := LoadGoldenEncounters(path)
	require.NoError(t, err)
	require.Len(t, encounters, 1)
	assert.Equal(t, "emergency", encounters[0].EncounterType)
	assert.Equal(t, DifficultyComplex, encounters[0].Difficulty)
}

func TestLoadGoldenEncounters_Errors(t *testing.T) {
	_, err := LoadGoldenEncounters("/nonexistent/golden.json")
	assert.Error(t, err)

	_, err = LoadGoldenEncounters(writeTempFile(t, "bad.json", `{not json`))
	assert.Error(t, err)
}

func TestValidateGoldenEncounters(t *testing.T) {
	valid := GoldenEncounter{ID: "g1", ReportID: "rep-1", ExpectedCodes: []string{"99214"}, Difficulty: DifficultyRoutine}

	tests := []struct {
		name    string
		input   []GoldenEncounter
		wantErr string
	}{
		{"valid", []GoldenEncounter{valid}, ""},
		{"missing id", []GoldenEncounter{{ReportID: "rep-1", ExpectedCodes: []string{"1"}, Difficulty: DifficultyRoutine}}, "missing id"},
		{"duplicate id", []GoldenEncounter{valid, valid}, "duplicate id"},
		{"missing report", []GoldenEncounter{{ID: "g1", ExpectedCodes: []string{"1"}, Difficulty: DifficultyRoutine}}, "missing report_id"},
		{"no codes", []GoldenEncounter{{ID: "g1", ReportID: "rep-1", Difficulty: DifficultyRoutine}}, "expected_codes is empty"},
		{"bad difficulty", []GoldenEncounter{{ID: "g1", ReportID: "rep-1", ExpectedCodes: []string{"1"}, Difficulty: "hard"}}, "invalid difficulty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGoldenEncounters(tt.input)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
