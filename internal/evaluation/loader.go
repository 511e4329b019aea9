package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadGoldenEncounters reads a golden set from a JSON or YAML file, chosen by extension.
func LoadGoldenEncounters(path string) ([]GoldenEncounter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read golden encounters file: %w", err)
	}

	var encounters []GoldenEncounter
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &encounters)
	default:
		err = json.Unmarshal(data, &encounters)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse golden encounters: %w", err)
	}

	return encounters, nil
}

// ValidateGoldenEncounters checks that every golden encounter is complete and unique.
func ValidateGoldenEncounters(encounters []GoldenEncounter) error {
	seen := make(map[string]struct{}, len(encounters))

	for i, e := range encounters {
		if e.ID == "" {
			return fmt.Errorf("encounter at index %d: missing id", i)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("encounter at index %d: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = struct{}{}

		if e.ReportID == "" {
			return fmt.Errorf("encounter %q: missing report_id", e.ID)
		}
		if len(e.ExpectedCodes) == 0 {
			return fmt.Errorf("encounter %q: expected_codes is empty", e.ID)
		}
		if !e.Difficulty.IsValid() {
			return fmt.Errorf("encounter %q: invalid difficulty %q (must be routine/complex/edge)", e.ID, e.Difficulty)
		}
	}

	return nil
}
