package evaluation

import "time"

// Difficulty grades how hard a golden encounter is to code.
type Difficulty string

const (
	DifficultyRoutine Difficulty = "routine"
	DifficultyComplex Difficulty = "complex"
	DifficultyEdge    Difficulty = "edge"
)

// IsValid checks if the difficulty is one of the defined constants.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyRoutine, DifficultyComplex, DifficultyEdge:
		return true
	}
	return false
}

// GoldenEncounter is a coded encounter reviewed by a certified coder. The
// report it points at is scored against ExpectedCodes.
type GoldenEncounter struct {
	ID            string     `json:"id" yaml:"id"`
	ReportID      string     `json:"report_id" yaml:"report_id"`
	EncounterType string     `json:"encounter_type" yaml:"encounter_type"`
	ExpectedCodes []string   `json:"expected_codes" yaml:"expected_codes"`
	Difficulty    Difficulty `json:"difficulty" yaml:"difficulty"`
}

// EvalResult holds the score of one report.
type EvalResult struct {
	EncounterID    string
	ReportID       string
	EncounterType  string
	RecallAtK      float64
	MRRAtK         float64
	PrecisionAtK   float64
	SuggestedCodes []string
	Revenue        float64
	Elapsed        time.Duration
}

// EvalSummary aggregates scores over a golden set.
type EvalSummary struct {
	K                int
	TotalEncounters  int
	Scored           int
	Skipped          []string // golden IDs whose report was missing or not COMPLETE
	AvgRecallAtK     float64
	AvgMRRAtK        float64
	AvgPrecisionAtK  float64
	TotalRevenue     float64
	ByEncounterType  map[string]*TypeSummary
	AvgProcessingDur time.Duration
}

// TypeSummary holds scores for one encounter type.
type TypeSummary struct {
	Count           int
	AvgRecallAtK    float64
	AvgPrecisionAtK float64
}
