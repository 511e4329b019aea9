package evaluation

import (
	"context"
	"time"

	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/observability"
)

// ReportSource loads persisted reports.
type ReportSource interface {
	GetByID(ctx context.Context, id string) (*entities.Report, error)
}

// Runner scores finished reports against a golden set.
type Runner struct {
	reports    ReportSource
	guardrails *Guardrails
	k          int
}

// NewRunner creates a runner scoring the top k suggestions (default 10)
func NewRunner(reports ReportSource, guardrails *Guardrails, k int) *Runner {
	if k <= 0 {
		k = 10
	}
	return &Runner{reports: reports, guardrails: guardrails, k: k}
}

// Run scores every golden encounter whose report is COMPLETE; the rest are
// listed in Skipped.
func (r *Runner) Run(ctx context.Context, encounters []GoldenEncounter) (*EvalSummary, error) {
	logger := observability.LoggerFromContext(ctx)
	summary := &EvalSummary{
		K:               r.k,
		TotalEncounters: len(encounters),
		ByEncounterType: make(map[string]*TypeSummary),
	}

	var totalDur time.Duration
	for _, golden := range encounters {
		report, err := r.reports.GetByID(ctx, golden.ReportID)
		if err != nil || report.Status != entities.ReportStatusComplete {
			logger.Warn().Err(err).Str("golden_id", golden.ID).Str("report_id", golden.ReportID).
				Msg("report not scoreable, skipping")
			summary.Skipped = append(summary.Skipped, golden.ID)
			continue
		}

		suggested := r.guardrails.RankedCodes(report.SuggestedCodes)
		result := EvalResult{
			EncounterID:    golden.ID,
			ReportID:       report.ID,
			EncounterType:  golden.EncounterType,
			RecallAtK:      RecallAtK(golden.ExpectedCodes, suggested, r.k),
			MRRAtK:         MRRAtK(golden.ExpectedCodes, suggested, r.k),
			PrecisionAtK:   PrecisionAtK(golden.ExpectedCodes, suggested, r.k),
			SuggestedCodes: suggested,
			Revenue:        report.IncrementalRevenue,
			Elapsed:        time.Duration(report.ProcessingDurationMs) * time.Millisecond,
		}
		if result.EncounterType == "" {
			result.EncounterType = report.EncounterType
		}

		r.updateSummary(summary, result)
		totalDur += result.Elapsed
	}

	r.finalizeSummary(summary, totalDur)
	return summary, nil
}

func (r *Runner) updateSummary(s *EvalSummary, res EvalResult) {
	s.Scored++
	s.AvgRecallAtK += res.RecallAtK
	s.AvgMRRAtK += res.MRRAtK
	s.AvgPrecisionAtK += res.PrecisionAtK
	s.TotalRevenue += res.Revenue

	key := res.EncounterType
	if key == "" {
		key = "unknown"
	}
	ts, ok := s.ByEncounterType[key]
	if !ok {
		ts = &TypeSummary{}
		s.ByEncounterType[key] = ts
	}
	ts.Count++
	ts.AvgRecallAtK += res.RecallAtK
	ts.AvgPrecisionAtK += res.PrecisionAtK
}

func (r *Runner) finalizeSummary(s *EvalSummary, totalDur time.Duration) {
	if s.Scored > 0 {
		n := float64(s.Scored)
		s.AvgRecallAtK /= n
		s.AvgMRRAtK /= n
		s.AvgPrecisionAtK /= n
		s.AvgProcessingDur = totalDur / time.Duration(s.Scored)
	}

	for _, ts := range s.ByEncounterType {
		if ts.Count > 0 {
			n := float64(ts.Count)
			ts.AvgRecallAtK /= n
			ts.AvgPrecisionAtK /= n
		}
	}
}
