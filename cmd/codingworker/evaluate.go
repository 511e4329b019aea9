package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zatekoja/clinicalcoding/internal/evaluation"
)

var (
	goldenPath     string
	evalK          int
	evalMinConf    float64
	evalMaxSuggest int
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score completed reports against a golden set",
	Long:  "Loads golden encounters (JSON or YAML), fetches their reports and prints recall, precision and MRR at K as JSON.",
	RunE:  runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&goldenPath, "golden", "config/golden_encounters.json", "golden encounters file")
	evaluateCmd.Flags().IntVar(&evalK, "k", 10, "cutoff for ranked metrics")
	evaluateCmd.Flags().Float64Var(&evalMinConf, "min-confidence", 0.5, "ignore suggestions below this confidence")
	evaluateCmd.Flags().IntVar(&evalMaxSuggest, "max-suggestions", 10, "maximum suggestions considered per report")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	encounters, err := evaluation.LoadGoldenEncounters(goldenPath)
	if err != nil {
		return err
	}
	if err := evaluation.ValidateGoldenEncounters(encounters); err != nil {
		return fmt.Errorf("invalid golden set: %w", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	guardrails := evaluation.NewGuardrails(evaluation.GuardrailConfig{
		MinConfidence:  evalMinConf,
		MaxSuggestions: evalMaxSuggest,
	})
	summary, err := evaluation.NewRunner(a.reports, guardrails, evalK).Run(a.logger.WithContext(ctx), encounters)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
