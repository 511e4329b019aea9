package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zatekoja/clinicalcoding/pkg/secrets"
)

var pipelineFile string

var rootCmd = &cobra.Command{
	Use:   "codingworker",
	Short: "Clinical coding pipeline worker",
	Long: "Runs coding reports through relevance filtering, code inference, terminology crosswalk " +
		"and coding analysis, persisting results and progress to Postgres.",
	SilenceUsage:      true,
	PersistentPreRunE: loadSecrets,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&pipelineFile, "pipeline-config", os.Getenv("PIPELINE_CONFIG_FILE"),
		"YAML file with pipeline tuning (or set PIPELINE_CONFIG_FILE)")
}

// loadSecrets exports provider credentials from Vault before any command reads config.
func loadSecrets(cmd *cobra.Command, args []string) error {
	if _, err := secrets.ExportToEnv(cmd.Context(), secrets.ConfigFromEnv()); err != nil {
		return fmt.Errorf("failed to load secrets from vault: %w", err)
	}
	return nil
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
