package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Check crosswalk warm start",
	Long:  "Loads the most-mapped SNOMED-CT source codes into the crosswalk cache and prints cache statistics.",
	RunE:  runWarm,
}

func init() {
	rootCmd.AddCommand(warmCmd)
}

func runWarm(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	loaded := a.crosswalk.WarmStart(ctx)
	stats := a.crosswalk.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "loaded %d source codes (cache %d/%d)\n", loaded, stats.Size, stats.Capacity)
	return nil
}
