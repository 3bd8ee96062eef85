package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/groveworks/canopy/internal/quality"
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Report incomplete registry records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		ctx := cmd.Context()
		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Store.Migrate(ctx); err != nil {
			return err
		}

		report, err := quality.ReportFromStore(ctx, e.Store)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(qualityCmd)
}
