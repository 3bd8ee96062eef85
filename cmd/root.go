package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/groveworks/canopy/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "canopy",
	Short: "Tree asset registry and reconciliation engine",
	Long:  "Reconciles field observations and bulk survey imports against a canonical registry of tree records, matching by identifier and tiered spatial policy.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
