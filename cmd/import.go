package main

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/groveworks/canopy/internal/fetcher"
	"github.com/groveworks/canopy/internal/model"
)

var importCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Reconcile a survey batch against the registry",
	Long: `Loads a survey file (.csv, .xlsx, .shp, or a .zip bundle) from a local
path, an http(s):// URL, or an ftp:// URL, reconciles every row against the
registry, and prints the batch report as JSON.`,
	Args: cobra.ExactArgs(1),
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

		source := args[0]
		var rows []model.RawRow
		switch {
		case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
			f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
				UserAgent:  cfg.Fetch.UserAgent,
				Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
				MaxRetries: cfg.Fetch.MaxRetries,
				RateLimit:  rate.Limit(cfg.Fetch.RatePerSec),
			})
			rows, err = fetcher.LoadRemote(ctx, f, source)
		case strings.HasPrefix(source, "ftp://"):
			f := fetcher.NewFTPFetcher(fetcher.FTPOptions{
				User:     cfg.Fetch.FTPUser,
				Password: cfg.Fetch.FTPPassword,
				Timeout:  time.Duration(cfg.Fetch.FTPTimeoutSecs) * time.Second,
			})
			rows, err = fetcher.LoadRemote(ctx, f, source)
		default:
			rows, err = fetcher.Load(ctx, source)
		}
		if err != nil {
			return err
		}

		zap.L().Info("import: loaded source",
			zap.String("source", source),
			zap.Int("rows", len(rows)),
		)

		report, err := e.Pipeline.Run(ctx, rows)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
