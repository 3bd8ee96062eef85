package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/groveworks/canopy/internal/model"
	"github.com/groveworks/canopy/internal/store"
)

var (
	treesType     string
	treesStatus   string
	treesArchived bool
	treesLimit    int
	treesOffset   int
)

var treesCmd = &cobra.Command{
	Use:   "trees",
	Short: "Inspect and manage registry records",
}

var treesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registry records",
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

		records, err := e.Store.ListTrees(ctx, store.TreeFilter{
			DeclaredType:    treesType,
			Status:          model.Status(treesStatus),
			IncludeArchived: treesArchived,
			Limit:           treesLimit,
			Offset:          treesOffset,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

var treesGetCmd = &cobra.Command{
	Use:   "get <public-id>",
	Short: "Show one registry record",
	Args:  cobra.ExactArgs(1),
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

		rec, err := e.Store.GetTreeByPublicID(ctx, args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			return eris.Errorf("tree %s not found", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var treesArchiveCmd = &cobra.Command{
	Use:   "archive <public-id>",
	Short: "Archive a registry record",
	Long:  "Archived records keep their history but are excluded from spatial matching.",
	Args:  cobra.ExactArgs(1),
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

		return e.Store.ArchiveTree(ctx, args[0], time.Now().UTC())
	},
}

func init() {
	treesListCmd.Flags().StringVar(&treesType, "type", "", "filter by declared type")
	treesListCmd.Flags().StringVar(&treesStatus, "status", "", "filter by status")
	treesListCmd.Flags().BoolVar(&treesArchived, "include-archived", false, "include archived records")
	treesListCmd.Flags().IntVar(&treesLimit, "limit", 0, "max records to return")
	treesListCmd.Flags().IntVar(&treesOffset, "offset", 0, "records to skip")

	treesCmd.AddCommand(treesListCmd, treesGetCmd, treesArchiveCmd)
	rootCmd.AddCommand(treesCmd)
}
