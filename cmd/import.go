package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/importer"
	"github.com/sells-group/enrich-cli/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import leads from a CSV or XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := importer.New(st).ImportFile(ctx, args[0])
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.String("file", args[0]),
			zap.Int("rows", stats.Rows),
			zap.Int("imported", stats.Imported),
			zap.Int("skipped", stats.Skipped),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
