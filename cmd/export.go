package main

import (
	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/crm"
	"github.com/sells-group/enrich-cli/internal/store"
	sfpkg "github.com/sells-group/enrich-cli/pkg/salesforce"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Push verified results to Salesforce contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sfClient, err := initSalesforce()
		if err != nil {
			return err
		}

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := crm.NewExporter(sfClient, st).ExportVerified(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.Int("scanned", stats.Scanned),
			zap.Int("inserted", stats.Inserted),
			zap.Int("updated", stats.Updated),
			zap.Int("failed", stats.Failed),
		)
		return nil
	},
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ConsumerKey == "" || cfg.Salesforce.ConsumerSecret == "" {
		return nil, eris.New("salesforce credentials are required (ENRICH_SALESFORCE_CONSUMER_KEY / ENRICH_SALESFORCE_CONSUMER_SECRET)")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.Domain,
		ConsumerKey:    cfg.Salesforce.ConsumerKey,
		ConsumerSecret: cfg.Salesforce.ConsumerSecret,
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf), nil
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
