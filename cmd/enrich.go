package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
)

var (
	enrichFirst    string
	enrichLast     string
	enrichDomain   string
	enrichLinkedIn string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich a single lead through the waterfall",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		lead := model.LeadIdentity{
			FirstName:     enrichFirst,
			LastName:      enrichLast,
			CompanyDomain: enrichDomain,
			LinkedInURL:   enrichLinkedIn,
		}

		result, err := env.Orch.Enrich(ctx, lead)
		if err != nil {
			return eris.Wrap(err, "enrich lead")
		}

		zap.L().Info("enrichment complete",
			zap.String("domain", lead.CompanyDomain),
			zap.String("source_tier", result.SourceTier),
			zap.Float64("confidence", result.Confidence),
			zap.Float64("cost_usd", result.CostUSD),
			zap.Bool("degraded", result.Degraded),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichFirst, "first", "", "lead first name")
	enrichCmd.Flags().StringVar(&enrichLast, "last", "", "lead last name")
	enrichCmd.Flags().StringVar(&enrichDomain, "domain", "", "company domain (required)")
	enrichCmd.Flags().StringVar(&enrichLinkedIn, "linkedin", "", "LinkedIn profile URL")
	_ = enrichCmd.MarkFlagRequired("domain")
	rootCmd.AddCommand(enrichCmd)
}
