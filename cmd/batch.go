package main

import (
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	batchLimit       int
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Enrich imported leads concurrently",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		leads, err := env.Store.ListLeads(ctx, batchLimit)
		if err != nil {
			return eris.Wrap(err, "list leads")
		}
		if len(leads) == 0 {
			zap.L().Info("no leads to enrich")
			return nil
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentLeads
		}
		if concurrency <= 0 {
			concurrency = 8
		}
		zap.L().Info("starting batch enrichment",
			zap.Int("leads", len(leads)),
			zap.Int("concurrency", concurrency),
		)

		// One bad lead must not sink the batch, so worker errors are
		// counted rather than propagated.
		var enriched, degraded, failed atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)

		for _, lead := range leads {
			g.Go(func() error {
				result, err := env.Orch.Enrich(gctx, lead)
				if err != nil {
					failed.Add(1)
					zap.L().Warn("lead enrichment failed",
						zap.String("domain", lead.CompanyDomain),
						zap.String("name", lead.FullName()),
						zap.Error(err),
					)
					return nil
				}
				if result.Degraded {
					degraded.Add(1)
				} else {
					enriched.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "batch enrichment")
		}

		zap.L().Info("batch complete",
			zap.Int64("enriched", enriched.Load()),
			zap.Int64("degraded", degraded.Load()),
			zap.Int64("failed", failed.Load()),
		)
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max leads to process (0 = store default)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "concurrent workers (0 = config default)")
	rootCmd.AddCommand(batchCmd)
}
