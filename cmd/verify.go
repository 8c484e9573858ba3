package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/verify"
	"github.com/sells-group/enrich-cli/pkg/neverbounce"
)

var verifyOnce bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run the email verification worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		worker := newVerifyWorker(env)

		if verifyOnce {
			n, err := worker.RunOnce(ctx)
			if err != nil {
				return err
			}
			zap.L().Info("verification batch complete", zap.Int("processed", n))
			return nil
		}

		go env.flushLedgerLoop(ctx, time.Minute)
		worker.Run(ctx)
		return nil
	},
}

func newVerifyWorker(env *env) *verify.Worker {
	client := neverbounce.NewClient(cfg.NeverBounce.Key,
		neverbounce.WithBaseURL(cfg.NeverBounce.BaseURL),
		neverbounce.WithRateLimit(cfg.NeverBounce.RatePerSec),
	)
	ttl := time.Duration(env.Waterfall.CacheTTLHours) * time.Hour
	return verify.NewWorker(env.Store, client, env.Ledger, cfg.Verify, ttl)
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyOnce, "once", false, "process a single batch and exit")
	rootCmd.AddCommand(verifyCmd)
}
