// Package verify runs the asynchronous email verification worker. It drains
// the verification queue in the background and never sits on the enrichment
// path: the waterfall enqueues and moves on.
package verify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/config"
	"github.com/sells-group/enrich-cli/internal/cost"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/pkg/neverbounce"
)

// verificationCostUSD is NeverBounce's per-check price, recorded against the
// ledger on every billable call.
const verificationCostUSD = 0.008

const (
	defaultPollInterval = 15 * time.Second
	defaultBatchSize    = 25
	defaultLease        = 2 * time.Minute
	defaultMaxAttempts  = 5
)

// Store is the persistence surface the worker needs.
type Store interface {
	GetResult(ctx context.Context, fingerprint string) (*model.EnrichmentResult, error)
	PutResult(ctx context.Context, res *model.EnrichmentResult, ttl time.Duration) error
	DequeueVerification(ctx context.Context, limit int, lease time.Duration) ([]model.VerificationTask, error)
	CompleteVerification(ctx context.Context, taskID string) error
	ReleaseVerification(ctx context.Context, taskID string) error
}

// Worker polls the verification queue and reconciles cached results with the
// verifier's verdict.
type Worker struct {
	store  Store
	client neverbounce.Client
	ledger *cost.Ledger

	pollInterval time.Duration
	batchSize    int
	lease        time.Duration
	maxAttempts  int
	resultTTL    time.Duration

	nowFn func() time.Time
}

// NewWorker creates a verification worker. resultTTL is the cache term for
// rewritten results and should match the waterfall's cache TTL.
func NewWorker(st Store, client neverbounce.Client, ledger *cost.Ledger, cfg config.VerifyConfig, resultTTL time.Duration) *Worker {
	w := &Worker{
		store:        st,
		client:       client,
		ledger:       ledger,
		pollInterval: time.Duration(cfg.PollIntervalSecs) * time.Second,
		batchSize:    cfg.BatchSize,
		lease:        time.Duration(cfg.LeaseSecs) * time.Second,
		maxAttempts:  cfg.MaxAttempts,
		resultTTL:    resultTTL,
		nowFn:        time.Now,
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.lease <= 0 {
		w.lease = defaultLease
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	return w
}

// Run starts the polling loop. It blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "verify.worker"))
	log.Info("starting verification worker",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int("batch_size", w.batchSize),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("verification worker stopped")
			return
		case <-ticker.C:
			if n, err := w.RunOnce(ctx); err != nil {
				log.Error("verify: batch failed", zap.Error(err))
			} else if n > 0 {
				log.Info("verify: batch complete", zap.Int("processed", n))
			}
		}
	}
}

// RunOnce drains and processes a single batch. It returns the number of
// tasks handled, including ones completed without a provider call.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	tasks, err := w.store.DequeueVerification(ctx, w.batchSize, w.lease)
	if err != nil {
		return 0, eris.Wrap(err, "verify: dequeue batch")
	}

	processed := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return processed, eris.Wrap(ctx.Err(), "verify: batch interrupted")
		}
		w.process(ctx, task)
		processed++
	}
	return processed, nil
}

func (w *Worker) process(ctx context.Context, task model.VerificationTask) {
	log := zap.L().With(
		zap.String("task_id", task.ID),
		zap.String("fingerprint", task.Fingerprint),
		zap.Int("attempts", task.Attempts),
	)

	res, err := w.store.GetResult(ctx, task.Fingerprint)
	if err != nil {
		log.Warn("verify: result lookup failed", zap.Error(err))
		w.release(ctx, task, log)
		return
	}

	// Nothing to verify: the result expired, lost its email, or a duplicate
	// delivery already verified it. Complete so the row stops circulating.
	if res == nil || !res.HasEmail() || res.EmailVerified {
		w.complete(ctx, task, log)
		return
	}

	if task.Attempts > w.maxAttempts {
		log.Warn("verify: dropping task after max attempts")
		w.complete(ctx, task, log)
		return
	}

	check, err := w.client.Check(ctx, res.Email)
	if err != nil {
		log.Warn("verify: check failed", zap.Error(err))
		if task.Attempts >= w.maxAttempts {
			log.Warn("verify: dropping task after max attempts")
			w.complete(ctx, task, log)
			return
		}
		w.release(ctx, task, log)
		return
	}
	w.ledger.Record("neverbounce", verificationCostUSD, task.Fingerprint)

	switch {
	case check.Deliverable():
		w.promote(ctx, task, res, log)
	case check.Result == neverbounce.VerdictUnknown:
		// Inconclusive probe. Retry under a fresh lease until attempts run
		// out, then leave the result as it was.
		if task.Attempts >= w.maxAttempts {
			w.complete(ctx, task, log)
			return
		}
		w.release(ctx, task, log)
	default:
		w.demote(ctx, task, res, string(check.Result), log)
	}
}

// promote marks the result verified and lifts its confidence to the verified
// floor. Rewriting restarts the TTL clock: a freshly verified result is worth
// keeping for a full term.
func (w *Worker) promote(ctx context.Context, task model.VerificationTask, res *model.EnrichmentResult, log *zap.Logger) {
	now := w.nowFn().UTC()
	res.EmailVerified = true
	res.VerifiedAt = &now
	res.Completeness = model.CompletenessEmailVerified
	res.NeedsReenrichment = false
	if res.Confidence < 0.9 {
		res.Confidence = 0.9
	}

	if err := w.store.PutResult(ctx, res, w.resultTTL); err != nil {
		log.Error("verify: persist promoted result", zap.Error(err))
		w.release(ctx, task, log)
		return
	}
	w.complete(ctx, task, log)
	log.Info("verify: email verified", zap.Float64("confidence", res.Confidence))
}

// demote halves confidence and flags the result for re-enrichment so the next
// waterfall run bypasses the stale cache entry.
func (w *Worker) demote(ctx context.Context, task model.VerificationTask, res *model.EnrichmentResult, verdict string, log *zap.Logger) {
	res.EmailVerified = false
	res.Confidence /= 2
	res.NeedsReenrichment = true

	if err := w.store.PutResult(ctx, res, w.resultTTL); err != nil {
		log.Error("verify: persist demoted result", zap.Error(err))
		w.release(ctx, task, log)
		return
	}
	w.complete(ctx, task, log)
	log.Info("verify: email rejected",
		zap.String("verdict", verdict),
		zap.Float64("confidence", res.Confidence),
	)
}

func (w *Worker) complete(ctx context.Context, task model.VerificationTask, log *zap.Logger) {
	if err := w.store.CompleteVerification(ctx, task.ID); err != nil {
		log.Warn("verify: complete task", zap.Error(err))
	}
}

func (w *Worker) release(ctx context.Context, task model.VerificationTask, log *zap.Logger) {
	if err := w.store.ReleaseVerification(ctx, task.ID); err != nil {
		log.Warn("verify: release task", zap.Error(err))
	}
}
