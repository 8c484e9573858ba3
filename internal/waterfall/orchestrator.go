// Package waterfall routes a lead through cache, tiered providers, scoring,
// volume caps, and escalation, producing at most one enrichment per lead at
// a time.
package waterfall

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/enrich-cli/internal/cost"
	"github.com/sells-group/enrich-cli/internal/escalate"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/scorer"
	"github.com/sells-group/enrich-cli/internal/waterfall/provider"
)

// ErrAllTiersExhausted is returned when no tier produced any data for a lead.
// It is the only enrichment failure surfaced to callers; every provider-level
// failure below it is absorbed into tier fallthrough.
var ErrAllTiersExhausted = eris.New("waterfall: all tiers exhausted")

// Cache is the slice of the store the orchestrator needs. A Get miss is
// (nil, nil), never an error.
type Cache interface {
	GetResult(ctx context.Context, fingerprint string) (*model.EnrichmentResult, error)
	PutResult(ctx context.Context, res *model.EnrichmentResult, ttl time.Duration) error
	EnqueueVerification(ctx context.Context, fingerprint string) error
}

// Stats holds the orchestrator's run counters. Read via the Stats method.
type Stats struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	Enriched    int64 `json:"enriched"`
	Degraded    int64 `json:"degraded"`
	Failed      int64 `json:"failed"`
}

// Orchestrator owns the waterfall decision engine.
type Orchestrator struct {
	cfg      *Config
	registry *provider.Registry
	cache    Cache
	ledger   *cost.Ledger
	engine   *escalate.Engine
	breakers *resilience.ProviderBreakers

	flight singleflight.Group
	nowFn  func() time.Time

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	enriched    atomic.Int64
	degraded    atomic.Int64
	failed      atomic.Int64
}

// NewOrchestrator wires the waterfall together. cfg must already be
// validated.
func NewOrchestrator(cfg *Config, registry *provider.Registry, cache Cache, ledger *cost.Ledger, engine *escalate.Engine, breakers *resilience.ProviderBreakers) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		cache:    cache,
		ledger:   ledger,
		engine:   engine,
		breakers: breakers,
		nowFn:    time.Now,
	}
}

// WithNow sets the clock for testing.
func (o *Orchestrator) WithNow(fn func() time.Time) *Orchestrator {
	o.nowFn = fn
	return o
}

// Stats returns a snapshot of the run counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		CacheHits:   o.cacheHits.Load(),
		CacheMisses: o.cacheMisses.Load(),
		Enriched:    o.enriched.Load(),
		Degraded:    o.degraded.Load(),
		Failed:      o.failed.Load(),
	}
}

// Enrich runs the waterfall for one lead. Concurrent calls for the same
// fingerprint collapse into a single execution whose result all callers
// share. Callers receive either an EnrichmentResult (possibly degraded) or a
// typed error; provider errors never escape.
func (o *Orchestrator) Enrich(ctx context.Context, lead model.LeadIdentity) (*model.EnrichmentResult, error) {
	if err := lead.Validate(); err != nil {
		return nil, err
	}
	fp := lead.Fingerprint()

	v, err, _ := o.flight.Do(fp, func() (interface{}, error) {
		return o.run(ctx, lead, fp)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.EnrichmentResult), nil
}

func (o *Orchestrator) run(ctx context.Context, lead model.LeadIdentity, fp string) (*model.EnrichmentResult, error) {
	if cached := o.lookupCache(ctx, fp); cached != nil {
		o.cacheHits.Add(1)
		zap.L().Debug("cache hit",
			zap.String("fingerprint", fp),
			zap.Float64("confidence", cached.Confidence),
		)
		return cached, nil
	}
	o.cacheMisses.Add(1)

	var (
		best    *model.EnrichmentResult
		runCost float64
	)

	for _, tier := range o.cfg.Tiers {
		if ctx.Err() != nil {
			break
		}

		if o.tierAtCap(tier) {
			zap.L().Info("tier at volume cap, skipping",
				zap.String("tier", tier.ID),
				zap.Float64("cap", tier.MaxShareOfVolume),
			)
			continue
		}

		s, spent, hit := o.runTier(ctx, tier, lead, fp)
		runCost += spent
		if hit {
			best = mergeResult(best, s)
		}

		if best.HasData() && best.Confidence >= tier.ConfidenceThreshold {
			return o.finalize(ctx, best, fp, runCost, false)
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		// Preserve partial progress: cache what we have for the next run,
		// but the caller still sees the cancellation.
		if best.HasData() {
			o.finalize(ctx, best, fp, runCost, true)
		}
		return nil, eris.Wrap(ctxErr, "waterfall: enrichment canceled")
	}

	if !best.HasData() {
		o.failed.Add(1)
		return nil, eris.Wrapf(ErrAllTiersExhausted, "fingerprint %s", fp)
	}

	// Data exists but no tier met its threshold.
	return o.finalize(ctx, best, fp, runCost, true)
}

// lookupCache returns a fresh, usable cached result or nil. Store errors are
// logged and treated as misses.
func (o *Orchestrator) lookupCache(ctx context.Context, fp string) *model.EnrichmentResult {
	cached, err := o.cache.GetResult(ctx, fp)
	if err != nil {
		zap.L().Warn("cache lookup failed", zap.String("fingerprint", fp), zap.Error(err))
		return nil
	}
	if cached == nil || cached.NeedsReenrichment {
		return nil
	}
	if cached.Confidence < o.cfg.CacheFreshThreshold {
		return nil
	}
	return cached
}

func (o *Orchestrator) tierAtCap(tier TierConfig) bool {
	if tier.MaxShareOfVolume <= 0 {
		return false
	}
	return o.ledger.Share(tier.ID) >= tier.MaxShareOfVolume
}

// runTier walks the tier's providers in order and returns the first scored
// success, the cost of every attempt made, and whether any provider hit.
func (o *Orchestrator) runTier(ctx context.Context, tier TierConfig, lead model.LeadIdentity, fp string) (scored, float64, bool) {
	var tierCost float64

	for _, name := range tier.Providers {
		if ctx.Err() != nil {
			break
		}

		adapter := o.registry.Get(name)
		if adapter == nil {
			zap.L().Warn("provider not registered", zap.String("provider", name))
			continue
		}

		breaker := o.breakers.Get(name)
		if err := breaker.Allow(); err != nil {
			zap.L().Debug("provider circuit open, skipping",
				zap.String("provider", name),
				zap.String("tier", tier.ID),
			)
			continue
		}

		outcome := o.engine.Do(ctx, name, func(ctx context.Context, ident provider.Identity) provider.Outcome {
			// Spend is attributed per attempt, not per lead.
			o.ledger.Record(name, tier.CostPerCallUSD, fp)
			tierCost += tier.CostPerCallUSD
			return adapter.Call(ctx, lead, ident)
		})

		switch outcome.Kind {
		case provider.KindSuccess, provider.KindNotFound:
			breaker.RecordSuccess()
		default:
			breaker.RecordFailure()
		}

		if outcome.Kind != provider.KindSuccess {
			zap.L().Debug("provider produced no record",
				zap.String("provider", name),
				zap.String("tier", tier.ID),
				zap.String("outcome", outcome.Kind.String()),
			)
			continue
		}

		weight := o.cfg.Providers[name].Weight
		conf, comp := scorer.Score(outcome.Record, lead, weight)
		return scored{
			rec:          outcome.Record,
			confidence:   conf,
			completeness: comp,
			tierID:       tier.ID,
			augment:      tier.Augment,
		}, tierCost, true
	}

	return scored{}, tierCost, false
}

// finalize stamps, counts, caches, and queues the result. Cache and queue
// failures are logged, never surfaced: the enrichment itself succeeded.
func (o *Orchestrator) finalize(ctx context.Context, res *model.EnrichmentResult, fp string, runCost float64, degraded bool) (*model.EnrichmentResult, error) {
	res.Fingerprint = fp
	res.CostUSD = runCost
	res.Degraded = degraded
	res.EnrichedAt = o.nowFn()

	// Persistence must survive a canceled run so partial progress is kept.
	ctx = context.WithoutCancel(ctx)

	o.ledger.LeadProcessed(res.SourceTier)
	if degraded {
		o.degraded.Add(1)
	} else {
		o.enriched.Add(1)
	}

	if err := o.cache.PutResult(ctx, res, o.cacheTTL()); err != nil {
		zap.L().Warn("cache write failed", zap.String("fingerprint", fp), zap.Error(err))
	}

	if res.HasEmail() && !res.EmailVerified {
		if err := o.cache.EnqueueVerification(ctx, fp); err != nil {
			zap.L().Warn("verification enqueue failed", zap.String("fingerprint", fp), zap.Error(err))
		}
	}

	zap.L().Info("lead enriched",
		zap.String("fingerprint", fp),
		zap.String("tier", res.SourceTier),
		zap.String("provider", res.SourceProvider),
		zap.Float64("confidence", res.Confidence),
		zap.Float64("cost_usd", runCost),
		zap.Bool("degraded", degraded),
	)
	return res, nil
}

func (o *Orchestrator) cacheTTL() time.Duration {
	return time.Duration(o.cfg.CacheTTLHours) * time.Hour
}
