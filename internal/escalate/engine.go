package escalate

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/waterfall/provider"
)

// EngineConfig controls retry behavior around a single provider call.
type EngineConfig struct {
	// MaxAttempts is the total number of attempts including the first try.
	// Default: 3.
	MaxAttempts int

	// InitialBackoff is the base delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration. Default: 30s.
	MaxBackoff time.Duration

	// Multiplier scales the backoff after each attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction adds random jitter as a fraction of the computed delay
	// (0.0 = no jitter, 0.5 = ±50%). Default: 0.25.
	JitterFraction float64
}

// DefaultEngineConfig returns the retry configuration used for provider calls.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Engine wraps provider calls with backoff and identity rotation. Blocked
// and rate-limited outcomes burn the identity they were made under and
// rotate to a fresh one; rate limits additionally honor the provider's
// requested delay; transient failures back off under the same identity.
type Engine struct {
	pool  *Pool
	cfg   EngineConfig
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an escalation engine backed by the given identity pool.
func NewEngine(pool *Pool, cfg EngineConfig) *Engine {
	return &Engine{
		pool:  pool,
		cfg:   applyDefaults(cfg),
		sleep: sleepCtx,
	}
}

// Do runs fn up to MaxAttempts times. The first attempt goes out under the
// direct identity. Every attempt's outcome reaches the caller's fn so cost
// is recorded per attempt, not per lead. When attempts are exhausted the
// last outcome is returned with its retryable flag cleared, so the caller
// moves on cleanly.
func (e *Engine) Do(ctx context.Context, providerName string, fn func(ctx context.Context, ident provider.Identity) provider.Outcome) provider.Outcome {
	var (
		ident   provider.Identity
		burned  map[string]bool
		outcome provider.Outcome
	)

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		outcome = fn(ctx, ident)
		if !outcome.Retry() {
			return outcome
		}
		if ctx.Err() != nil {
			return outcome
		}
		if attempt >= e.cfg.MaxAttempts-1 {
			break
		}

		zap.L().Warn("escalating provider call",
			zap.String("provider", providerName),
			zap.Int("attempt", attempt+1),
			zap.String("outcome", outcome.Kind.String()),
			zap.Error(outcome.Err),
		)

		if outcome.Kind == provider.KindBlocked || outcome.Kind == provider.KindRateLimited {
			if burned == nil {
				burned = make(map[string]bool)
			}
			burned[ident.ProxyURL] = true
			if next, ok := e.pool.Next(burned); ok {
				ident = next
			} else if outcome.Kind == provider.KindBlocked {
				// Every identity is burned. No point retrying a block.
				break
			}
			// A rate limit clears with time, so with the pool exhausted
			// the next attempt reuses the current identity after the delay.
		}

		delay := computeBackoff(attempt, e.cfg)
		if outcome.Kind == provider.KindRateLimited && outcome.RetryAfter > delay {
			delay = outcome.RetryAfter
		}
		if err := e.sleep(ctx, delay); err != nil {
			return outcome
		}
	}

	// Exhaustion makes the failure terminal. Clearing Retryable carries the
	// same do-not-retry meaning as folding into a hard block, while keeping
	// the original kind and error visible in the orchestrator's logs.
	outcome.Retryable = false
	return outcome
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func applyDefaults(cfg EngineConfig) EngineConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

func computeBackoff(attempt int, cfg EngineConfig) time.Duration {
	delay := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}

	if cfg.JitterFraction > 0 {
		jitterRange := delay * cfg.JitterFraction
		jitter := (rand.Float64()*2 - 1) * jitterRange // [-jitterRange, +jitterRange]
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
