package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/cost"
	"github.com/sells-group/enrich-cli/internal/escalate"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/store"
	"github.com/sells-group/enrich-cli/internal/waterfall"
	"github.com/sells-group/enrich-cli/internal/waterfall/provider"
	"github.com/sells-group/enrich-cli/pkg/apollo"
	"github.com/sells-group/enrich-cli/pkg/clearbit"
	"github.com/sells-group/enrich-cli/pkg/hunter"
	"github.com/sells-group/enrich-cli/pkg/prospeo"
)

// env bundles the wired waterfall stack shared by the commands.
type env struct {
	Store     store.Store
	Waterfall *waterfall.Config
	Ledger    *cost.Ledger
	Breakers  *resilience.ProviderBreakers
	Orch      *waterfall.Orchestrator
}

// initEnv opens the store and builds the orchestrator with all four provider
// adapters registered.
func initEnv(ctx context.Context) (*env, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	wcfg, err := loadWaterfallConfig()
	if err != nil {
		st.Close()
		return nil, err
	}

	registry := provider.NewRegistry()
	registry.Register(provider.NewApolloAdapter(apollo.NewClient(cfg.Apollo.Key,
		apollo.WithBaseURL(cfg.Apollo.BaseURL),
		apollo.WithRateLimit(cfg.Apollo.RatePerSec),
	)))
	registry.Register(provider.NewHunterAdapter(hunter.NewClient(cfg.Hunter.Key,
		hunter.WithBaseURL(cfg.Hunter.BaseURL),
		hunter.WithRateLimit(cfg.Hunter.RatePerSec),
	)))
	registry.Register(provider.NewProspeoAdapter(prospeo.NewClient(cfg.Prospeo.Key,
		prospeo.WithBaseURL(cfg.Prospeo.BaseURL),
		prospeo.WithRateLimit(cfg.Prospeo.RatePerSec),
	)))
	registry.Register(provider.NewClearbitAdapter(clearbit.NewClient(cfg.Clearbit.Key,
		clearbit.WithBaseURL(cfg.Clearbit.BaseURL),
		clearbit.WithRateLimit(cfg.Clearbit.RatePerSec),
	)))

	ledger := cost.NewLedger(time.Duration(wcfg.VolumeWindowMins) * time.Minute)
	breakers := resilience.NewProviderBreakers(resilience.DefaultBreakerConfig())
	engine := escalate.NewEngine(escalate.NewPool(cfg.Proxies), escalate.EngineConfig{
		MaxAttempts:    wcfg.Escalation.MaxAttempts,
		InitialBackoff: time.Duration(wcfg.Escalation.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(wcfg.Escalation.MaxBackoffMS) * time.Millisecond,
		Multiplier:     wcfg.Escalation.Multiplier,
		JitterFraction: wcfg.Escalation.JitterFraction,
	})

	return &env{
		Store:     st,
		Waterfall: wcfg,
		Ledger:    ledger,
		Breakers:  breakers,
		Orch:      waterfall.NewOrchestrator(wcfg, registry, st, ledger, engine, breakers),
	}, nil
}

// loadWaterfallConfig reads the tier file when present, otherwise starts from
// the built-in tiers. App-level scalar settings override either source.
func loadWaterfallConfig() (*waterfall.Config, error) {
	var wcfg *waterfall.Config
	path := cfg.Waterfall.ConfigPath
	if _, err := os.Stat(path); err == nil {
		wcfg, err = waterfall.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	} else {
		wcfg = waterfall.DefaultConfig()
	}

	if cfg.Waterfall.CacheFreshThreshold > 0 {
		wcfg.CacheFreshThreshold = cfg.Waterfall.CacheFreshThreshold
	}
	if cfg.Waterfall.CacheTTLHours > 0 {
		wcfg.CacheTTLHours = cfg.Waterfall.CacheTTLHours
	}
	if cfg.Waterfall.VolumeWindowMins > 0 {
		wcfg.VolumeWindowMins = cfg.Waterfall.VolumeWindowMins
	}

	if err := wcfg.Validate(); err != nil {
		return nil, err
	}
	return wcfg, nil
}

// Close flushes pending ledger entries and releases the store.
func (e *env) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Ledger.Flush(ctx, e.Store); err != nil {
		zap.L().Error("flush cost ledger", zap.Error(err))
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Error("close store", zap.Error(err))
	}
}

// flushLedgerLoop periodically persists pending ledger entries. It blocks
// until ctx is cancelled.
func (e *env) flushLedgerLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Ledger.Flush(ctx, e.Store); err != nil {
				zap.L().Warn("flush cost ledger", zap.Error(err))
			}
		}
	}
}

// tierIDs lists the configured tier IDs in waterfall order.
func (e *env) tierIDs() []string {
	ids := make([]string, len(e.Waterfall.Tiers))
	for i, tier := range e.Waterfall.Tiers {
		ids[i] = tier.ID
	}
	return ids
}
