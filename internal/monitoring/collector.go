// Package monitoring collects health snapshots of the enrichment system and
// raises webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/cost"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/waterfall"
)

// MetricsSnapshot holds a point-in-time view of system health. Spend and tier
// shares cover the ledger's rolling window; run counters cover process
// lifetime.
type MetricsSnapshot struct {
	Runs     waterfall.Stats `json:"runs"`
	FailRate float64         `json:"fail_rate"`

	SpendByProvider map[string]float64 `json:"spend_by_provider"`
	TotalSpendUSD   float64            `json:"total_spend_usd"`
	TierShares      map[string]float64 `json:"tier_shares"`

	VerificationBacklog int               `json:"verification_backlog"`
	BreakerStates       map[string]string `json:"breaker_states"`

	CollectedAt time.Time `json:"collected_at"`
}

// RunCounter exposes the orchestrator's run counters.
type RunCounter interface {
	Stats() waterfall.Stats
}

// QueueDepther reports the verification queue backlog. Satisfied by the store.
type QueueDepther interface {
	PendingVerifications(ctx context.Context) (int, error)
}

// Collector gathers metrics from the orchestrator, ledger, breakers and store.
type Collector struct {
	runs     RunCounter
	ledger   *cost.Ledger
	breakers *resilience.ProviderBreakers
	queue    QueueDepther
	tierIDs  []string
}

// NewCollector creates a metrics collector. tierIDs selects which tiers get a
// volume share in the snapshot.
func NewCollector(runs RunCounter, ledger *cost.Ledger, breakers *resilience.ProviderBreakers, queue QueueDepther, tierIDs []string) *Collector {
	return &Collector{
		runs:     runs,
		ledger:   ledger,
		breakers: breakers,
		queue:    queue,
		tierIDs:  tierIDs,
	}
}

// Collect gathers a snapshot of system metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		SpendByProvider: make(map[string]float64),
		TierShares:      make(map[string]float64),
		BreakerStates:   make(map[string]string),
		CollectedAt:     time.Now().UTC(),
	}

	if c.runs != nil {
		snap.Runs = c.runs.Stats()
		finished := snap.Runs.Enriched + snap.Runs.Degraded + snap.Runs.Failed
		if finished > 0 {
			snap.FailRate = float64(snap.Runs.Failed) / float64(finished)
		}
	}

	if c.ledger != nil {
		snap.SpendByProvider = c.ledger.SpendByProvider()
		for _, amount := range snap.SpendByProvider {
			snap.TotalSpendUSD += amount
		}
		for _, tierID := range c.tierIDs {
			snap.TierShares[tierID] = c.ledger.Share(tierID)
		}
	}

	if c.breakers != nil {
		for provider, state := range c.breakers.States() {
			snap.BreakerStates[provider] = state.String()
		}
	}

	if c.queue != nil {
		depth, err := c.queue.PendingVerifications(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: verification backlog")
		}
		snap.VerificationBacklog = depth
	}

	return snap, nil
}
