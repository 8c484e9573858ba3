package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/cost"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/waterfall"
)

type fakeRuns struct {
	stats waterfall.Stats
}

func (f *fakeRuns) Stats() waterfall.Stats { return f.stats }

type fakeQueue struct {
	depth int
	err   error
}

func (f *fakeQueue) PendingVerifications(context.Context) (int, error) {
	return f.depth, f.err
}

func TestCollectorSnapshot(t *testing.T) {
	ledger := cost.NewLedger(time.Hour)
	ledger.Record("apollo", 0.01, "fp-1")
	ledger.Record("clearbit", 0.10, "fp-2")
	ledger.LeadProcessed("1")
	ledger.LeadProcessed("2")

	breakers := resilience.NewProviderBreakers(resilience.DefaultBreakerConfig())
	apollo := breakers.Get("apollo")
	for i := 0; i < 5; i++ {
		apollo.RecordFailure()
	}
	breakers.Get("hunter").RecordSuccess()

	runs := &fakeRuns{stats: waterfall.Stats{
		CacheHits: 3,
		Enriched:  7,
		Degraded:  1,
		Failed:    2,
	}}

	c := NewCollector(runs, ledger, breakers, &fakeQueue{depth: 42}, []string{"1", "1.5", "2"})
	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(7), snap.Runs.Enriched)
	assert.InDelta(t, 0.2, snap.FailRate, 1e-9, "2 failed out of 10 finished")
	assert.InDelta(t, 0.11, snap.TotalSpendUSD, 1e-9)
	assert.InDelta(t, 0.01, snap.SpendByProvider["apollo"], 1e-9)
	assert.InDelta(t, 0.5, snap.TierShares["2"], 1e-9)
	assert.Zero(t, snap.TierShares["1.5"])
	assert.Equal(t, 42, snap.VerificationBacklog)
	assert.Equal(t, "open", snap.BreakerStates["apollo"])
	assert.Equal(t, "closed", snap.BreakerStates["hunter"])
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollectorQueueError(t *testing.T) {
	c := NewCollector(nil, nil, nil, &fakeQueue{err: assert.AnError}, nil)
	_, err := c.Collect(context.Background())
	assert.Error(t, err)
}

func TestCollectorNilSources(t *testing.T) {
	c := NewCollector(nil, nil, nil, nil, nil)
	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.TotalSpendUSD)
	assert.Empty(t, snap.BreakerStates)
}
