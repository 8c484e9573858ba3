// Package cost tracks provider spend and rolling tier-volume shares for the
// enrichment waterfall. The ledger is an explicitly constructed, injected
// instance: created once at process start and passed by reference to the
// orchestrator and adapters.
package cost

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
)

// bucketResolution is the granularity of the rolling window.
const bucketResolution = time.Minute

// Sink persists drained ledger entries. Satisfied by the store.
type Sink interface {
	AppendLedgerEntries(ctx context.Context, entries []model.CostLedgerEntry) error
}

// bucket accumulates one minute of counters. Each bucket carries its own lock
// so concurrent runs touching different minutes never contend.
type bucket struct {
	mu         sync.Mutex
	minute     int64 // unix minute this bucket currently represents
	totalLeads int64
	tierLeads  map[string]int64
	spend      map[string]float64
}

func (b *bucket) resetLocked(minute int64) {
	b.minute = minute
	b.totalLeads = 0
	b.tierLeads = make(map[string]int64)
	b.spend = make(map[string]float64)
}

// Ledger is the process-wide spend and volume tracker. Rolling-window reads
// are eventually consistent with writes: a brief race allowing marginal cap
// overshoot is acceptable for a cost-control heuristic.
type Ledger struct {
	window  time.Duration
	buckets []*bucket

	pendingMu sync.Mutex
	pending   []model.CostLedgerEntry

	nowFunc func() time.Time
}

// NewLedger creates a ledger with the given rolling window. The window is
// rounded up to a whole number of minute buckets.
func NewLedger(window time.Duration) *Ledger {
	if window < bucketResolution {
		window = bucketResolution
	}
	n := int((window + bucketResolution - 1) / bucketResolution)
	buckets := make([]*bucket, n)
	for i := range buckets {
		buckets[i] = &bucket{
			tierLeads: make(map[string]int64),
			spend:     make(map[string]float64),
		}
	}
	return &Ledger{
		window:  window,
		buckets: buckets,
		nowFunc: time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (l *Ledger) WithNow(fn func() time.Time) *Ledger {
	l.nowFunc = fn
	return l
}

// current returns the bucket for the current minute, recycling stale slots.
func (l *Ledger) current() *bucket {
	minute := l.nowFunc().Unix() / 60
	b := l.buckets[int(minute)%len(l.buckets)]
	b.mu.Lock()
	if b.minute != minute {
		b.resetLocked(minute)
	}
	return b // caller inherits the lock via withCurrent
}

func (l *Ledger) withCurrent(fn func(b *bucket)) {
	b := l.current()
	fn(b)
	b.mu.Unlock()
}

// Record appends a spend entry for one provider call attempt. Providers
// charge per call, not per success, so adapters record on every attempt.
func (l *Ledger) Record(providerID string, amountUSD float64, fingerprint string) {
	entry := model.CostLedgerEntry{
		ID:              uuid.New().String(),
		ProviderID:      providerID,
		AmountUSD:       amountUSD,
		LeadFingerprint: fingerprint,
		Timestamp:       l.nowFunc().UTC(),
	}

	l.withCurrent(func(b *bucket) {
		b.spend[providerID] += amountUSD
	})

	l.pendingMu.Lock()
	l.pending = append(l.pending, entry)
	l.pendingMu.Unlock()
}

// LeadProcessed counts a completed waterfall run attributed to the tier that
// produced its final result. Runs feed the volume-cap share check.
func (l *Ledger) LeadProcessed(tierID string) {
	l.withCurrent(func(b *bucket) {
		b.totalLeads++
		if tierID != "" {
			b.tierLeads[tierID]++
		}
	})
}

// Share returns the fraction of leads in the rolling window whose final
// result came from the given tier. Zero leads means zero share, so a cold
// process never starts capped.
func (l *Ledger) Share(tierID string) float64 {
	cutoff := l.nowFunc().Add(-l.window).Unix() / 60

	var total, tier int64
	for _, b := range l.buckets {
		b.mu.Lock()
		if b.minute >= cutoff && b.minute != 0 {
			total += b.totalLeads
			tier += b.tierLeads[tierID]
		}
		b.mu.Unlock()
	}

	if total == 0 {
		return 0
	}
	return float64(tier) / float64(total)
}

// SpendByProvider sums rolling-window spend per provider.
func (l *Ledger) SpendByProvider() map[string]float64 {
	cutoff := l.nowFunc().Add(-l.window).Unix() / 60

	totals := make(map[string]float64)
	for _, b := range l.buckets {
		b.mu.Lock()
		if b.minute >= cutoff && b.minute != 0 {
			for provider, amount := range b.spend {
				totals[provider] += amount
			}
		}
		b.mu.Unlock()
	}
	return totals
}

// Drain returns and clears the pending append-only entries.
func (l *Ledger) Drain() []model.CostLedgerEntry {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()
	entries := l.pending
	l.pending = nil
	return entries
}

// Flush persists pending entries to the sink. Entries that fail to persist
// are requeued so attribution is not lost on a transient store error.
func (l *Ledger) Flush(ctx context.Context, sink Sink) error {
	entries := l.Drain()
	if len(entries) == 0 {
		return nil
	}
	if err := sink.AppendLedgerEntries(ctx, entries); err != nil {
		l.pendingMu.Lock()
		l.pending = append(entries, l.pending...)
		l.pendingMu.Unlock()
		return err
	}
	zap.L().Debug("cost: flushed ledger entries", zap.Int("count", len(entries)))
	return nil
}
