package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult(fp string) *model.EnrichmentResult {
	return &model.EnrichmentResult{
		Fingerprint:    fp,
		Email:          "jane.doe@acme.com",
		EmailVerified:  false,
		Role:           "VP Engineering",
		CompanyFields:  map[string]string{"name": "Acme", "industry": "software"},
		SourceTier:     "1.5",
		SourceProvider: "prospeo",
		Confidence:     0.82,
		Completeness:   model.CompletenessEmailFound,
		CostUSD:        0.03,
		RawPayload:     json.RawMessage(`{"email":"jane.doe@acme.com"}`),
		EnrichedAt:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestResultRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := sampleResult("fp-1")
	require.NoError(t, s.PutResult(ctx, want, time.Hour))

	got, err := s.GetResult(ctx, "fp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, got)
}

func TestGetResultMissIsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetResult(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetResultExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutResult(ctx, sampleResult("fp-1"), -time.Second))
	got, err := s.GetResult(ctx, "fp-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := s.DeleteExpiredResults(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPutResultOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := sampleResult("fp-1")
	require.NoError(t, s.PutResult(ctx, first, time.Hour))

	second := sampleResult("fp-1")
	second.Email = "new@acme.com"
	second.Confidence = 0.95
	require.NoError(t, s.PutResult(ctx, second, time.Hour))

	got, err := s.GetResult(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, "new@acme.com", got.Email)
	assert.Equal(t, 0.95, got.Confidence)
}

func TestFlagReenrichment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutResult(ctx, sampleResult("fp-1"), time.Hour))
	require.NoError(t, s.FlagReenrichment(ctx, "fp-1"))

	got, err := s.GetResult(ctx, "fp-1")
	require.NoError(t, err)
	assert.True(t, got.NeedsReenrichment)

	assert.Error(t, s.FlagReenrichment(ctx, "missing"))
}

func TestVerificationQueueLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueVerification(ctx, "fp-1"))
	require.NoError(t, s.EnqueueVerification(ctx, "fp-2"))
	// Duplicate pending enqueue is a silent no-op.
	require.NoError(t, s.EnqueueVerification(ctx, "fp-1"))

	depth, err := s.PendingVerifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	tasks, err := s.DequeueVerification(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, 1, tasks[0].Attempts)
	require.NotNil(t, tasks[0].LeasedUntil)

	// Leased tasks are invisible to other consumers.
	again, err := s.DequeueVerification(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	// Complete one, release the other back to the queue.
	require.NoError(t, s.CompleteVerification(ctx, tasks[0].ID))
	require.NoError(t, s.ReleaseVerification(ctx, tasks[1].ID))

	remaining, err := s.DequeueVerification(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, tasks[1].ID, remaining[0].ID)
	assert.Equal(t, 2, remaining[0].Attempts)

	// A completed task cannot be completed or released again.
	assert.Error(t, s.CompleteVerification(ctx, tasks[0].ID))
	assert.Error(t, s.ReleaseVerification(ctx, tasks[0].ID))
}

func TestVerificationLeaseExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueVerification(ctx, "fp-1"))

	// A lease that is already expired leaves the task visible.
	tasks, err := s.DequeueVerification(ctx, 10, -time.Second)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	again, err := s.DequeueVerification(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, tasks[0].ID, again[0].ID)
	assert.Equal(t, 2, again[0].Attempts)
}

func TestReEnqueueAfterCompletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueVerification(ctx, "fp-1"))
	tasks, err := s.DequeueVerification(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NoError(t, s.CompleteVerification(ctx, tasks[0].ID))

	// Completion frees the fingerprint for a fresh entry.
	require.NoError(t, s.EnqueueVerification(ctx, "fp-1"))
	depth, err := s.PendingVerifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestLedgerAppendAndTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	entries := []model.CostLedgerEntry{
		{ID: "e1", ProviderID: "apollo", AmountUSD: 0.01, LeadFingerprint: "fp-1", Timestamp: now},
		{ID: "e2", ProviderID: "apollo", AmountUSD: 0.01, LeadFingerprint: "fp-2", Timestamp: now},
		{ID: "e3", ProviderID: "clearbit", AmountUSD: 0.10, LeadFingerprint: "fp-1", Timestamp: now},
		{ID: "e4", ProviderID: "apollo", AmountUSD: 0.01, LeadFingerprint: "fp-3", Timestamp: now.Add(-48 * time.Hour)},
	}
	require.NoError(t, s.AppendLedgerEntries(ctx, entries))
	require.NoError(t, s.AppendLedgerEntries(ctx, nil))

	totals, err := s.LedgerTotals(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.02, totals["apollo"], 1e-9)
	assert.InDelta(t, 0.10, totals["clearbit"], 1e-9)

	all, err := s.LedgerTotals(ctx, now.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.03, all["apollo"], 1e-9)
}

func TestUpsertAndListLeads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	leads := []model.LeadIdentity{
		{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"},
		{FirstName: "John", LastName: "Smith", CompanyDomain: "globex.com"},
	}
	n, err := s.UpsertLeads(ctx, leads)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Same fingerprint updates in place rather than duplicating.
	_, err = s.UpsertLeads(ctx, []model.LeadIdentity{
		{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com", LinkedInURL: "https://linkedin.com/in/jane-doe"},
	})
	require.NoError(t, err)

	got, err := s.ListLeads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://linkedin.com/in/jane-doe", got[0].LinkedInURL)
}
