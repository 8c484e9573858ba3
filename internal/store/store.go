// Package store persists enrichment results, the verification queue, the
// cost ledger, and imported leads behind a single interface with SQLite and
// Postgres backends.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/config"
	"github.com/sells-group/enrich-cli/internal/model"
)

// Store defines the persistence interface for the enrichment waterfall.
type Store interface {
	// Result cache. GetResult returns (nil, nil) on a miss or an expired row.
	GetResult(ctx context.Context, fingerprint string) (*model.EnrichmentResult, error)
	PutResult(ctx context.Context, res *model.EnrichmentResult, ttl time.Duration) error
	FlagReenrichment(ctx context.Context, fingerprint string) error
	DeleteExpiredResults(ctx context.Context) (int, error)

	// Verification queue. Dequeued tasks are leased; a task becomes visible
	// again once its lease expires or it is released.
	EnqueueVerification(ctx context.Context, fingerprint string) error
	DequeueVerification(ctx context.Context, limit int, lease time.Duration) ([]model.VerificationTask, error)
	CompleteVerification(ctx context.Context, taskID string) error
	ReleaseVerification(ctx context.Context, taskID string) error
	PendingVerifications(ctx context.Context) (int, error)

	// Cost ledger.
	AppendLedgerEntries(ctx context.Context, entries []model.CostLedgerEntry) error
	LedgerTotals(ctx context.Context, since time.Time) (map[string]float64, error)

	// Imported leads.
	UpsertLeads(ctx context.Context, leads []model.LeadIdentity) (int, error)
	ListLeads(ctx context.Context, limit int) ([]model.LeadIdentity, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open constructs the configured backend and runs migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
