package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
)

// Pool is the pgxpool surface the store uses, narrowed so tests can swap in
// pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_result": `SELECT payload, needs_reenrichment FROM results WHERE fingerprint = $1 AND expires_at > now()`,
	"put_result": `INSERT INTO results (fingerprint, payload, confidence, needs_reenrichment, enriched_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fingerprint) DO UPDATE SET
			payload = excluded.payload,
			confidence = excluded.confidence,
			needs_reenrichment = excluded.needs_reenrichment,
			enriched_at = excluded.enriched_at,
			expires_at = excluded.expires_at`,
	"enqueue_verification": `INSERT INTO verification_queue (id, fingerprint, enqueued_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS results (
	fingerprint        TEXT PRIMARY KEY,
	payload            JSONB NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL,
	needs_reenrichment BOOLEAN NOT NULL DEFAULT false,
	enriched_at        TIMESTAMPTZ NOT NULL,
	expires_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS verification_queue (
	id           TEXT PRIMARY KEY,
	fingerprint  TEXT NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	enqueued_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	leased_until TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS cost_ledger (
	id               TEXT PRIMARY KEY,
	provider_id      TEXT NOT NULL,
	amount_usd       DOUBLE PRECISION NOT NULL,
	lead_fingerprint TEXT NOT NULL,
	ts               TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS leads (
	fingerprint    TEXT PRIMARY KEY,
	first_name     TEXT NOT NULL DEFAULT '',
	last_name      TEXT NOT NULL DEFAULT '',
	company_domain TEXT NOT NULL,
	linkedin_url   TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_results_expires_at ON results(expires_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_vq_pending_fingerprint
	ON verification_queue(fingerprint) WHERE completed_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_vq_visibility ON verification_queue(completed_at, leased_until, enqueued_at);
CREATE INDEX IF NOT EXISTS idx_ledger_ts ON cost_ledger(ts);
CREATE INDEX IF NOT EXISTS idx_ledger_provider ON cost_ledger(provider_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetResult(ctx context.Context, fingerprint string) (*model.EnrichmentResult, error) {
	var payload []byte
	var needsReenrichment bool
	err := s.pool.QueryRow(ctx,
		`SELECT payload, needs_reenrichment FROM results WHERE fingerprint = $1 AND expires_at > now()`,
		fingerprint,
	).Scan(&payload, &needsReenrichment)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get result")
	}

	var res model.EnrichmentResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal result")
	}
	res.NeedsReenrichment = needsReenrichment
	return &res, nil
}

func (s *PostgresStore) PutResult(ctx context.Context, res *model.EnrichmentResult, ttl time.Duration) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO results (fingerprint, payload, confidence, needs_reenrichment, enriched_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (fingerprint) DO UPDATE SET
			payload = excluded.payload,
			confidence = excluded.confidence,
			needs_reenrichment = excluded.needs_reenrichment,
			enriched_at = excluded.enriched_at,
			expires_at = excluded.expires_at`,
		res.Fingerprint, payload, res.Confidence, res.NeedsReenrichment, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: put result")
}

func (s *PostgresStore) FlagReenrichment(ctx context.Context, fingerprint string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE results SET needs_reenrichment = true WHERE fingerprint = $1`,
		fingerprint,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: flag reenrichment %s", fingerprint)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("result not found: %s", fingerprint)
	}
	return nil
}

func (s *PostgresStore) DeleteExpiredResults(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM results WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired results")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) EnqueueVerification(ctx context.Context, fingerprint string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO verification_queue (id, fingerprint, enqueued_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		uuid.New().String(), fingerprint, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: enqueue verification")
}

func (s *PostgresStore) DequeueVerification(ctx context.Context, limit int, lease time.Duration) ([]model.VerificationTask, error) {
	if limit <= 0 {
		limit = 10
	}
	now := time.Now().UTC()

	rows, err := s.pool.Query(ctx,
		`UPDATE verification_queue SET leased_until = $1, attempts = attempts + 1
		 WHERE id IN (
			SELECT id FROM verification_queue
			WHERE completed_at IS NULL AND (leased_until IS NULL OR leased_until <= $2)
			ORDER BY enqueued_at LIMIT $3
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, fingerprint, attempts, enqueued_at, leased_until`,
		now.Add(lease), now, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue verification")
	}
	defer rows.Close()

	var tasks []model.VerificationTask
	for rows.Next() {
		var t model.VerificationTask
		if err := rows.Scan(&t.ID, &t.Fingerprint, &t.Attempts, &t.EnqueuedAt, &t.LeasedUntil); err != nil {
			return nil, eris.Wrap(err, "postgres: dequeue scan")
		}
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: dequeue iterate")
}

func (s *PostgresStore) CompleteVerification(ctx context.Context, taskID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE verification_queue SET completed_at = $1, leased_until = NULL
		 WHERE id = $2 AND completed_at IS NULL`,
		time.Now().UTC(), taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete verification %s", taskID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("verification task not found: %s", taskID)
	}
	return nil
}

func (s *PostgresStore) ReleaseVerification(ctx context.Context, taskID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE verification_queue SET leased_until = NULL
		 WHERE id = $1 AND completed_at IS NULL`,
		taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: release verification %s", taskID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("verification task not found: %s", taskID)
	}
	return nil
}

func (s *PostgresStore) PendingVerifications(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM verification_queue WHERE completed_at IS NULL`,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: pending verifications")
}

func (s *PostgresStore) AppendLedgerEntries(ctx context.Context, entries []model.CostLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: ledger begin tx")
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO cost_ledger (id, provider_id, amount_usd, lead_fingerprint, ts) VALUES ($1, $2, $3, $4, $5)`,
			e.ID, e.ProviderID, e.AmountUSD, e.LeadFingerprint, e.Timestamp.UTC(),
		); err != nil {
			return eris.Wrap(err, "postgres: insert ledger entry")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: ledger commit")
}

func (s *PostgresStore) LedgerTotals(ctx context.Context, since time.Time) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT provider_id, SUM(amount_usd) FROM cost_ledger WHERE ts >= $1 GROUP BY provider_id`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: ledger totals")
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var provider string
		var amount float64
		if err := rows.Scan(&provider, &amount); err != nil {
			return nil, eris.Wrap(err, "postgres: ledger totals scan")
		}
		totals[provider] = amount
	}
	return totals, eris.Wrap(rows.Err(), "postgres: ledger totals iterate")
}

func (s *PostgresStore) UpsertLeads(ctx context.Context, leads []model.LeadIdentity) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert leads begin tx")
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, lead := range leads {
		tag, err := tx.Exec(ctx,
			`INSERT INTO leads (fingerprint, first_name, last_name, company_domain, linkedin_url, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (fingerprint) DO UPDATE SET
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				linkedin_url = excluded.linkedin_url`,
			lead.Fingerprint(), lead.FirstName, lead.LastName, lead.CompanyDomain, lead.LinkedInURL, time.Now().UTC(),
		)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: upsert lead")
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: upsert leads commit")
	}
	return inserted, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, limit int) ([]model.LeadIdentity, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT first_name, last_name, company_domain, linkedin_url FROM leads ORDER BY created_at LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.LeadIdentity
	for rows.Next() {
		var l model.LeadIdentity
		if err := rows.Scan(&l.FirstName, &l.LastName, &l.CompanyDomain, &l.LinkedInURL); err != nil {
			return nil, eris.Wrap(err, "postgres: list leads scan")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}
