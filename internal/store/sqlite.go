package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/enrich-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS results (
	fingerprint        TEXT PRIMARY KEY,
	payload            TEXT NOT NULL,
	confidence         REAL NOT NULL,
	needs_reenrichment INTEGER NOT NULL DEFAULT 0,
	enriched_at        DATETIME NOT NULL,
	expires_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS verification_queue (
	id           TEXT PRIMARY KEY,
	fingerprint  TEXT NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	enqueued_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	leased_until DATETIME,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS cost_ledger (
	id               TEXT PRIMARY KEY,
	provider_id      TEXT NOT NULL,
	amount_usd       REAL NOT NULL,
	lead_fingerprint TEXT NOT NULL,
	ts               DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS leads (
	fingerprint    TEXT PRIMARY KEY,
	first_name     TEXT NOT NULL DEFAULT '',
	last_name      TEXT NOT NULL DEFAULT '',
	company_domain TEXT NOT NULL,
	linkedin_url   TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_results_expires_at ON results(expires_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_vq_pending_fingerprint
	ON verification_queue(fingerprint) WHERE completed_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_vq_visibility ON verification_queue(completed_at, leased_until, enqueued_at);
CREATE INDEX IF NOT EXISTS idx_ledger_ts ON cost_ledger(ts);
CREATE INDEX IF NOT EXISTS idx_ledger_provider ON cost_ledger(provider_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetResult(ctx context.Context, fingerprint string) (*model.EnrichmentResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload, needs_reenrichment FROM results
		 WHERE fingerprint = ? AND expires_at > datetime('now')`,
		fingerprint,
	)

	var payload string
	var needsReenrichment bool
	err := row.Scan(&payload, &needsReenrichment)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get result")
	}

	var res model.EnrichmentResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal result")
	}
	// The column is authoritative; the verify worker flips it without
	// rewriting the payload.
	res.NeedsReenrichment = needsReenrichment
	return &res, nil
}

func (s *SQLiteStore) PutResult(ctx context.Context, res *model.EnrichmentResult, ttl time.Duration) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (fingerprint, payload, confidence, needs_reenrichment, enriched_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			payload = excluded.payload,
			confidence = excluded.confidence,
			needs_reenrichment = excluded.needs_reenrichment,
			enriched_at = excluded.enriched_at,
			expires_at = excluded.expires_at`,
		res.Fingerprint, string(payload), res.Confidence, res.NeedsReenrichment, now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: put result")
}

func (s *SQLiteStore) FlagReenrichment(ctx context.Context, fingerprint string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE results SET needs_reenrichment = 1 WHERE fingerprint = ?`,
		fingerprint,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: flag reenrichment %s", fingerprint)
	}
	return checkRowsAffected(res, "result", fingerprint)
}

func (s *SQLiteStore) DeleteExpiredResults(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM results WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired results")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) EnqueueVerification(ctx context.Context, fingerprint string) error {
	// The partial unique index makes duplicate pending entries a no-op.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO verification_queue (id, fingerprint, enqueued_at) VALUES (?, ?, ?)`,
		uuid.New().String(), fingerprint, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue verification")
}

func (s *SQLiteStore) DequeueVerification(ctx context.Context, limit int, lease time.Duration) ([]model.VerificationTask, error) {
	if limit <= 0 {
		limit = 10
	}
	now := time.Now().UTC()
	leasedUntil := now.Add(lease)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue begin tx")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, fingerprint, attempts, enqueued_at FROM verification_queue
		 WHERE completed_at IS NULL AND (leased_until IS NULL OR leased_until <= ?)
		 ORDER BY enqueued_at LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue select")
	}

	var tasks []model.VerificationTask
	for rows.Next() {
		var t model.VerificationTask
		if err := rows.Scan(&t.ID, &t.Fingerprint, &t.Attempts, &t.EnqueuedAt); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: dequeue scan")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, eris.Wrap(err, "sqlite: dequeue iterate")
	}
	rows.Close()

	for i := range tasks {
		if _, err := tx.ExecContext(ctx,
			`UPDATE verification_queue SET leased_until = ?, attempts = attempts + 1 WHERE id = ?`,
			leasedUntil, tasks[i].ID,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: dequeue lease")
		}
		tasks[i].Attempts++
		lu := leasedUntil
		tasks[i].LeasedUntil = &lu
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue commit")
	}
	return tasks, nil
}

func (s *SQLiteStore) CompleteVerification(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE verification_queue SET completed_at = ?, leased_until = NULL
		 WHERE id = ? AND completed_at IS NULL`,
		time.Now().UTC(), taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete verification %s", taskID)
	}
	return checkRowsAffected(res, "verification task", taskID)
}

func (s *SQLiteStore) ReleaseVerification(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE verification_queue SET leased_until = NULL
		 WHERE id = ? AND completed_at IS NULL`,
		taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: release verification %s", taskID)
	}
	return checkRowsAffected(res, "verification task", taskID)
}

func (s *SQLiteStore) PendingVerifications(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM verification_queue WHERE completed_at IS NULL`,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: pending verifications")
}

func (s *SQLiteStore) AppendLedgerEntries(ctx context.Context, entries []model.CostLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: ledger begin tx")
	}
	defer tx.Rollback()

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cost_ledger (id, provider_id, amount_usd, lead_fingerprint, ts) VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.ProviderID, e.AmountUSD, e.LeadFingerprint, e.Timestamp.UTC(),
		); err != nil {
			return eris.Wrap(err, "sqlite: insert ledger entry")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: ledger commit")
}

func (s *SQLiteStore) LedgerTotals(ctx context.Context, since time.Time) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider_id, SUM(amount_usd) FROM cost_ledger WHERE ts >= ? GROUP BY provider_id`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: ledger totals")
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var provider string
		var amount float64
		if err := rows.Scan(&provider, &amount); err != nil {
			return nil, eris.Wrap(err, "sqlite: ledger totals scan")
		}
		totals[provider] = amount
	}
	return totals, eris.Wrap(rows.Err(), "sqlite: ledger totals iterate")
}

func (s *SQLiteStore) UpsertLeads(ctx context.Context, leads []model.LeadIdentity) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert leads begin tx")
	}
	defer tx.Rollback()

	inserted := 0
	for _, lead := range leads {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO leads (fingerprint, first_name, last_name, company_domain, linkedin_url, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(fingerprint) DO UPDATE SET
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				linkedin_url = excluded.linkedin_url`,
			lead.Fingerprint(), lead.FirstName, lead.LastName, lead.CompanyDomain, lead.LinkedInURL, time.Now().UTC(),
		)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: upsert lead")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert leads commit")
	}
	return inserted, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, limit int) ([]model.LeadIdentity, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT first_name, last_name, company_domain, linkedin_url FROM leads
		 ORDER BY created_at LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.LeadIdentity
	for rows.Next() {
		var l model.LeadIdentity
		if err := rows.Scan(&l.FirstName, &l.LastName, &l.CompanyDomain, &l.LinkedInURL); err != nil {
			return nil, eris.Wrap(err, "sqlite: list leads scan")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
