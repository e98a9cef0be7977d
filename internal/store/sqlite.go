package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/model"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLiteStore implements Store using modernc.org/sqlite through sqlx.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// One writer keeps audit appends ordered.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS claims (
	id                     TEXT PRIMARY KEY,
	policy_number          TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'pending',
	routing_status         TEXT NOT NULL DEFAULT '',
	human_review_requested BOOLEAN NOT NULL DEFAULT 0,
	data                   TEXT NOT NULL,
	created_at             DATETIME NOT NULL,
	updated_at             DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS estimates (
	id               TEXT PRIMARY KEY,
	claim_id         TEXT NOT NULL REFERENCES claims(id),
	data             TEXT NOT NULL,
	grand_total_high REAL NOT NULL DEFAULT 0,
	generated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS controls (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	updated_by TEXT
);

CREATE TABLE IF NOT EXISTS audit_logs (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	claim_id        TEXT,
	occurred_at     DATETIME NOT NULL,
	event_type      TEXT NOT NULL,
	actor_type      TEXT NOT NULL,
	actor_id        TEXT,
	model_provider  TEXT,
	model_name      TEXT,
	model_version   TEXT,
	metrics         TEXT,
	decision        TEXT,
	has_snapshots   BOOLEAN NOT NULL DEFAULT 0,
	before_json     TEXT,
	after_json      TEXT,
	payload         TEXT NOT NULL DEFAULT '{}',
	prev_event_hash TEXT,
	event_hash      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status);
CREATE INDEX IF NOT EXISTS idx_claims_routing_status ON claims(routing_status);
CREATE INDEX IF NOT EXISTS idx_estimates_claim_id ON estimates(claim_id, generated_at);
CREATE INDEX IF NOT EXISTS idx_audit_logs_claim_id ON audit_logs(claim_id, seq);
CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateClaim(ctx context.Context, c *model.Claim) error {
	row, err := newClaimRow(c)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO claims (`+claimColumns+`)
		 VALUES (:id, :policy_number, :status, :routing_status, :human_review_requested, :data, :created_at, :updated_at)`,
		row,
	)
	return eris.Wrapf(err, "sqlite: insert claim %s", c.ID)
}

func (s *SQLiteStore) GetClaim(ctx context.Context, id string) (*model.Claim, error) {
	var row claimRow
	err := s.db.GetContext(ctx, &row, `SELECT `+claimColumns+` FROM claims WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "claim %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get claim %s", id)
	}
	return row.claim()
}

func (s *SQLiteStore) UpdateClaim(ctx context.Context, c *model.Claim) error {
	row, err := newClaimRow(c)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx,
		`UPDATE claims SET status = :status, routing_status = :routing_status, data = :data, updated_at = :updated_at
		 WHERE id = :id`,
		row,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update claim %s", c.ID)
	}
	return checkRowsAffected(res, "claim", c.ID)
}

func (s *SQLiteStore) ListClaims(ctx context.Context, filter ClaimFilter) ([]model.Claim, error) {
	query, args := claimListQuery(filter)
	var rows []claimRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: list claims")
	}
	claims := make([]model.Claim, 0, len(rows))
	for i := range rows {
		c, err := rows[i].claim()
		if err != nil {
			return nil, err
		}
		claims = append(claims, *c)
	}
	return claims, nil
}

func (s *SQLiteStore) SaveEstimate(ctx context.Context, e *model.Estimate) error {
	row, err := newEstimateRow(e)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO estimates (`+estimateColumns+`)
		 VALUES (:id, :claim_id, :data, :grand_total_high, :generated_at)`,
		row,
	)
	return eris.Wrapf(err, "sqlite: insert estimate for claim %s", e.ClaimID)
}

// LatestEstimate returns the newest estimate for a claim, or nil when none
// has been generated.
func (s *SQLiteStore) LatestEstimate(ctx context.Context, claimID string) (*model.Estimate, error) {
	var row estimateRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+estimateColumns+` FROM estimates WHERE claim_id = ? ORDER BY generated_at DESC LIMIT 1`,
		claimID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest estimate for claim %s", claimID)
	}
	return row.estimate()
}

func (s *SQLiteStore) ListControls(ctx context.Context) ([]ControlRow, error) {
	var rows []controlRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+controlColumns+` FROM controls ORDER BY key`); err != nil {
		return nil, eris.Wrap(err, "sqlite: list controls")
	}
	out := make([]ControlRow, len(rows))
	for i := range rows {
		out[i] = rows[i].control()
	}
	return out, nil
}

// SetControls upserts every row in one transaction.
func (s *SQLiteStore) SetControls(ctx context.Context, rows []ControlRow) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin set controls")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range rows {
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO controls (`+controlColumns+`) VALUES (:key, :value, :updated_at, :updated_by)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at, updated_by = excluded.updated_by`,
			controlRow{
				Key:       r.Key,
				Value:     string(r.Value),
				UpdatedAt: r.UpdatedAt.UTC(),
				UpdatedBy: nullString(r.UpdatedBy),
			},
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert control %s", r.Key)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit set controls")
}

func (s *SQLiteStore) DeleteControls(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM controls`)
	return eris.Wrap(err, "sqlite: delete controls")
}

func (s *SQLiteStore) LastAuditHash(ctx context.Context, claimID string) (string, error) {
	var hash string
	err := s.db.GetContext(ctx, &hash,
		`SELECT event_hash FROM audit_logs WHERE claim_id IS ? ORDER BY seq DESC LIMIT 1`,
		nullString(claimID),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, eris.Wrap(err, "sqlite: last audit hash")
}

func (s *SQLiteStore) AppendAuditEvent(ctx context.Context, e *audit.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newAuditRow(e).args()...,
	)
	return eris.Wrapf(err, "sqlite: insert audit event %s", e.EventType)
}

func (s *SQLiteStore) ListAuditEvents(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	query, args, err := auditListQuery(filter)
	if err != nil {
		return nil, err
	}
	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit events")
	}
	events := make([]audit.Event, len(rows))
	for i := range rows {
		events[i] = rows[i].event()
	}
	return events, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
