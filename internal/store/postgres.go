package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"

	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/db"
	"github.com/sells-group/claims-router/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlInsertClaim = `INSERT INTO claims (` + claimColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	sqlGetClaim    = `SELECT ` + claimColumns + ` FROM claims WHERE id = $1`
	sqlUpdateClaim = `UPDATE claims SET status = $1, routing_status = $2, data = $3, updated_at = $4 WHERE id = $5`

	sqlInsertEstimate = `INSERT INTO estimates (` + estimateColumns + `) VALUES ($1, $2, $3, $4, $5)`
	sqlLatestEstimate = `SELECT ` + estimateColumns + ` FROM estimates WHERE claim_id = $1 ORDER BY generated_at DESC LIMIT 1`

	sqlListControls = `SELECT ` + controlColumns + ` FROM controls ORDER BY key`

	sqlLastAuditHash = `SELECT event_hash FROM audit_logs WHERE claim_id IS NOT DISTINCT FROM $1 ORDER BY seq DESC LIMIT 1`
	sqlInsertAudit   = `INSERT INTO audit_logs (` + auditColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_claim":    sqlInsertClaim,
	"get_claim":       sqlGetClaim,
	"update_claim":    sqlUpdateClaim,
	"insert_estimate": sqlInsertEstimate,
	"latest_estimate": sqlLatestEstimate,
	"list_controls":   sqlListControls,
	"last_audit_hash": sqlLastAuditHash,
	"insert_audit":    sqlInsertAudit,
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

	// Statements are prepared lazily: the tables may not exist until Migrate.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		var ok bool
		if err := conn.QueryRow(ctx, `SELECT to_regclass('audit_logs') IS NOT NULL`).Scan(&ok); err != nil || !ok {
			return nil
		}
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
CREATE TABLE IF NOT EXISTS claims (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	policy_number          TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'pending',
	routing_status         TEXT NOT NULL DEFAULT '',
	human_review_requested BOOLEAN NOT NULL DEFAULT false,
	data                   JSONB NOT NULL,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS estimates (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	claim_id         TEXT NOT NULL REFERENCES claims(id),
	data             JSONB NOT NULL,
	grand_total_high DOUBLE PRECISION NOT NULL DEFAULT 0,
	generated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS controls (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_by TEXT
);

-- JSON columns are TEXT, not JSONB: the hash chain needs the exact bytes.
CREATE TABLE IF NOT EXISTS audit_logs (
	seq             BIGSERIAL PRIMARY KEY,
	id              TEXT NOT NULL UNIQUE,
	claim_id        TEXT,
	occurred_at     TIMESTAMPTZ NOT NULL,
	event_type      TEXT NOT NULL,
	actor_type      TEXT NOT NULL,
	actor_id        TEXT,
	model_provider  TEXT,
	model_name      TEXT,
	model_version   TEXT,
	metrics         TEXT,
	decision        TEXT,
	has_snapshots   BOOLEAN NOT NULL DEFAULT false,
	before_json     TEXT,
	after_json      TEXT,
	payload         TEXT NOT NULL DEFAULT '{}',
	prev_event_hash TEXT,
	event_hash      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status);
CREATE INDEX IF NOT EXISTS idx_claims_routing_status ON claims(routing_status);
CREATE INDEX IF NOT EXISTS idx_estimates_claim_id ON estimates(claim_id, generated_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_claim_id ON audit_logs(claim_id, seq);
CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_logs_occurred_at ON audit_logs(occurred_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
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

func (s *PostgresStore) CreateClaim(ctx context.Context, c *model.Claim) error {
	r, err := newClaimRow(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, sqlInsertClaim,
		r.ID, r.PolicyNumber, r.Status, r.RoutingStatus, r.HumanReviewRequested, r.Data, r.CreatedAt, r.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert claim %s", c.ID)
}

func (s *PostgresStore) GetClaim(ctx context.Context, id string) (*model.Claim, error) {
	var r claimRow
	err := s.pool.QueryRow(ctx, sqlGetClaim, id).Scan(r.fields()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "claim %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get claim %s", id)
	}
	return r.claim()
}

func (s *PostgresStore) UpdateClaim(ctx context.Context, c *model.Claim) error {
	r, err := newClaimRow(c)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, sqlUpdateClaim, r.Status, r.RoutingStatus, r.Data, r.UpdatedAt, r.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update claim %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "claim %s", c.ID)
	}
	return nil
}

func (s *PostgresStore) ListClaims(ctx context.Context, filter ClaimFilter) ([]model.Claim, error) {
	query, args := claimListQuery(filter)
	rows, err := s.pool.Query(ctx, sqlx.Rebind(sqlx.DOLLAR, query), args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list claims")
	}
	defer rows.Close()

	var claims []model.Claim
	for rows.Next() {
		var r claimRow
		if err := rows.Scan(r.fields()...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan claim")
		}
		c, err := r.claim()
		if err != nil {
			return nil, err
		}
		claims = append(claims, *c)
	}
	return claims, eris.Wrap(rows.Err(), "postgres: list claims iterate")
}

func (s *PostgresStore) SaveEstimate(ctx context.Context, e *model.Estimate) error {
	r, err := newEstimateRow(e)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, sqlInsertEstimate, r.ID, r.ClaimID, r.Data, r.GrandTotalHigh, r.GeneratedAt)
	return eris.Wrapf(err, "postgres: insert estimate for claim %s", e.ClaimID)
}

// LatestEstimate returns the newest estimate for a claim, or nil when none
// has been generated.
func (s *PostgresStore) LatestEstimate(ctx context.Context, claimID string) (*model.Estimate, error) {
	var r estimateRow
	err := s.pool.QueryRow(ctx, sqlLatestEstimate, claimID).Scan(r.fields()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest estimate for claim %s", claimID)
	}
	return r.estimate()
}

func (s *PostgresStore) ListControls(ctx context.Context) ([]ControlRow, error) {
	rows, err := s.pool.Query(ctx, sqlListControls)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list controls")
	}
	defer rows.Close()

	var out []ControlRow
	for rows.Next() {
		var r controlRow
		if err := rows.Scan(r.fields()...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan control")
		}
		out = append(out, r.control())
	}
	return out, eris.Wrap(rows.Err(), "postgres: list controls iterate")
}

var controlsUpsert = db.UpsertConfig{
	Table:        "controls",
	Columns:      []string{"key", "value", "updated_at", "updated_by"},
	ConflictKeys: []string{"key"},
}

// SetControls upserts every row in one transaction.
func (s *PostgresStore) SetControls(ctx context.Context, rows []ControlRow) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = []any{r.Key, string(r.Value), r.UpdatedAt.UTC(), nullString(r.UpdatedBy)}
	}
	_, err := db.Upsert(ctx, s.pool, controlsUpsert, values)
	return eris.Wrap(err, "postgres: set controls")
}

func (s *PostgresStore) DeleteControls(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM controls`)
	return eris.Wrap(err, "postgres: delete controls")
}

func (s *PostgresStore) LastAuditHash(ctx context.Context, claimID string) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, sqlLastAuditHash, nullString(claimID)).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "postgres: last audit hash")
	}
	return hash, nil
}

func (s *PostgresStore) AppendAuditEvent(ctx context.Context, e *audit.Event) error {
	_, err := s.pool.Exec(ctx, sqlInsertAudit, newAuditRow(e).args()...)
	return eris.Wrapf(err, "postgres: insert audit event %s", e.EventType)
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	query, args, err := auditListQuery(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sqlx.Rebind(sqlx.DOLLAR, query), args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit events")
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var r auditRow
		if err := rows.Scan(r.fields()...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit event")
		}
		events = append(events, r.event())
	}
	return events, eris.Wrap(rows.Err(), "postgres: list audit events iterate")
}
