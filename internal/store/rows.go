package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"

	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/model"
)

// claimRow is the claims table layout shared by both drivers. The indexed
// columns duplicate fields of the JSON document and win on read.
type claimRow struct {
	ID                   string    `db:"id"`
	PolicyNumber         string    `db:"policy_number"`
	Status               string    `db:"status"`
	RoutingStatus        string    `db:"routing_status"`
	HumanReviewRequested bool      `db:"human_review_requested"`
	Data                 []byte    `db:"data"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

const claimColumns = `id, policy_number, status, routing_status, human_review_requested, data, created_at, updated_at`

func newClaimRow(c *model.Claim) (*claimRow, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal claim")
	}
	return &claimRow{
		ID:                   c.ID,
		PolicyNumber:         c.PolicyNumber,
		Status:               string(c.Status),
		RoutingStatus:        c.RoutingStatus,
		HumanReviewRequested: c.HumanReviewRequested,
		Data:                 data,
		CreatedAt:            c.CreatedAt.UTC(),
		UpdatedAt:            c.UpdatedAt.UTC(),
	}, nil
}

func (r *claimRow) fields() []any {
	return []any{
		&r.ID, &r.PolicyNumber, &r.Status, &r.RoutingStatus,
		&r.HumanReviewRequested, &r.Data, &r.CreatedAt, &r.UpdatedAt,
	}
}

func (r *claimRow) claim() (*model.Claim, error) {
	var c model.Claim
	if err := json.Unmarshal(r.Data, &c); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal claim %s", r.ID)
	}
	c.ID = r.ID
	c.PolicyNumber = r.PolicyNumber
	c.Status = model.ClaimStatus(r.Status)
	c.RoutingStatus = r.RoutingStatus
	c.HumanReviewRequested = r.HumanReviewRequested
	c.CreatedAt = r.CreatedAt.UTC()
	c.UpdatedAt = r.UpdatedAt.UTC()
	return &c, nil
}

type estimateRow struct {
	ID             string    `db:"id"`
	ClaimID        string    `db:"claim_id"`
	Data           []byte    `db:"data"`
	GrandTotalHigh float64   `db:"grand_total_high"`
	GeneratedAt    time.Time `db:"generated_at"`
}

const estimateColumns = `id, claim_id, data, grand_total_high, generated_at`

func newEstimateRow(e *model.Estimate) (*estimateRow, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal estimate")
	}
	return &estimateRow{
		ID:             e.ID,
		ClaimID:        e.ClaimID,
		Data:           data,
		GrandTotalHigh: e.GrandTotalHigh,
		GeneratedAt:    e.GeneratedAt.UTC(),
	}, nil
}

func (r *estimateRow) fields() []any {
	return []any{&r.ID, &r.ClaimID, &r.Data, &r.GrandTotalHigh, &r.GeneratedAt}
}

func (r *estimateRow) estimate() (*model.Estimate, error) {
	var e model.Estimate
	if err := json.Unmarshal(r.Data, &e); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal estimate %s", r.ID)
	}
	e.ID = r.ID
	e.ClaimID = r.ClaimID
	return &e, nil
}

type controlRow struct {
	Key       string         `db:"key"`
	Value     string         `db:"value"`
	UpdatedAt time.Time      `db:"updated_at"`
	UpdatedBy sql.NullString `db:"updated_by"`
}

const controlColumns = `key, value, updated_at, updated_by`

func (r *controlRow) fields() []any {
	return []any{&r.Key, &r.Value, &r.UpdatedAt, &r.UpdatedBy}
}

func (r *controlRow) control() ControlRow {
	return ControlRow{
		Key:       r.Key,
		Value:     json.RawMessage(r.Value),
		UpdatedAt: r.UpdatedAt.UTC(),
		UpdatedBy: r.UpdatedBy.String,
	}
}

// auditRow flattens audit.Event. JSON columns are stored as text so the
// bytes that were hashed come back unchanged.
type auditRow struct {
	ID            string         `db:"id"`
	ClaimID       sql.NullString `db:"claim_id"`
	OccurredAt    time.Time      `db:"occurred_at"`
	EventType     string         `db:"event_type"`
	ActorType     string         `db:"actor_type"`
	ActorID       sql.NullString `db:"actor_id"`
	ModelProvider sql.NullString `db:"model_provider"`
	ModelName     sql.NullString `db:"model_name"`
	ModelVersion  sql.NullString `db:"model_version"`
	Metrics       sql.NullString `db:"metrics"`
	Decision      sql.NullString `db:"decision"`
	HasSnapshots  bool           `db:"has_snapshots"`
	BeforeJSON    sql.NullString `db:"before_json"`
	AfterJSON     sql.NullString `db:"after_json"`
	Payload       string         `db:"payload"`
	PrevEventHash sql.NullString `db:"prev_event_hash"`
	EventHash     string         `db:"event_hash"`
}

const auditColumns = `id, claim_id, occurred_at, event_type, actor_type, actor_id, model_provider, model_name, model_version, metrics, decision, has_snapshots, before_json, after_json, payload, prev_event_hash, event_hash`

func newAuditRow(e *audit.Event) *auditRow {
	r := &auditRow{
		ID:            e.ID,
		ClaimID:       nullString(e.ClaimID),
		OccurredAt:    e.Timestamp.UTC(),
		EventType:     string(e.EventType),
		ActorType:     string(e.ActorType),
		ActorID:       nullString(e.ActorID),
		ModelProvider: nullString(e.ModelProvider),
		ModelName:     nullString(e.ModelName),
		ModelVersion:  nullString(e.ModelVersion),
		Metrics:       nullString(string(e.Metrics)),
		Decision:      nullString(string(e.Decision)),
		Payload:       string(e.Payload),
		PrevEventHash: nullString(e.PrevEventHash),
		EventHash:     e.EventHash,
	}
	if e.Snapshots != nil {
		r.HasSnapshots = true
		r.BeforeJSON = nullString(string(e.Snapshots.BeforeJSON))
		r.AfterJSON = nullString(string(e.Snapshots.AfterJSON))
	}
	return r
}

func (r *auditRow) fields() []any {
	return []any{
		&r.ID, &r.ClaimID, &r.OccurredAt, &r.EventType, &r.ActorType, &r.ActorID,
		&r.ModelProvider, &r.ModelName, &r.ModelVersion, &r.Metrics, &r.Decision,
		&r.HasSnapshots, &r.BeforeJSON, &r.AfterJSON, &r.Payload,
		&r.PrevEventHash, &r.EventHash,
	}
}

// args returns the insert parameters in auditColumns order.
func (r *auditRow) args() []any {
	return []any{
		r.ID, r.ClaimID, r.OccurredAt, r.EventType, r.ActorType, r.ActorID,
		r.ModelProvider, r.ModelName, r.ModelVersion, r.Metrics, r.Decision,
		r.HasSnapshots, r.BeforeJSON, r.AfterJSON, r.Payload,
		r.PrevEventHash, r.EventHash,
	}
}

func (r *auditRow) event() audit.Event {
	e := audit.Event{
		ID:            r.ID,
		ClaimID:       r.ClaimID.String,
		Timestamp:     r.OccurredAt.UTC(),
		EventType:     audit.EventType(r.EventType),
		ActorType:     audit.ActorType(r.ActorType),
		ActorID:       r.ActorID.String,
		ModelProvider: r.ModelProvider.String,
		ModelName:     r.ModelName.String,
		ModelVersion:  r.ModelVersion.String,
		Metrics:       rawJSON(r.Metrics),
		Decision:      rawJSON(r.Decision),
		Payload:       json.RawMessage(r.Payload),
		PrevEventHash: r.PrevEventHash.String,
		EventHash:     r.EventHash,
	}
	if r.HasSnapshots {
		e.Snapshots = &audit.Snapshots{
			BeforeJSON: rawJSON(r.BeforeJSON),
			AfterJSON:  rawJSON(r.AfterJSON),
		}
	}
	return e
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func rawJSON(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return nil
	}
	return json.RawMessage(s.String)
}

// claimListQuery builds the ListClaims query with "?" placeholders.
func claimListQuery(f ClaimFilter) (string, []any) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.RoutingStatus != "" {
		query += ` AND routing_status = ?`
		args = append(args, f.RoutingStatus)
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(f.Limit))
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}
	return query, args
}

// auditListQuery builds the ListAuditEvents query with "?" placeholders.
// Events come back in append order, which is chain order. A zero Limit
// returns the whole log.
func auditListQuery(f audit.Filter) (string, []any, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE 1=1`
	var args []any
	if f.ClaimID != "" {
		query += ` AND claim_id = ?`
		args = append(args, f.ClaimID)
	}
	if len(f.EventTypes) > 0 {
		types := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			types[i] = string(t)
		}
		query += ` AND event_type IN (?)`
		args = append(args, types)
	}
	if !f.Since.IsZero() {
		query += ` AND occurred_at >= ?`
		args = append(args, f.Since.UTC())
	}
	query += ` ORDER BY seq`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	// sqlx.In expands the event type slice into one placeholder per value.
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, eris.Wrap(err, "store: expand audit filter")
	}
	return query, args, nil
}
