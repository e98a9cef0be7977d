package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/model"
)

// ErrNotFound is returned when a claim or control row does not exist.
var ErrNotFound = eris.New("store: not found")

// ClaimFilter specifies criteria for listing claims.
type ClaimFilter struct {
	Status        model.ClaimStatus `json:"status,omitempty"`
	RoutingStatus string            `json:"routing_status,omitempty"`
	Since         time.Time         `json:"since,omitempty"`
	Limit         int               `json:"limit,omitempty"`
	Offset        int               `json:"offset,omitempty"`
}

// ControlRow is one persisted control override. Value holds the JSON
// encoding of the control's value.
type ControlRow struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
	UpdatedBy string          `json:"updated_by,omitempty"`
}

// Store defines the persistence interface for claims, estimates, controls
// and the audit log.
type Store interface {
	// Claims
	CreateClaim(ctx context.Context, c *model.Claim) error
	GetClaim(ctx context.Context, id string) (*model.Claim, error)
	UpdateClaim(ctx context.Context, c *model.Claim) error
	ListClaims(ctx context.Context, filter ClaimFilter) ([]model.Claim, error)

	// Estimates
	SaveEstimate(ctx context.Context, e *model.Estimate) error
	LatestEstimate(ctx context.Context, claimID string) (*model.Estimate, error)

	// Controls
	ListControls(ctx context.Context) ([]ControlRow, error)
	SetControls(ctx context.Context, rows []ControlRow) error
	DeleteControls(ctx context.Context) error

	// Audit log
	LastAuditHash(ctx context.Context, claimID string) (string, error)
	AppendAuditEvent(ctx context.Context, e *audit.Event) error
	ListAuditEvents(ctx context.Context, filter audit.Filter) ([]audit.Event, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
