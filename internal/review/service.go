// Package review serves adjusters: it rebuilds a claim's verification
// session from the audit log, applies verification changes, records
// decisions behind the approval gate, and saves annotation edits.
package review

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/claims-router/internal/approval"
	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/model"
	"github.com/sells-group/claims-router/internal/verification"
)

// ErrHumanReviewImmutable is returned when a human review request arrives
// after intake.
var ErrHumanReviewImmutable = eris.New("review: human review request can only be made at intake")

// Store is the persistence the service needs.
type Store interface {
	GetClaim(ctx context.Context, id string) (*model.Claim, error)
	UpdateClaim(ctx context.Context, c *model.Claim) error
	ListAuditEvents(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
}

// Actor is the person acting on a claim.
type Actor struct {
	ID   string          `json:"id"`
	Type audit.ActorType `json:"type"`
}

func (a Actor) actorType() audit.ActorType {
	if a.Type == "" {
		return audit.ActorAdjuster
	}
	return a.Type
}

// View is a claim with its current verification state and gate result.
type View struct {
	Claim      *model.Claim       `json:"claim"`
	State      verification.State `json:"verification"`
	CanApprove bool               `json:"can_approve"`
	GateReason string             `json:"gate_reason,omitempty"`
}

// verificationEvents are the event types whose payload carries a
// verification change.
var verificationEvents = []audit.EventType{
	audit.EventPartVerified,
	audit.EventPartRejected,
	audit.EventPartEdited,
	audit.EventEvidenceLinked,
	audit.EventBoxVerified,
	audit.EventBoxRejected,
	audit.EventBoxEdited,
	audit.EventBoxMarkedUncertain,
}

// changePayload is the audit payload of a verification event. Change is
// nil for box_edited events written by annotation saves.
type changePayload struct {
	Change *verification.Change `json:"change,omitempty"`
}

// Service implements the adjuster operations.
type Service struct {
	store Store
	log   *audit.Logger
	now   func() time.Time

	// Verification state lives in the audit log, so changes to one claim
	// must not interleave between replay and append.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used to stamp records and claims.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service.
func New(st Store, log *audit.Logger, opts ...Option) *Service {
	s := &Service{
		store: st,
		log:   log,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) lock(claimID string) func() {
	s.mu.Lock()
	l, ok := s.locks[claimID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[claimID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Open loads a claim and replays its verification session for actor.
func (s *Service) Open(ctx context.Context, claimID string, actor Actor) (*model.Claim, *verification.Session, error) {
	c, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "review: load claim")
	}
	events, err := s.store.ListAuditEvents(ctx, audit.Filter{ClaimID: claimID, EventTypes: verificationEvents})
	if err != nil {
		return nil, nil, eris.Wrap(err, "review: load verification events")
	}

	changes := make([]verification.Change, 0, len(events))
	for _, e := range events {
		var p changePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, nil, eris.Wrapf(err, "review: decode event %s", e.ID)
		}
		if p.Change != nil {
			changes = append(changes, *p.Change)
		}
	}

	sess, err := verification.Replay(c.PartCount(), c.DetectionIDs(), actor.ID, changes,
		verification.WithClock(func() time.Time { return s.now().UTC() }))
	if err != nil {
		return nil, nil, eris.Wrap(err, "review: replay verification")
	}
	return c, sess, nil
}

// View returns the claim, its verification state and whether it can be
// approved right now.
func (s *Service) View(ctx context.Context, claimID string, actor Actor) (*View, error) {
	c, sess, err := s.Open(ctx, claimID, actor)
	if err != nil {
		return nil, err
	}
	return newView(c, sess.State()), nil
}

func newView(c *model.Claim, state verification.State) *View {
	v := &View{Claim: c, State: state, CanApprove: true}
	if err := approval.Check(c, &state); err != nil {
		v.CanApprove = false
		v.GateReason = err.Error()
	}
	return v
}

// RequestHumanReview always fails for an existing claim: the request is
// part of the intake form and is fixed once the claim exists.
func (s *Service) RequestHumanReview(ctx context.Context, claimID string) error {
	if _, err := s.store.GetClaim(ctx, claimID); err != nil {
		return eris.Wrap(err, "review: load claim")
	}
	zap.L().Warn("review: late human review request refused", zap.String("claim_id", claimID))
	return ErrHumanReviewImmutable
}
