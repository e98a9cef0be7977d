package review

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/claims-router/internal/approval"
	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/model"
	"github.com/sells-group/claims-router/internal/routing"
)

// Action is an adjuster's decision on a claim.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionReview   Action = "review"
	ActionEscalate Action = "escalate"
)

// ErrUnknownAction is returned for a decision that is not approve, review
// or escalate. Claims are never denied.
var ErrUnknownAction = eris.New("review: unknown decision")

// Decision is what the adjuster submits.
type Decision struct {
	Action Action `json:"decision"`
	Notes  string `json:"notes,omitempty"`
}

var decisionTargets = map[Action]model.ClaimStatus{
	ActionApprove:  model.ClaimStatusApproved,
	ActionReview:   model.ClaimStatusReview,
	ActionEscalate: model.ClaimStatusEscalated,
}

// Decide records a decision. Approval runs the approval gate first; a
// blocked approval returns *approval.GateError and changes nothing.
func (s *Service) Decide(ctx context.Context, claimID string, actor Actor, d Decision) (*View, error) {
	target, ok := decisionTargets[d.Action]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownAction, "%q", d.Action)
	}

	unlock := s.lock(claimID)
	defer unlock()

	c, sess, err := s.Open(ctx, claimID, actor)
	if err != nil {
		return nil, err
	}
	state := sess.State()

	if d.Action == ActionApprove {
		if err := approval.Check(c, &state); err != nil {
			zap.L().Info("review: approval blocked by gate",
				zap.String("claim_id", claimID),
				zap.String("actor_id", actor.ID),
			)
			return nil, err
		}
	}

	before := decisionSnapshot{Status: c.Status, AdjusterDecision: c.AdjusterDecision, AdjusterNotes: c.AdjusterNotes}
	// Re-affirming review on a claim already under review is allowed.
	if c.Status != target || target == model.ClaimStatusApproved {
		if c.Status, err = c.Status.Transition(target); err != nil {
			return nil, err
		}
	}
	c.AdjusterDecision = string(d.Action)
	c.AdjusterNotes = d.Notes
	c.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateClaim(ctx, c); err != nil {
		return nil, eris.Wrap(err, "review: save decision")
	}

	s.log.Record(ctx, audit.Entry{
		ClaimID:   claimID,
		EventType: decisionEvent(d.Action, actor),
		ActorType: actor.actorType(),
		ActorID:   actor.ID,
		Decision:  d,
		Before:    before,
		After:     decisionSnapshot{Status: c.Status, AdjusterDecision: c.AdjusterDecision, AdjusterNotes: c.AdjusterNotes},
		Payload: map[string]any{
			"routing_status":  c.RoutingStatus,
			"routing_reasons": c.RoutingReasons,
		},
	})
	if c.RoutingStatus == string(routing.StatusQAReview) && actor.actorType() == audit.ActorQAReviewer {
		s.log.Record(ctx, audit.Entry{
			ClaimID:   claimID,
			EventType: audit.EventQACompleted,
			ActorType: audit.ActorQAReviewer,
			ActorID:   actor.ID,
			Decision:  d,
			Payload:   map[string]any{"passed": d.Action == ActionApprove},
		})
	}
	return newView(c, state), nil
}

type decisionSnapshot struct {
	Status           model.ClaimStatus `json:"status"`
	AdjusterDecision string            `json:"adjuster_decision,omitempty"`
	AdjusterNotes    string            `json:"adjuster_notes,omitempty"`
}

func decisionEvent(a Action, actor Actor) audit.EventType {
	switch a {
	case ActionApprove:
		if actor.actorType() == audit.ActorSeniorAdjuster {
			return audit.EventSeniorApprove
		}
		return audit.EventAdjusterApprove
	case ActionEscalate:
		return audit.EventAdjusterEscalate
	default:
		return audit.EventAdjusterReview
	}
}
