package review

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/verification"
)

// mutate replays the session, applies op, and appends the change to the
// audit log. The append is the write: if it fails the change is lost and
// the error is returned.
func (s *Service) mutate(ctx context.Context, claimID string, actor Actor, op func(*verification.Session) (verification.Change, error)) (*View, error) {
	unlock := s.lock(claimID)
	defer unlock()

	c, sess, err := s.Open(ctx, claimID, actor)
	if err != nil {
		return nil, err
	}
	change, err := op(sess)
	if err != nil {
		return nil, err
	}

	before, after := snapshots(change)
	_, err = s.log.Append(ctx, audit.Entry{
		ClaimID:   claimID,
		EventType: eventType(change),
		ActorType: actor.actorType(),
		ActorID:   actor.ID,
		Before:    before,
		After:     after,
		Payload:   changePayload{Change: &change},
	})
	if err != nil {
		return nil, eris.Wrap(err, "review: record verification change")
	}
	return newView(c, sess.State()), nil
}

func eventType(c verification.Change) audit.EventType {
	if c.Action == verification.ActionLink || c.Action == verification.ActionUnlink {
		return audit.EventEvidenceLinked
	}
	if c.Entity == verification.EntityPart {
		switch c.Action {
		case verification.ActionVerify:
			return audit.EventPartVerified
		case verification.ActionReject:
			return audit.EventPartRejected
		default:
			return audit.EventPartEdited
		}
	}
	switch c.Action {
	case verification.ActionVerify:
		return audit.EventBoxVerified
	case verification.ActionReject:
		return audit.EventBoxRejected
	case verification.ActionMarkUncertain:
		return audit.EventBoxMarkedUncertain
	default:
		return audit.EventBoxEdited
	}
}

type images struct {
	Parts []*verification.PartVerification `json:"parts,omitempty"`
	Boxes []*verification.BoxVerification  `json:"boxes,omitempty"`
}

func snapshots(c verification.Change) (before, after images) {
	for i := range c.Parts {
		before.Parts = append(before.Parts, c.Parts[i].Before)
		after.Parts = append(after.Parts, &c.Parts[i].After)
	}
	for i := range c.Boxes {
		before.Boxes = append(before.Boxes, c.Boxes[i].Before)
		after.Boxes = append(after.Boxes, &c.Boxes[i].After)
	}
	return before, after
}

// VerifyPart marks damaged part i verified.
func (s *Service) VerifyPart(ctx context.Context, claimID string, actor Actor, i int) (*View, error) {
	return s.mutate(ctx, claimID, actor, func(sess *verification.Session) (verification.Change, error) {
		return sess.VerifyPart(i)
	})
}

// RejectPart rejects damaged part i.
func (s *Service) RejectPart(ctx context.Context, claimID string, actor Actor, i int, code verification.ReasonCode, notes string) (*View, error) {
	return s.mutate(ctx, claimID, actor, func(sess *verification.Session) (verification.Change, error) {
		return sess.RejectPart(i, code, notes)
	})
}

// EditPart overlays corrected values on damaged part i.
func (s *Service) EditPart(ctx context.Context, claimID string, actor Actor, i int, edits verification.PartEdits, code verification.ReasonCode) (*View, error) {
	return s.mutate(ctx, claimID, actor, func(sess *verification.Session) (verification.Change, error) {
		return sess.EditPart(i, edits, code)
	})
}

// LinkEvidence replaces the boxes linked to part i.
func (s *Service) LinkEvidence(ctx context.Context, claimID string, actor Actor, i int, boxIDs []string) (*View, error) {
	return s.mutate(ctx, claimID, actor, func(sess *verification.Session) (verification.Change, error) {
		return sess.LinkEvidence(i, boxIDs)
	})
}

// VerifyBox marks a detection verified.
func (s *Service) VerifyBox(ctx context.Context, claimID string, actor Actor, id string) (*View, error) {
	return s.mutate(ctx, claimID, actor, func(sess *verification.Session) (verification.Change, error) {
		return sess.VerifyBox(id)
	})
}

// RejectBox rejects a detection.
func (s *Service) RejectBox(ctx context.Context, claimID string, actor Actor, id string, code verification.ReasonCode, notes string) (*View, error) {
	return s.mutate(ctx, claimID, actor, func(sess *verification.Session) (verification.Change, error) {
		return sess.RejectBox(id, code, notes)
	})
}

// EditBox overlays corrected values on a detection.
func (s *Service) EditBox(ctx context.Context, claimID string, actor Actor, id string, edits verification.BoxEdits, code verification.ReasonCode) (*View, error) {
	return s.mutate(ctx, claimID, actor, func(sess *verification.Session) (verification.Change, error) {
		return sess.EditBox(id, edits, code)
	})
}

// MarkBoxUncertain flags a detection for a second look.
func (s *Service) MarkBoxUncertain(ctx context.Context, claimID string, actor Actor, id string) (*View, error) {
	return s.mutate(ctx, claimID, actor, func(sess *verification.Session) (verification.Change, error) {
		return sess.MarkBoxUncertain(id)
	})
}

// LinkBoxToPart links a detection to part, or unlinks it when part is nil.
func (s *Service) LinkBoxToPart(ctx context.Context, claimID string, actor Actor, id string, part *int) (*View, error) {
	return s.mutate(ctx, claimID, actor, func(sess *verification.Session) (verification.Change, error) {
		return sess.LinkBoxToPart(id, part)
	})
}
