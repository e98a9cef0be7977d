package review

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/model"
)

// ErrDetectionInUse is returned when an annotation save would drop a box
// that already has a verification record or evidence link.
var ErrDetectionInUse = eris.New("review: detection has verification history")

// SaveAnnotations replaces the claim's detection boxes.
func (s *Service) SaveAnnotations(ctx context.Context, claimID string, actor Actor, ann model.Annotations) (*View, error) {
	if err := ann.Validate(); err != nil {
		return nil, err
	}

	unlock := s.lock(claimID)
	defer unlock()

	c, sess, err := s.Open(ctx, claimID, actor)
	if err != nil {
		return nil, err
	}
	state := sess.State()

	used := make(map[string]bool)
	for _, b := range state.Boxes {
		used[b.DetectionID] = true
	}
	for _, p := range state.Parts {
		for _, id := range p.LinkedBoxIDs {
			used[id] = true
		}
	}

	var added, removed []string
	for _, d := range ann.Detections {
		if _, ok := c.Annotations.Find(d.ID); !ok {
			added = append(added, d.ID)
		}
	}
	for _, id := range c.DetectionIDs() {
		if _, ok := ann.Find(id); ok {
			continue
		}
		if used[id] {
			return nil, eris.Wrapf(ErrDetectionInUse, "detection %s", id)
		}
		removed = append(removed, id)
	}

	before := c.Annotations
	if ann.Detections == nil {
		ann.Detections = []model.Detection{}
	}
	c.Annotations = &ann
	c.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateClaim(ctx, c); err != nil {
		return nil, eris.Wrap(err, "review: save annotations")
	}

	for _, id := range added {
		d, _ := ann.Find(id)
		s.log.Record(ctx, audit.Entry{
			ClaimID: claimID, EventType: audit.EventBoxAdded,
			ActorType: actor.actorType(), ActorID: actor.ID,
			After: d,
		})
	}
	for _, id := range removed {
		d, _ := before.Find(id)
		s.log.Record(ctx, audit.Entry{
			ClaimID: claimID, EventType: audit.EventBoxDeleted,
			ActorType: actor.actorType(), ActorID: actor.ID,
			Before: d,
		})
	}
	s.log.Record(ctx, audit.Entry{
		ClaimID:   claimID,
		EventType: audit.EventBoxEdited,
		ActorType: actor.actorType(),
		ActorID:   actor.ID,
		Before:    before,
		After:     c.Annotations,
		Payload:   map[string]any{"added": added, "removed": removed},
	})
	return newView(c, state), nil
}
