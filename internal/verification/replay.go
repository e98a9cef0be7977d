package verification

import (
	"github.com/rotisserie/eris"
)

// Replay rebuilds a session from recorded changes, applying each change's
// after-images in order. The returned session stamps new records as actor.
func Replay(partCount int, detectionIDs []string, actor string, changes []Change, opts ...Option) (*Session, error) {
	s := NewSession(partCount, detectionIDs, actor, opts...)
	for n, c := range changes {
		if err := s.apply(c); err != nil {
			return nil, eris.Wrapf(err, "verification: replay change %d (%s %s %s)", n, c.Action, c.Entity, c.ID)
		}
	}
	return s, nil
}

func (s *Session) apply(c Change) error {
	for _, d := range c.Parts {
		i := d.After.PartIndex
		if err := s.checkPart(i); err != nil {
			return err
		}
		for _, id := range d.After.LinkedBoxIDs {
			if err := s.checkBox(id); err != nil {
				return err
			}
		}
		rec := d.After
		rec.LinkedBoxIDs = nil
		s.parts[i] = rec

		want := make(map[string]struct{}, len(d.After.LinkedBoxIDs))
		for _, id := range d.After.LinkedBoxIDs {
			want[id] = struct{}{}
			s.ensureBox(id)
			s.links.link(id, i)
		}
		for _, id := range s.links.boxes(i) {
			if _, ok := want[id]; !ok {
				s.links.unlink(id)
			}
		}
	}

	for _, d := range c.Boxes {
		id := d.After.DetectionID
		if err := s.checkBox(id); err != nil {
			return err
		}
		rec := d.After
		rec.LinkedPartIndex = nil
		s.boxes[id] = rec
		if d.After.LinkedPartIndex == nil {
			s.links.unlink(id)
			continue
		}
		p := *d.After.LinkedPartIndex
		if err := s.checkPart(p); err != nil {
			return eris.Wrapf(err, "box %q linked part", id)
		}
		s.ensurePart(p)
		s.links.link(id, p)
	}

	s.lastModified = c.At
	s.modifiedBy = c.Actor
	return nil
}
