package verification

import (
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithChangeHook registers fn to receive every Change as it is applied.
func WithChangeHook(fn func(Change)) Option {
	return func(s *Session) { s.hook = fn }
}

// Session holds one reviewer's verification state for one claim. It is not
// safe for concurrent use; concurrent editors on the same claim are
// last-write-wins at the persistence layer.
type Session struct {
	partCount  int
	detections map[string]struct{}
	actor      string
	now        func() time.Time
	hook       func(Change)

	parts map[int]PartVerification
	boxes map[string]BoxVerification
	links *linkIndex

	lastModified time.Time
	modifiedBy   string
}

// NewSession starts an empty session over partCount damaged parts and the
// given detection ids. actor stamps every record the session writes.
func NewSession(partCount int, detectionIDs []string, actor string, opts ...Option) *Session {
	s := &Session{
		partCount:  partCount,
		detections: make(map[string]struct{}, len(detectionIDs)),
		actor:      actor,
		now:        func() time.Time { return time.Now().UTC() },
		parts:      make(map[int]PartVerification),
		boxes:      make(map[string]BoxVerification),
		links:      newLinkIndex(),
	}
	for _, id := range detectionIDs {
		s.detections[id] = struct{}{}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PartCount returns the number of damaged parts under review.
func (s *Session) PartCount() int { return s.partCount }

// Part returns the record for part i. A part with no record reads as
// proposed.
func (s *Session) Part(i int) (PartVerification, error) {
	if err := s.checkPart(i); err != nil {
		return PartVerification{}, err
	}
	v, _ := s.partView(i)
	return v, nil
}

// Box returns the record for a detection, proposed when none exists.
func (s *Session) Box(id string) (BoxVerification, error) {
	if err := s.checkBox(id); err != nil {
		return BoxVerification{}, err
	}
	v, _ := s.boxView(id)
	return v, nil
}

// State returns the aggregate state, ordered by part index and detection id.
func (s *Session) State() State {
	st := State{
		Parts:        make([]PartVerification, 0, len(s.parts)),
		Boxes:        make([]BoxVerification, 0, len(s.boxes)),
		LastModified: s.lastModified,
		ModifiedBy:   s.modifiedBy,
	}
	for i := range s.parts {
		v, _ := s.partView(i)
		st.Parts = append(st.Parts, v)
	}
	for id := range s.boxes {
		v, _ := s.boxView(id)
		st.Boxes = append(st.Boxes, v)
	}
	sort.Slice(st.Parts, func(a, b int) bool { return st.Parts[a].PartIndex < st.Parts[b].PartIndex })
	sort.Slice(st.Boxes, func(a, b int) bool { return st.Boxes[a].DetectionID < st.Boxes[b].DetectionID })
	return st
}

// VerifyPart marks part i verified.
func (s *Session) VerifyPart(i int) (Change, error) {
	if err := s.checkPart(i); err != nil {
		return Change{}, err
	}
	at := s.now()
	return s.putPart(ActionVerify, at, PartVerification{
		PartIndex: i, Status: StatusVerified, VerifiedAt: &at, VerifiedBy: s.actor,
	}), nil
}

// RejectPart marks part i rejected with a reason.
func (s *Session) RejectPart(i int, code ReasonCode, notes string) (Change, error) {
	if err := s.checkPart(i); err != nil {
		return Change{}, err
	}
	if !code.Valid() {
		return Change{}, eris.Wrapf(ErrInvalidReasonCode, "%q", code)
	}
	at := s.now()
	return s.putPart(ActionReject, at, PartVerification{
		PartIndex: i, Status: StatusRejected, ReasonCode: code, Notes: notes,
		VerifiedAt: &at, VerifiedBy: s.actor,
	}), nil
}

// EditPart stores corrected values for part i. An edit counts as a
// verification of the corrected values.
func (s *Session) EditPart(i int, edits PartEdits, code ReasonCode) (Change, error) {
	if err := s.checkPart(i); err != nil {
		return Change{}, err
	}
	if !code.Valid() {
		return Change{}, eris.Wrapf(ErrInvalidReasonCode, "%q", code)
	}
	at := s.now()
	e := edits.clone()
	return s.putPart(ActionEdit, at, PartVerification{
		PartIndex: i, Status: StatusVerified, ReasonCode: code, EditedValues: &e,
		VerifiedAt: &at, VerifiedBy: s.actor,
	}), nil
}

// VerifyBox marks a detection verified.
func (s *Session) VerifyBox(id string) (Change, error) {
	if err := s.checkBox(id); err != nil {
		return Change{}, err
	}
	at := s.now()
	return s.putBox(ActionVerify, at, BoxVerification{
		DetectionID: id, Status: StatusVerified, VerifiedAt: &at, VerifiedBy: s.actor,
	}), nil
}

// RejectBox marks a detection rejected with a reason.
func (s *Session) RejectBox(id string, code ReasonCode, notes string) (Change, error) {
	if err := s.checkBox(id); err != nil {
		return Change{}, err
	}
	if !code.Valid() {
		return Change{}, eris.Wrapf(ErrInvalidReasonCode, "%q", code)
	}
	at := s.now()
	return s.putBox(ActionReject, at, BoxVerification{
		DetectionID: id, Status: StatusRejected, ReasonCode: code, Notes: notes,
		VerifiedAt: &at, VerifiedBy: s.actor,
	}), nil
}

// EditBox stores corrected values for a detection.
func (s *Session) EditBox(id string, edits BoxEdits, code ReasonCode) (Change, error) {
	if err := s.checkBox(id); err != nil {
		return Change{}, err
	}
	if !code.Valid() {
		return Change{}, eris.Wrapf(ErrInvalidReasonCode, "%q", code)
	}
	at := s.now()
	e := edits.clone()
	return s.putBox(ActionEdit, at, BoxVerification{
		DetectionID: id, Status: StatusVerified, ReasonCode: code, EditedValues: &e,
		VerifiedAt: &at, VerifiedBy: s.actor,
	}), nil
}

// MarkBoxUncertain flags a detection for a second opinion. Links are kept.
func (s *Session) MarkBoxUncertain(id string) (Change, error) {
	if err := s.checkBox(id); err != nil {
		return Change{}, err
	}
	at := s.now()
	return s.putBox(ActionMarkUncertain, at, BoxVerification{
		DetectionID: id, Status: StatusNeedsReview, VerifiedAt: &at, VerifiedBy: s.actor,
	}), nil
}

// LinkEvidence replaces the full set of boxes linked to part i. Boxes
// dropped from the set lose their link; boxes added are moved off any part
// they were linked to before.
func (s *Session) LinkEvidence(i int, ids []string) (Change, error) {
	if err := s.checkPart(i); err != nil {
		return Change{}, err
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if err := s.checkBox(id); err != nil {
			return Change{}, err
		}
		want[id] = struct{}{}
	}

	current := s.links.boxes(i)
	var touchedBoxes []string
	touchedParts := []int{i}
	for _, id := range current {
		if _, keep := want[id]; !keep {
			touchedBoxes = append(touchedBoxes, id)
		}
	}
	for _, id := range sortedKeys(want) {
		p, linked := s.links.part(id)
		if linked && p == i {
			continue
		}
		touchedBoxes = append(touchedBoxes, id)
		if linked {
			touchedParts = appendUnique(touchedParts, p)
		}
	}

	at := s.now()
	bp, bb := s.snapshot(touchedParts, touchedBoxes)

	s.ensurePart(i)
	for _, id := range current {
		if _, keep := want[id]; !keep {
			s.links.unlink(id)
		}
	}
	for id := range want {
		s.ensureBox(id)
		s.links.link(id, i)
	}

	c := Change{Action: ActionLink, Entity: EntityPart, ID: strconv.Itoa(i)}
	s.fillDiffs(&c, touchedParts, touchedBoxes, bp, bb)
	return s.emit(c, at), nil
}

// LinkBoxToPart sets or, when part is nil, clears the part a box is
// evidence for. Both sides of the link change together.
func (s *Session) LinkBoxToPart(id string, part *int) (Change, error) {
	if err := s.checkBox(id); err != nil {
		return Change{}, err
	}
	if part != nil {
		if err := s.checkPart(*part); err != nil {
			return Change{}, err
		}
	}

	var touchedParts []int
	if part != nil {
		touchedParts = append(touchedParts, *part)
	}
	if prev, ok := s.links.part(id); ok {
		touchedParts = appendUnique(touchedParts, prev)
	}
	touchedBoxes := []string{id}

	at := s.now()
	bp, bb := s.snapshot(touchedParts, touchedBoxes)

	action := ActionUnlink
	s.ensureBox(id)
	if part == nil {
		s.links.unlink(id)
	} else {
		action = ActionLink
		s.ensurePart(*part)
		s.links.link(id, *part)
	}

	c := Change{Action: action, Entity: EntityBox, ID: id}
	s.fillDiffs(&c, touchedParts, touchedBoxes, bp, bb)
	return s.emit(c, at), nil
}

func (s *Session) checkPart(i int) error {
	if i < 0 || i >= s.partCount {
		return eris.Wrapf(ErrUnknownPart, "index %d (have %d parts)", i, s.partCount)
	}
	return nil
}

func (s *Session) checkBox(id string) error {
	if _, ok := s.detections[id]; !ok {
		return eris.Wrapf(ErrUnknownDetection, "%q", id)
	}
	return nil
}

func (s *Session) partView(i int) (PartVerification, bool) {
	rec, ok := s.parts[i]
	if !ok {
		rec = PartVerification{PartIndex: i, Status: StatusProposed}
	}
	rec.LinkedBoxIDs = s.links.boxes(i)
	return rec, ok
}

func (s *Session) boxView(id string) (BoxVerification, bool) {
	rec, ok := s.boxes[id]
	if !ok {
		rec = BoxVerification{DetectionID: id, Status: StatusProposed}
	}
	rec.LinkedPartIndex = nil
	if p, linked := s.links.part(id); linked {
		rec.LinkedPartIndex = &p
	}
	return rec, ok
}

func (s *Session) ensurePart(i int) {
	if _, ok := s.parts[i]; !ok {
		s.parts[i] = PartVerification{PartIndex: i, Status: StatusProposed}
	}
}

func (s *Session) ensureBox(id string) {
	if _, ok := s.boxes[id]; !ok {
		s.boxes[id] = BoxVerification{DetectionID: id, Status: StatusProposed}
	}
}

func (s *Session) putPart(action Action, at time.Time, rec PartVerification) Change {
	bp, _ := s.snapshot([]int{rec.PartIndex}, nil)
	rec.LinkedBoxIDs = nil
	s.parts[rec.PartIndex] = rec
	c := Change{Action: action, Entity: EntityPart, ID: strconv.Itoa(rec.PartIndex)}
	s.fillDiffs(&c, []int{rec.PartIndex}, nil, bp, nil)
	return s.emit(c, at)
}

func (s *Session) putBox(action Action, at time.Time, rec BoxVerification) Change {
	_, bb := s.snapshot(nil, []string{rec.DetectionID})
	rec.LinkedPartIndex = nil
	s.boxes[rec.DetectionID] = rec
	c := Change{Action: action, Entity: EntityBox, ID: rec.DetectionID}
	s.fillDiffs(&c, nil, []string{rec.DetectionID}, nil, bb)
	return s.emit(c, at)
}

// snapshot captures the current records, nil where none exists.
func (s *Session) snapshot(parts []int, boxes []string) ([]*PartVerification, []*BoxVerification) {
	bp := make([]*PartVerification, len(parts))
	for n, i := range parts {
		if v, ok := s.partView(i); ok {
			bp[n] = &v
		}
	}
	bb := make([]*BoxVerification, len(boxes))
	for n, id := range boxes {
		if v, ok := s.boxView(id); ok {
			bb[n] = &v
		}
	}
	return bp, bb
}

func (s *Session) fillDiffs(c *Change, parts []int, boxes []string, bp []*PartVerification, bb []*BoxVerification) {
	for n, i := range parts {
		after, _ := s.partView(i)
		c.Parts = append(c.Parts, PartDiff{Before: bp[n], After: after})
	}
	for n, id := range boxes {
		after, _ := s.boxView(id)
		c.Boxes = append(c.Boxes, BoxDiff{Before: bb[n], After: after})
	}
}

func (s *Session) emit(c Change, at time.Time) Change {
	c.Actor = s.actor
	c.At = at
	s.lastModified = at
	s.modifiedBy = s.actor
	if s.hook != nil {
		s.hook(c)
	}
	return c
}

func (e PartEdits) clone() PartEdits {
	out := PartEdits{}
	if e.Part != nil {
		v := *e.Part
		out.Part = &v
	}
	if e.DamageType != nil {
		v := *e.DamageType
		out.DamageType = &v
	}
	if e.Severity != nil {
		v := *e.Severity
		out.Severity = &v
	}
	return out
}

func (e BoxEdits) clone() BoxEdits {
	out := BoxEdits{}
	if e.Label != nil {
		v := *e.Label
		out.Label = &v
	}
	if e.Part != nil {
		v := *e.Part
		out.Part = &v
	}
	if e.Severity != nil {
		v := *e.Severity
		out.Severity = &v
	}
	if e.Confidence != nil {
		v := *e.Confidence
		out.Confidence = &v
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func appendUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}
