package verification

import "sort"

// linkIndex is the single source of truth for part<->box evidence links.
// A box links to at most one part; both directions are updated together.
type linkIndex struct {
	partBoxes map[int]map[string]struct{}
	boxPart   map[string]int
}

func newLinkIndex() *linkIndex {
	return &linkIndex{
		partBoxes: make(map[int]map[string]struct{}),
		boxPart:   make(map[string]int),
	}
}

// link attaches box to part, detaching it from any previous part. It
// returns the previous part, if any.
func (x *linkIndex) link(box string, part int) (prev int, hadPrev bool) {
	prev, hadPrev = x.boxPart[box]
	if hadPrev {
		if prev == part {
			return prev, true
		}
		x.detach(box, prev)
	}
	set, ok := x.partBoxes[part]
	if !ok {
		set = make(map[string]struct{})
		x.partBoxes[part] = set
	}
	set[box] = struct{}{}
	x.boxPart[box] = part
	return prev, hadPrev
}

// unlink clears the box's part link. It returns the part it was linked to.
func (x *linkIndex) unlink(box string) (prev int, hadPrev bool) {
	prev, hadPrev = x.boxPart[box]
	if hadPrev {
		x.detach(box, prev)
	}
	return prev, hadPrev
}

func (x *linkIndex) detach(box string, part int) {
	delete(x.boxPart, box)
	if set, ok := x.partBoxes[part]; ok {
		delete(set, box)
		if len(set) == 0 {
			delete(x.partBoxes, part)
		}
	}
}

// boxes returns the ids linked to part, sorted.
func (x *linkIndex) boxes(part int) []string {
	set := x.partBoxes[part]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// part returns the part a box is linked to.
func (x *linkIndex) part(box string) (int, bool) {
	p, ok := x.boxPart[box]
	return p, ok
}
