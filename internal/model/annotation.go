package model

import (
	"math"

	"github.com/rotisserie/eris"
)

// MinBoxSize is the smallest drawable box edge in normalized units.
const MinBoxSize = 0.05

// boxEpsilon absorbs float noise from x+w sums like 0.7+0.3.
const boxEpsilon = 1e-9

// SeverityLevel is the coarse severity attached to a detection box.
type SeverityLevel string

const (
	SeverityMinor    SeverityLevel = "minor"
	SeverityModerate SeverityLevel = "moderate"
	SeveritySevere   SeverityLevel = "severe"
)

// BoundingBox is a normalized box; all fields are in [0,1].
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Validate checks x+w <= 1, y+h <= 1 and the minimum drawable size.
func (b BoundingBox) Validate() error {
	if b.X < 0 || b.Y < 0 {
		return eris.Errorf("box: origin (%v,%v) is negative", b.X, b.Y)
	}
	if b.W < MinBoxSize-boxEpsilon || b.H < MinBoxSize-boxEpsilon {
		return eris.Errorf("box: size %vx%v below minimum %v", b.W, b.H, MinBoxSize)
	}
	if b.X+b.W > 1+boxEpsilon || b.Y+b.H > 1+boxEpsilon {
		return eris.Errorf("box: (%v,%v,%v,%v) extends past the image", b.X, b.Y, b.W, b.H)
	}
	return nil
}

// Clamp returns the nearest valid box: edges grow to MinBoxSize, shrink to
// fit the image, and the origin slides back inside.
func (b BoundingBox) Clamp() BoundingBox {
	w := math.Min(math.Max(b.W, MinBoxSize), 1)
	h := math.Min(math.Max(b.H, MinBoxSize), 1)
	return BoundingBox{
		X: math.Max(0, math.Min(1-w, b.X)),
		Y: math.Max(0, math.Min(1-h, b.Y)),
		W: w,
		H: h,
	}
}

// Detection is one bounding-box annotation locating damage in a photo.
type Detection struct {
	ID         string        `json:"id"`
	Label      string        `json:"label"` // scratch, dent, crack, broken, paint_transfer, misalignment, unknown
	Part       string        `json:"part"`
	Severity   SeverityLevel `json:"severity"`
	Confidence float64       `json:"confidence"` // 0-1
	Box        BoundingBox   `json:"box"`
}

// Annotations holds the ordered detections for a claim.
type Annotations struct {
	Detections []Detection `json:"detections"`
	Notes      string      `json:"notes,omitempty"`
}

// Find returns the detection with the given id.
func (a *Annotations) Find(id string) (Detection, bool) {
	if a == nil {
		return Detection{}, false
	}
	for _, d := range a.Detections {
		if d.ID == id {
			return d, true
		}
	}
	return Detection{}, false
}

// Validate checks id uniqueness, confidence range and every box.
func (a *Annotations) Validate() error {
	if a == nil {
		return nil
	}
	seen := make(map[string]bool, len(a.Detections))
	for _, d := range a.Detections {
		if d.ID == "" {
			return eris.Wrap(ErrInvalidInput, "annotations: detection without id")
		}
		if seen[d.ID] {
			return eris.Wrapf(ErrInvalidInput, "annotations: duplicate detection id %q", d.ID)
		}
		seen[d.ID] = true
		if d.Confidence < 0 || d.Confidence > 1 {
			return eris.Wrapf(ErrInvalidInput, "annotations: detection %s confidence %v out of range [0,1]", d.ID, d.Confidence)
		}
		if err := d.Box.Validate(); err != nil {
			return eris.Wrapf(ErrInvalidInput, "annotations: detection %s: %v", d.ID, err)
		}
	}
	return nil
}
