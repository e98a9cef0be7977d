// Package verification tracks an adjuster's verify/reject/edit judgments
// over AI-proposed damaged parts and detection boxes for one claim.
package verification

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/claims-router/internal/model"
)

// Status is the verification state of one part or box.
type Status string

const (
	StatusProposed    Status = "proposed"
	StatusVerified    Status = "verified"
	StatusRejected    Status = "rejected"
	StatusNeedsReview Status = "needs_review"
)

// ReasonCode explains a rejection or an edit.
type ReasonCode string

const (
	ReasonWrongPart         ReasonCode = "wrong_part"
	ReasonFalsePositive     ReasonCode = "false_positive"
	ReasonOccludedView      ReasonCode = "occluded_view"
	ReasonMislocalized      ReasonCode = "mislocalized"
	ReasonSeverityIncorrect ReasonCode = "severity_incorrect"
	ReasonOther             ReasonCode = "other"
)

var reasonLabels = map[ReasonCode]string{
	ReasonWrongPart:         "Wrong part identified",
	ReasonFalsePositive:     "False positive",
	ReasonOccludedView:      "Occluded/insufficient view",
	ReasonMislocalized:      "Mislocalized evidence",
	ReasonSeverityIncorrect: "Severity incorrect",
	ReasonOther:             "Other",
}

// Label returns the display label for the code.
func (c ReasonCode) Label() string {
	return reasonLabels[c]
}

// Valid reports whether c is one of the fixed reason codes.
func (c ReasonCode) Valid() bool {
	_, ok := reasonLabels[c]
	return ok
}

// Errors returned by Session operations.
var (
	ErrUnknownPart       = eris.New("verification: unknown part index")
	ErrUnknownDetection  = eris.New("verification: unknown detection id")
	ErrInvalidReasonCode = eris.New("verification: invalid reason code")
)

// PartEdits overlays corrected values on an AI-proposed part. The
// assessment itself is never changed.
type PartEdits struct {
	Part       *string  `json:"part,omitempty"`
	DamageType *string  `json:"damage_type,omitempty"`
	Severity   *float64 `json:"severity,omitempty"`
}

// BoxEdits overlays corrected values on a detection.
type BoxEdits struct {
	Label      *string              `json:"label,omitempty"`
	Part       *string              `json:"part,omitempty"`
	Severity   *model.SeverityLevel `json:"severity,omitempty"`
	Confidence *float64             `json:"confidence,omitempty"`
}

// PartVerification is the single record for one damaged part.
type PartVerification struct {
	PartIndex    int        `json:"partIndex"`
	Status       Status     `json:"status"`
	ReasonCode   ReasonCode `json:"reasonCode,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	LinkedBoxIDs []string   `json:"linkedBoxIds"`
	EditedValues *PartEdits `json:"editedValues,omitempty"`
	VerifiedAt   *time.Time `json:"verifiedAt,omitempty"`
	VerifiedBy   string     `json:"verifiedBy,omitempty"`
}

// BoxVerification is the single record for one detection box.
type BoxVerification struct {
	DetectionID     string     `json:"detectionId"`
	Status          Status     `json:"status"`
	ReasonCode      ReasonCode `json:"reasonCode,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	EditedValues    *BoxEdits  `json:"editedValues,omitempty"`
	LinkedPartIndex *int       `json:"linkedPartIndex,omitempty"`
	VerifiedAt      *time.Time `json:"verifiedAt,omitempty"`
	VerifiedBy      string     `json:"verifiedBy,omitempty"`
}

// State is the aggregate verification state for a claim.
type State struct {
	Parts        []PartVerification `json:"parts"`
	Boxes        []BoxVerification  `json:"boxes"`
	LastModified time.Time          `json:"lastModified"`
	ModifiedBy   string             `json:"modifiedBy"`
}

// PartStatus returns the status of part i, proposed when no record exists.
func (s *State) PartStatus(i int) Status {
	if s == nil {
		return StatusProposed
	}
	for _, p := range s.Parts {
		if p.PartIndex == i {
			return p.Status
		}
	}
	return StatusProposed
}

// Action names a verification operation.
type Action string

const (
	ActionVerify        Action = "verify"
	ActionReject        Action = "reject"
	ActionEdit          Action = "edit"
	ActionMarkUncertain Action = "mark_uncertain"
	ActionLink          Action = "link"
	ActionUnlink        Action = "unlink"
)

// Entity is the kind of record an action targets.
type Entity string

const (
	EntityPart Entity = "part"
	EntityBox  Entity = "box"
)

// PartDiff is the before/after of one part record. Before is nil when the
// part had no record.
type PartDiff struct {
	Before *PartVerification `json:"before"`
	After  PartVerification  `json:"after"`
}

// BoxDiff is the before/after of one box record.
type BoxDiff struct {
	Before *BoxVerification `json:"before"`
	After  BoxVerification  `json:"after"`
}

// Change describes one mutation. Parts and Boxes hold every record the
// operation touched; the targeted entity is always first in its list.
type Change struct {
	Action Action     `json:"action"`
	Entity Entity     `json:"type"`
	ID     string     `json:"id"`
	Parts  []PartDiff `json:"parts,omitempty"`
	Boxes  []BoxDiff  `json:"boxes,omitempty"`
	Actor  string     `json:"actor"`
	At     time.Time  `json:"at"`
}
