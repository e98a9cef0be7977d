package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// ClaimStatus is the lifecycle state of a claim.
type ClaimStatus string

const (
	ClaimStatusPending    ClaimStatus = "pending"
	ClaimStatusProcessing ClaimStatus = "processing"
	ClaimStatusApproved   ClaimStatus = "approved"
	ClaimStatusReview     ClaimStatus = "review"
	ClaimStatusEscalated  ClaimStatus = "escalated"
)

// ErrInvalidTransition is returned when a lifecycle transition is not allowed.
var ErrInvalidTransition = eris.New("invalid claim status transition")

// claimTransitions lists the allowed next states for each status. Once a
// photo has been submitted a claim never returns to pending.
var claimTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimStatusPending:    {ClaimStatusProcessing},
	ClaimStatusProcessing: {ClaimStatusProcessing, ClaimStatusReview, ClaimStatusEscalated},
	ClaimStatusReview:     {ClaimStatusApproved, ClaimStatusEscalated},
	ClaimStatusEscalated:  {ClaimStatusApproved},
}

// CanTransition reports whether a claim may move from s to next.
func (s ClaimStatus) CanTransition(next ClaimStatus) bool {
	for _, allowed := range claimTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition validates s -> next and returns next or ErrInvalidTransition.
func (s ClaimStatus) Transition(next ClaimStatus) (ClaimStatus, error) {
	if !s.CanTransition(next) {
		return s, eris.Wrapf(ErrInvalidTransition, "%s -> %s", s, next)
	}
	return next, nil
}

// IntakePreference records how the claimant asked the claim to be handled.
type IntakePreference string

const (
	IntakeAIFirst        IntakePreference = "ai_first"
	IntakeHumanRequested IntakePreference = "human_requested"
)

// Claim is one submitted insurance case.
type Claim struct {
	ID                  string      `json:"id"`
	PolicyNumber        string      `json:"policy_number"`
	ClaimantName        string      `json:"claimant_name"`
	VehicleMake         string      `json:"vehicle_make"`
	VehicleModel        string      `json:"vehicle_model"`
	VehicleYear         int         `json:"vehicle_year"`
	IncidentDate        string      `json:"incident_date"`
	IncidentDescription string      `json:"incident_description"`
	Status              ClaimStatus `json:"status"`

	// Set once at intake.
	HumanReviewRequested bool             `json:"human_review_requested"`
	HumanReviewReason    string           `json:"human_review_reason,omitempty"`
	IntakePreference     IntakePreference `json:"intake_preference"`

	// Written by the AI pipeline.
	QualityScore     *float64          `json:"quality_score,omitempty"`
	QualityIssues    []QualityIssue    `json:"quality_issues,omitempty"`
	DamageAssessment *DamageAssessment `json:"damage_assessment,omitempty"`
	Summary          string            `json:"ai_summary,omitempty"`
	AIRecommendation string            `json:"ai_recommendation,omitempty"`
	SeverityScore    *float64          `json:"severity_score,omitempty"`
	ConfidenceScore  *float64          `json:"confidence_score,omitempty"`
	CostLow          *float64          `json:"cost_low,omitempty"`
	CostHigh         *float64          `json:"cost_high,omitempty"`
	SafetyConcerns   []string          `json:"safety_concerns,omitempty"`
	FraudIndicators  []string          `json:"fraud_indicators,omitempty"`

	AdjusterDecision string `json:"adjuster_decision,omitempty"`
	AdjusterNotes    string `json:"adjuster_notes,omitempty"`

	RoutingStatus   string          `json:"routing_status,omitempty"`
	RoutingReasons  []RoutingReason `json:"routing_reasons,omitempty"`
	RoutingSnapshot json.RawMessage `json:"routing_snapshot,omitempty"`
	Annotations     *Annotations    `json:"annotations_json,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoutingReason is the persisted form of a routing justification.
type RoutingReason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PartCount returns the number of AI-identified damaged parts.
func (c *Claim) PartCount() int {
	if c.DamageAssessment == nil {
		return 0
	}
	return len(c.DamageAssessment.DamagedParts)
}

// DetectionIDs returns the ids of all annotation boxes on the claim.
func (c *Claim) DetectionIDs() []string {
	if c.Annotations == nil {
		return nil
	}
	ids := make([]string, 0, len(c.Annotations.Detections))
	for _, d := range c.Annotations.Detections {
		ids = append(ids, d.ID)
	}
	return ids
}

// ClaimInput is the intake form payload.
type ClaimInput struct {
	PolicyNumber         string `json:"policy_number"`
	ClaimantName         string `json:"claimant_name"`
	VehicleMake          string `json:"vehicle_make"`
	VehicleModel         string `json:"vehicle_model"`
	VehicleYear          int    `json:"vehicle_year"`
	IncidentDate         string `json:"incident_date"`
	IncidentDescription  string `json:"incident_description"`
	HumanReviewRequested bool   `json:"human_review_requested"`
	HumanReviewReason    string `json:"human_review_reason,omitempty"`
}

// ErrInvalidInput is returned for intake input missing a required field.
var ErrInvalidInput = eris.New("invalid claim input")

// Validate checks required intake fields.
func (in ClaimInput) Validate() error {
	switch {
	case in.PolicyNumber == "":
		return eris.Wrap(ErrInvalidInput, "claim: policy_number is required")
	case in.ClaimantName == "":
		return eris.Wrap(ErrInvalidInput, "claim: claimant_name is required")
	case in.IncidentDate == "":
		return eris.Wrap(ErrInvalidInput, "claim: incident_date is required")
	}
	return nil
}

// NewClaim builds a pending claim from intake input. The human review flag
// and intake preference are fixed here and never change afterwards.
func NewClaim(id string, in ClaimInput, now time.Time) *Claim {
	pref := IntakeAIFirst
	if in.HumanReviewRequested {
		pref = IntakeHumanRequested
	}
	return &Claim{
		ID:                   id,
		PolicyNumber:         in.PolicyNumber,
		ClaimantName:         in.ClaimantName,
		VehicleMake:          in.VehicleMake,
		VehicleModel:         in.VehicleModel,
		VehicleYear:          in.VehicleYear,
		IncidentDate:         in.IncidentDate,
		IncidentDescription:  in.IncidentDescription,
		Status:               ClaimStatusPending,
		HumanReviewRequested: in.HumanReviewRequested,
		HumanReviewReason:    in.HumanReviewReason,
		IntakePreference:     pref,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}
