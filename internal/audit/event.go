// Package audit writes the append-only, hash-chained event log that records
// every AI stage, routing decision, verification action, and human decision.
package audit

import (
	"encoding/json"
	"time"
)

// EventType classifies an audit event.
type EventType string

const (
	EventClaimCreated         EventType = "claim_created"
	EventPhotoUploaded        EventType = "photo_uploaded"
	EventRetakeRequested      EventType = "retake_requested"
	EventAIQualityComplete    EventType = "ai_quality_complete"
	EventAIDamageComplete     EventType = "ai_damage_complete"
	EventRoutingDecision      EventType = "routing_decision"
	EventHumanReviewRequested EventType = "human_review_requested"

	EventPartVerified   EventType = "part_verified"
	EventPartRejected   EventType = "part_rejected"
	EventPartEdited     EventType = "part_edited"
	EventEvidenceLinked EventType = "evidence_linked"

	EventBoxAdded           EventType = "box_added"
	EventBoxEdited          EventType = "box_edited"
	EventBoxDeleted         EventType = "box_deleted"
	EventBoxVerified        EventType = "box_verified"
	EventBoxRejected        EventType = "box_rejected"
	EventBoxMarkedUncertain EventType = "box_marked_uncertain"

	EventEstimateCreated EventType = "estimate_created"

	EventAdjusterApprove  EventType = "adjuster_approve"
	EventAdjusterReview   EventType = "adjuster_review"
	EventAdjusterEscalate EventType = "adjuster_escalate"
	EventSeniorApprove    EventType = "senior_approve"

	EventQASampled   EventType = "qa_sampled"
	EventQACompleted EventType = "qa_completed"

	EventControlsUpdated EventType = "controls_updated"
	EventAuditExported   EventType = "audit_exported"
)

// ActorType is who caused an event.
type ActorType string

const (
	ActorClaimant       ActorType = "claimant"
	ActorSystem         ActorType = "system"
	ActorAIQuality      ActorType = "ai_quality"
	ActorAIDamage       ActorType = "ai_damage"
	ActorAdjuster       ActorType = "adjuster"
	ActorQAReviewer     ActorType = "qa_reviewer"
	ActorSeniorAdjuster ActorType = "senior_adjuster"
	ActorManager        ActorType = "manager"
)

// Snapshots hold the before/after images of whatever the event changed.
type Snapshots struct {
	BeforeJSON json.RawMessage `json:"before_json"`
	AfterJSON  json.RawMessage `json:"after_json"`
}

// Event is one persisted audit row. ClaimID is empty for claim-less events
// such as controls updates; those form their own chain.
type Event struct {
	ID            string          `json:"id"`
	ClaimID       string          `json:"claim_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	EventType     EventType       `json:"event_type"`
	ActorType     ActorType       `json:"actor_type"`
	ActorID       string          `json:"actor_id,omitempty"`
	ModelProvider string          `json:"model_provider,omitempty"`
	ModelName     string          `json:"model_name,omitempty"`
	ModelVersion  string          `json:"model_version,omitempty"`
	Metrics       json.RawMessage `json:"metrics,omitempty"`
	Decision      json.RawMessage `json:"decision,omitempty"`
	Snapshots     *Snapshots      `json:"snapshots,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	PrevEventHash string          `json:"prev_event_hash,omitempty"`
	EventHash     string          `json:"event_hash"`
}

// Model identifies the AI model behind an event.
type Model struct {
	Provider string
	Name     string
	Version  string
}

// Entry is what callers hand to the Logger. Any-typed fields are marshaled
// to JSON as-is; nil stays null.
type Entry struct {
	ClaimID   string
	EventType EventType
	ActorType ActorType
	ActorID   string
	Model     *Model
	Metrics   any
	Decision  any
	Before    any
	After     any
	Payload   any
}

// Filter narrows a list of events.
type Filter struct {
	ClaimID    string
	EventTypes []EventType
	Since      time.Time
	Limit      int
}
