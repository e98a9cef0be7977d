package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// hashRecord is the exact shape that is hashed. Field order is part of the
// chain format and must not change.
type hashRecord struct {
	ClaimID       *string         `json:"claim_id"`
	Timestamp     string          `json:"timestamp"`
	EventType     EventType       `json:"event_type"`
	ActorType     ActorType       `json:"actor_type"`
	ActorID       *string         `json:"actor_id"`
	ModelProvider *string         `json:"model_provider"`
	ModelName     *string         `json:"model_name"`
	ModelVersion  *string         `json:"model_version"`
	Metrics       json.RawMessage `json:"metrics"`
	Decision      json.RawMessage `json:"decision"`
	Snapshots     *Snapshots      `json:"snapshots"`
	Payload       json.RawMessage `json:"payload"`
	PrevEventHash *string         `json:"prev_event_hash"`
}

// Hash computes SHA-256(prev_event_hash + JSON(record)) as lowercase hex.
// The event's own ID and EventHash are not part of the input.
func Hash(e *Event) (string, error) {
	rec := hashRecord{
		ClaimID:       nullable(e.ClaimID),
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		EventType:     e.EventType,
		ActorType:     e.ActorType,
		ActorID:       nullable(e.ActorID),
		ModelProvider: nullable(e.ModelProvider),
		ModelName:     nullable(e.ModelName),
		ModelVersion:  nullable(e.ModelVersion),
		Metrics:       nullJSON(e.Metrics),
		Decision:      nullJSON(e.Decision),
		Snapshots:     e.Snapshots,
		Payload:       nullJSON(e.Payload),
		PrevEventHash: nullable(e.PrevEventHash),
	}
	if rec.Snapshots != nil {
		rec.Snapshots = &Snapshots{
			BeforeJSON: nullJSON(e.Snapshots.BeforeJSON),
			AfterJSON:  nullJSON(e.Snapshots.AfterJSON),
		}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", eris.Wrap(err, "audit: marshal hash record")
	}
	sum := sha256.Sum256(append([]byte(e.PrevEventHash), b...))
	return hex.EncodeToString(sum[:]), nil
}

// BrokenLink describes the first place a chain fails verification.
type BrokenLink struct {
	Index   int    `json:"index"`
	EventID string `json:"event_id"`
	ClaimID string `json:"claim_id,omitempty"`
	Reason  string `json:"reason"`
}

// Verify walks events in order, grouped by claim, and recomputes every hash.
// It returns nil when every chain is intact. Verification only detects
// edits to a log that is otherwise complete; a rewritten chain still
// verifies.
func Verify(events []Event) (*BrokenLink, error) {
	last := make(map[string]string)
	for i := range events {
		e := &events[i]
		if prev := last[e.ClaimID]; e.PrevEventHash != prev {
			return &BrokenLink{
				Index: i, EventID: e.ID, ClaimID: e.ClaimID,
				Reason: "prev_event_hash does not match preceding event",
			}, nil
		}
		h, err := Hash(e)
		if err != nil {
			return nil, err
		}
		if h != e.EventHash {
			return &BrokenLink{
				Index: i, EventID: e.ID, ClaimID: e.ClaimID,
				Reason: "event_hash does not match contents",
			}, nil
		}
		last[e.ClaimID] = e.EventHash
	}
	return nil, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullJSON(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return b
}
