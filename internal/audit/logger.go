package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Store is the persistence the logger needs.
type Store interface {
	// LastAuditHash returns the event_hash of the newest event in the
	// claim's chain, or "" when the chain is empty.
	LastAuditHash(ctx context.Context, claimID string) (string, error)
	AppendAuditEvent(ctx context.Context, e *Event) error
}

// Logger appends hash-chained events. Appends are serialized so that two
// writers never read the same prev hash.
type Logger struct {
	store Store
	now   func() time.Time
	newID func() string
	mu    sync.Mutex
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) LoggerOption {
	return func(l *Logger) { l.now = now }
}

// WithIDFunc overrides event id generation.
func WithIDFunc(fn func() string) LoggerOption {
	return func(l *Logger) { l.newID = fn }
}

// NewLogger returns a Logger writing to s.
func NewLogger(s Store, opts ...LoggerOption) *Logger {
	l := &Logger{
		store: s,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append builds, hashes, and persists one event.
func (l *Logger) Append(ctx context.Context, in Entry) (*Event, error) {
	e := &Event{
		ID:        l.newID(),
		ClaimID:   in.ClaimID,
		Timestamp: l.now().UTC().Truncate(time.Microsecond),
		EventType: in.EventType,
		ActorType: in.ActorType,
		ActorID:   in.ActorID,
	}
	if in.Model != nil {
		e.ModelProvider = in.Model.Provider
		e.ModelName = in.Model.Name
		e.ModelVersion = in.Model.Version
	}

	var err error
	if e.Metrics, err = marshalOptional(in.Metrics); err != nil {
		return nil, eris.Wrap(err, "audit: marshal metrics")
	}
	if e.Decision, err = marshalOptional(in.Decision); err != nil {
		return nil, eris.Wrap(err, "audit: marshal decision")
	}
	if in.Before != nil || in.After != nil {
		before, err := marshalOptional(in.Before)
		if err != nil {
			return nil, eris.Wrap(err, "audit: marshal before snapshot")
		}
		after, err := marshalOptional(in.After)
		if err != nil {
			return nil, eris.Wrap(err, "audit: marshal after snapshot")
		}
		e.Snapshots = &Snapshots{BeforeJSON: before, AfterJSON: after}
	}
	if in.Payload == nil {
		e.Payload = json.RawMessage("{}")
	} else if e.Payload, err = json.Marshal(in.Payload); err != nil {
		return nil, eris.Wrap(err, "audit: marshal payload")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev, err := l.store.LastAuditHash(ctx, e.ClaimID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: read chain head")
	}
	e.PrevEventHash = prev
	if e.EventHash, err = Hash(e); err != nil {
		return nil, err
	}
	if err := l.store.AppendAuditEvent(ctx, e); err != nil {
		return nil, eris.Wrap(err, "audit: append event")
	}
	return e, nil
}

// Record appends an event and only logs on failure. The state change the
// event describes has already happened and is never rolled back. A nil
// Logger records nothing.
func (l *Logger) Record(ctx context.Context, in Entry) *Event {
	if l == nil {
		return nil
	}
	e, err := l.Append(ctx, in)
	if err != nil {
		zap.L().Error("audit: failed to record event",
			zap.String("claim_id", in.ClaimID),
			zap.String("event_type", string(in.EventType)),
			zap.Error(err),
		)
		return nil
	}
	return e
}

func marshalOptional(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
