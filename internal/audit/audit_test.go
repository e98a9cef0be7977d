package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

// memStore is an in-memory Store.
type memStore struct {
	mu     sync.Mutex
	events []Event
}

func (m *memStore) LastAuditHash(_ context.Context, claimID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].ClaimID == claimID {
			return m.events[i].EventHash, nil
		}
	}
	return "", nil
}

func (m *memStore) AppendAuditEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) LastAuditHash(ctx context.Context, claimID string) (string, error) {
	args := m.Called(ctx, claimID)
	return args.String(0), args.Error(1)
}

func (m *mockStore) AppendAuditEvent(ctx context.Context, e *Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func testLogger(s Store) *Logger {
	n := 0
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	return NewLogger(s,
		WithClock(func() time.Time { n++; return t0.Add(time.Duration(n) * time.Second) }),
		WithIDFunc(func() string { return fmt.Sprintf("evt-%d", n) }),
	)
}

func TestLogger_ChainsPerClaim(t *testing.T) {
	t.Parallel()

	s := &memStore{}
	l := testLogger(s)
	ctx := context.Background()

	e1, err := l.Append(ctx, Entry{ClaimID: "c1", EventType: EventClaimCreated, ActorType: ActorClaimant})
	require.NoError(t, err)
	e2, err := l.Append(ctx, Entry{ClaimID: "c2", EventType: EventClaimCreated, ActorType: ActorClaimant})
	require.NoError(t, err)
	e3, err := l.Append(ctx, Entry{
		ClaimID:   "c1",
		EventType: EventRoutingDecision,
		ActorType: ActorSystem,
		Decision:  map[string]string{"recommendation": "REVIEW"},
		Payload:   map[string]any{"status": "NEEDS_HUMAN"},
	})
	require.NoError(t, err)

	assert.Empty(t, e1.PrevEventHash)
	assert.Empty(t, e2.PrevEventHash)
	assert.Equal(t, e1.EventHash, e3.PrevEventHash)
	assert.Len(t, e1.EventHash, 64)
	assert.JSONEq(t, `{}`, string(e1.Payload))
	assert.JSONEq(t, `{"recommendation":"REVIEW"}`, string(e3.Decision))

	broken, err := Verify(s.events)
	require.NoError(t, err)
	assert.Nil(t, broken)
}

func TestLogger_Snapshots(t *testing.T) {
	t.Parallel()

	s := &memStore{}
	l := testLogger(s)

	type rec struct {
		Status string `json:"status"`
	}
	var before *rec
	e, err := l.Append(context.Background(), Entry{
		ClaimID: "c1", EventType: EventPartVerified, ActorType: ActorAdjuster, ActorID: "adj-1",
		Before: before, After: rec{Status: "verified"},
		Model: &Model{Provider: "anthropic", Name: "claude"},
	})
	require.NoError(t, err)
	require.NotNil(t, e.Snapshots)
	assert.Equal(t, "null", string(e.Snapshots.BeforeJSON))
	assert.JSONEq(t, `{"status":"verified"}`, string(e.Snapshots.AfterJSON))
	assert.Equal(t, "anthropic", e.ModelProvider)
}

func TestHash_Deterministic(t *testing.T) {
	t.Parallel()

	e := &Event{
		ClaimID:   "c1",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC),
		EventType: EventClaimCreated,
		ActorType: ActorClaimant,
		Payload:   json.RawMessage(`{"a": 1}`),
	}
	h1, err := Hash(e)
	require.NoError(t, err)

	same := *e
	same.ID = "different id"
	same.Timestamp = e.Timestamp.In(time.FixedZone("X", 3600))
	same.Payload = json.RawMessage(`{"a":1}`)
	h2, err := Hash(&same)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "id, zone and whitespace do not affect the hash")

	other := *e
	other.PrevEventHash = "abc"
	h3, err := Hash(&other)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestVerify_DetectsTampering(t *testing.T) {
	t.Parallel()

	build := func() []Event {
		s := &memStore{}
		l := testLogger(s)
		for i := range 4 {
			_, err := l.Append(context.Background(), Entry{
				ClaimID: "c1", EventType: EventBoxVerified, ActorType: ActorAdjuster,
				Payload: map[string]int{"n": i},
			})
			require.NoError(t, err)
		}
		return s.events
	}

	tests := []struct {
		name      string
		tamper    func(ev []Event) []Event
		wantIndex int
	}{
		{"edited payload", func(ev []Event) []Event {
			ev[2].Payload = json.RawMessage(`{"n":99}`)
			return ev
		}, 2},
		{"deleted event", func(ev []Event) []Event {
			return append(ev[:1], ev[2:]...)
		}, 1},
		{"edited actor", func(ev []Event) []Event {
			ev[0].ActorID = "mallory"
			return ev
		}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			broken, err := Verify(tt.tamper(build()))
			require.NoError(t, err)
			require.NotNil(t, broken)
			assert.Equal(t, tt.wantIndex, broken.Index)
			assert.NotEmpty(t, broken.Reason)
		})
	}
}

func TestLogger_RecordSwallowsErrors(t *testing.T) {
	t.Parallel()

	ms := &mockStore{}
	ms.On("LastAuditHash", mock.Anything, "c1").Return("", nil)
	ms.On("AppendAuditEvent", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	l := NewLogger(ms)
	assert.Nil(t, l.Record(context.Background(), Entry{ClaimID: "c1", EventType: EventClaimCreated, ActorType: ActorSystem}))

	_, err := l.Append(context.Background(), Entry{ClaimID: "c1", EventType: EventClaimCreated, ActorType: ActorSystem})
	assert.ErrorContains(t, err, "disk full")
	ms.AssertExpectations(t)
}

func TestLogger_HeadReadFailure(t *testing.T) {
	t.Parallel()

	ms := &mockStore{}
	ms.On("LastAuditHash", mock.Anything, "c1").Return("", errors.New("conn reset"))

	_, err := NewLogger(ms).Append(context.Background(), Entry{ClaimID: "c1", EventType: EventClaimCreated})
	require.Error(t, err)
	ms.AssertNotCalled(t, "AppendAuditEvent", mock.Anything, mock.Anything)
}

func TestTrail_Export(t *testing.T) {
	t.Parallel()

	s := &memStore{}
	l := testLogger(s)
	ctx := context.Background()
	_, err := l.Append(ctx, Entry{ClaimID: "c1", EventType: EventClaimCreated, ActorType: ActorClaimant})
	require.NoError(t, err)
	_, err = l.Append(ctx, Entry{
		ClaimID: "c1", EventType: EventPartRejected, ActorType: ActorAdjuster,
		Before: nil, After: map[string]string{"status": "rejected"},
	})
	require.NoError(t, err)

	trail, err := NewTrail("c1", s.events, time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, trail.ChainValid)
	assert.Equal(t, 2, trail.EventCount)

	var jsonBuf bytes.Buffer
	require.NoError(t, trail.WriteJSON(&jsonBuf))
	var decoded Trail
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &decoded))
	assert.Equal(t, "c1", decoded.ClaimID)
	assert.Len(t, decoded.Events, 2)

	var xlsxBuf bytes.Buffer
	require.NoError(t, trail.WriteXLSX(&xlsxBuf))
	f, err := xlsx.OpenBinary(xlsxBuf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)
	events := f.Sheet["events"]
	require.NotNil(t, events)
	require.Len(t, events.Rows, 3)
	assert.Equal(t, "event_type", events.Rows[0].Cells[2].String())
	assert.Equal(t, "part_rejected", events.Rows[2].Cells[2].String())

	empty, err := NewTrail("", nil, time.Now())
	require.NoError(t, err)
	assert.NotNil(t, empty.Events)
	assert.True(t, empty.ChainValid)
}
