package controls

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/routing"
	"github.com/sells-group/claims-router/internal/store"
)

func newTestProvider(t *testing.T, ttl time.Duration) (*Provider, *store.SQLiteStore, *time.Time) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "controls.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	p := NewProvider(st, audit.NewLogger(st), routing.DefaultControls(), ttl,
		WithClock(func() time.Time { return now }))
	return p, st, &now
}

func TestProvider_DefaultsWhenEmpty(t *testing.T) {
	p, _, _ := newTestProvider(t, time.Minute)
	c, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, routing.DefaultControls(), c)
}

func TestProvider_UpdateAuditsAndInvalidates(t *testing.T) {
	p, st, _ := newTestProvider(t, time.Minute)
	ctx := context.Background()

	_, err := p.Current(ctx)
	require.NoError(t, err)

	c, err := p.Update(ctx, routing.KeyPayoutCapAuto, 2000, "mgr-1")
	require.NoError(t, err)
	assert.InDelta(t, 2000, c.PayoutCapAuto, 1e-9)

	got, err := p.Current(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2000, got.PayoutCapAuto, 1e-9, "cache is dropped on update")

	events, err := st.ListAuditEvents(ctx, audit.Filter{EventTypes: []audit.EventType{audit.EventControlsUpdated}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].ClaimID)
	assert.Equal(t, "mgr-1", events[0].ActorID)
	assert.Equal(t, audit.ActorManager, events[0].ActorType)
	require.NotNil(t, events[0].Snapshots)
	assert.Contains(t, string(events[0].Snapshots.BeforeJSON), `"payout_cap_auto":1500`)
	assert.Contains(t, string(events[0].Snapshots.AfterJSON), `"payout_cap_auto":2000`)
}

func TestProvider_UpdateRejectsInvalid(t *testing.T) {
	p, _, _ := newTestProvider(t, time.Minute)
	ctx := context.Background()

	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"unknown key", "max_payout", 10.0},
		{"wrong type", routing.KeyDualReviewEnabled, "yes"},
		{"out of range", routing.KeyQASampleRate, 1.5},
		{"severity below one", routing.KeySeverityThreshold, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Update(ctx, tt.key, tt.value, "mgr-1")
			require.Error(t, err)
		})
	}

	c, err := p.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, routing.DefaultControls(), c)
}

func TestProvider_CacheTTL(t *testing.T) {
	p, st, now := newTestProvider(t, time.Minute)
	ctx := context.Background()

	_, err := p.Current(ctx)
	require.NoError(t, err)

	// Written behind the provider's back.
	require.NoError(t, st.SetControls(ctx, []store.ControlRow{
		{Key: routing.KeySeverityThreshold, Value: []byte("9"), UpdatedAt: *now},
	}))

	c, err := p.Current(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 7, c.SeverityThreshold, 1e-9)

	*now = now.Add(2 * time.Minute)
	c, err = p.Current(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 9, c.SeverityThreshold, 1e-9)
}

func TestProvider_IgnoresUnknownStoredKeys(t *testing.T) {
	p, st, now := newTestProvider(t, 0)
	ctx := context.Background()

	require.NoError(t, st.SetControls(ctx, []store.ControlRow{
		{Key: "legacy_threshold", Value: []byte("1"), UpdatedAt: *now},
		{Key: routing.KeyDualReviewEnabled, Value: []byte("true"), UpdatedAt: *now},
	}))
	c, err := p.Current(ctx)
	require.NoError(t, err)
	assert.True(t, c.DualReviewEnabled)
}

func TestProvider_Reset(t *testing.T) {
	p, st, _ := newTestProvider(t, time.Minute)
	ctx := context.Background()

	_, err := p.Update(ctx, routing.KeyDualReviewEnabled, true, "mgr-1")
	require.NoError(t, err)
	c, err := p.Reset(ctx, "mgr-2")
	require.NoError(t, err)
	assert.Equal(t, routing.DefaultControls(), c)

	rows, err := st.ListControls(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	events, err := st.ListAuditEvents(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Contains(t, string(events[1].Payload), "reset")

	broken, err := audit.Verify(events)
	require.NoError(t, err)
	assert.Nil(t, broken)
}

func TestProvider_ExportImport(t *testing.T) {
	p, _, _ := newTestProvider(t, time.Minute)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, p.Export(ctx, &buf))
	assert.Contains(t, buf.String(), "payout_cap_senior: 3000")

	c, err := p.Import(ctx, strings.NewReader("payout_cap_senior: 5000\ndual_review_enabled: true\n"), "mgr-1")
	require.NoError(t, err)
	assert.InDelta(t, 5000, c.PayoutCapSenior, 1e-9)
	assert.True(t, c.DualReviewEnabled)

	_, err = p.Import(ctx, strings.NewReader(""), "mgr-1")
	require.Error(t, err)
	_, err = p.Import(ctx, strings.NewReader("bogus_key: 1\n"), "mgr-1")
	require.ErrorIs(t, err, routing.ErrUnknownControl)
}

type flakyStore struct {
	mock.Mock
}

func (f *flakyStore) ListControls(ctx context.Context) ([]store.ControlRow, error) {
	args := f.Called(ctx)
	rows, _ := args.Get(0).([]store.ControlRow)
	return rows, args.Error(1)
}

func (f *flakyStore) SetControls(ctx context.Context, rows []store.ControlRow) error {
	return f.Called(ctx, rows).Error(0)
}

func (f *flakyStore) DeleteControls(ctx context.Context) error {
	return f.Called(ctx).Error(0)
}

func TestProvider_ServesStaleOnStoreFailure(t *testing.T) {
	t.Parallel()

	fs := &flakyStore{}
	fs.On("ListControls", mock.Anything).Return([]store.ControlRow{
		{Key: routing.KeyQASampleRate, Value: []byte("0.5")},
	}, nil).Once()
	fs.On("ListControls", mock.Anything).Return(nil, errors.New("connection refused"))

	p := NewProvider(fs, nil, routing.DefaultControls(), 0)
	c, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, c.QASampleRate, 1e-9)

	c, err = p.Current(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, c.QASampleRate, 1e-9)

	_, err = NewProvider(fs, nil, routing.DefaultControls(), 0).Current(context.Background())
	require.Error(t, err)
}
