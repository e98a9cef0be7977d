package review

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/claims-router/internal/approval"
	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/model"
	"github.com/sells-group/claims-router/internal/store"
	"github.com/sells-group/claims-router/internal/verification"
)

var adjuster = Actor{ID: "adj-1", Type: audit.ActorAdjuster}

type fixture struct {
	store *store.SQLiteStore
	svc   *Service
}

func newFixture(t *testing.T, human bool) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "review.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	c := model.NewClaim("c1", model.ClaimInput{
		PolicyNumber:         "POL-9",
		ClaimantName:         "Lee Park",
		IncidentDate:         "2026-03-31",
		HumanReviewRequested: human,
	}, now)
	c.Status = model.ClaimStatusReview
	c.RoutingStatus = "NEEDS_HUMAN"
	c.DamageAssessment = &model.DamageAssessment{
		DamagedParts: []model.DamagedPart{
			{Part: "front bumper", DamageType: "dented", Severity: 5, Confidence: 80, CostLow: 400, CostHigh: 900},
			{Part: "headlight", DamageType: "cracked", Severity: 4, Confidence: 70, CostLow: 150, CostHigh: 500},
		},
		OverallSeverity: 5, OverallConfidence: 75, RecommendedAction: "review",
	}
	c.Annotations = &model.Annotations{Detections: []model.Detection{
		{ID: "d1", Label: "dent", Part: "front bumper", Severity: model.SeverityModerate, Confidence: 0.8, Box: model.BoundingBox{X: 0.1, Y: 0.5, W: 0.3, H: 0.2}},
		{ID: "d2", Label: "crack", Part: "headlight", Severity: model.SeverityMinor, Confidence: 0.6, Box: model.BoundingBox{X: 0.6, Y: 0.4, W: 0.1, H: 0.1}},
	}}
	require.NoError(t, st.CreateClaim(context.Background(), c))

	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	log := audit.NewLogger(st, audit.WithClock(clock))
	return &fixture{store: st, svc: New(st, log, WithClock(clock))}
}

func (f *fixture) events(t *testing.T) []audit.Event {
	t.Helper()
	events, err := f.store.ListAuditEvents(context.Background(), audit.Filter{ClaimID: "c1"})
	require.NoError(t, err)
	broken, err := audit.Verify(events)
	require.NoError(t, err)
	require.Nil(t, broken)
	return events
}

func TestDecide_ApprovalGate(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Decide(ctx, "c1", adjuster, Decision{Action: ActionApprove})
	var gate *approval.GateError
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, 2, gate.Parts)

	got, err := f.store.GetClaim(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusReview, got.Status, "blocked approval changes nothing")

	v, err := f.svc.VerifyPart(ctx, "c1", adjuster, 0)
	require.NoError(t, err)
	assert.True(t, v.CanApprove)

	v, err = f.svc.Decide(ctx, "c1", adjuster, Decision{Action: ActionApprove, Notes: "bumper confirmed"})
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusApproved, v.Claim.Status)

	events := f.events(t)
	last := events[len(events)-1]
	assert.Equal(t, audit.EventAdjusterApprove, last.EventType)
	assert.Equal(t, "adj-1", last.ActorID)
	assert.JSONEq(t, `{"decision":"approve","notes":"bumper confirmed"}`, string(last.Decision))
	require.NotNil(t, last.Snapshots)
	assert.Contains(t, string(last.Snapshots.BeforeJSON), `"status":"review"`)
	assert.Contains(t, string(last.Snapshots.AfterJSON), `"status":"approved"`)
}

func TestDecide_RejectAllPartsSatisfiesGate(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.RejectPart(ctx, "c1", adjuster, 0, verification.ReasonFalsePositive, "")
	require.NoError(t, err)
	v, err := f.svc.RejectPart(ctx, "c1", adjuster, 1, verification.ReasonOccludedView, "glare")
	require.NoError(t, err)
	assert.True(t, v.CanApprove)

	_, err = f.svc.Decide(ctx, "c1", adjuster, Decision{Action: ActionApprove})
	require.NoError(t, err)
}

func TestDecide_NoGateWithoutHumanRequest(t *testing.T) {
	f := newFixture(t, false)

	v, err := f.svc.Decide(context.Background(), "c1", adjuster, Decision{Action: ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusApproved, v.Claim.Status)
}

func TestDecide_Transitions(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Decide(ctx, "c1", adjuster, Decision{Action: "deny"})
	require.ErrorIs(t, err, ErrUnknownAction)

	_, err = f.svc.Decide(ctx, "c1", adjuster, Decision{Action: ActionReview, Notes: "need invoice"})
	require.NoError(t, err, "re-affirming review is allowed")

	v, err := f.svc.Decide(ctx, "c1", adjuster, Decision{Action: ActionEscalate})
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusEscalated, v.Claim.Status)

	_, err = f.svc.Decide(ctx, "c1", adjuster, Decision{Action: ActionReview})
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	senior := Actor{ID: "sr-1", Type: audit.ActorSeniorAdjuster}
	_, err = f.svc.Decide(ctx, "c1", senior, Decision{Action: ActionApprove})
	require.NoError(t, err)

	types := make([]audit.EventType, 0)
	for _, e := range f.events(t) {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []audit.EventType{audit.EventAdjusterReview, audit.EventAdjusterEscalate, audit.EventSeniorApprove}, types)
}

func TestVerification_ReplayedFromAuditLog(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.VerifyPart(ctx, "c1", adjuster, 0)
	require.NoError(t, err)
	_, err = f.svc.LinkEvidence(ctx, "c1", adjuster, 0, []string{"d1"})
	require.NoError(t, err)
	sev := 7.0
	_, err = f.svc.EditPart(ctx, "c1", adjuster, 1, verification.PartEdits{Severity: &sev}, verification.ReasonSeverityIncorrect)
	require.NoError(t, err)
	want, err := f.svc.MarkBoxUncertain(ctx, "c1", adjuster, "d2")
	require.NoError(t, err)

	// A fresh service sees the same state.
	fresh := New(f.store, audit.NewLogger(f.store))
	got, err := fresh.View(ctx, "c1", Actor{ID: "adj-2"})
	require.NoError(t, err)
	if diff := cmp.Diff(want.State, got.State); diff != "" {
		t.Errorf("replayed state mismatch (-want +got):\n%s", diff)
	}

	p0 := got.State.Parts[0]
	assert.Equal(t, verification.StatusVerified, p0.Status)
	assert.Equal(t, []string{"d1"}, p0.LinkedBoxIDs)
	assert.Equal(t, "adj-1", got.State.ModifiedBy)

	var types []audit.EventType
	for _, e := range f.events(t) {
		types = append(types, e.EventType)
		require.NotNil(t, e.Snapshots)
	}
	assert.Equal(t, []audit.EventType{
		audit.EventPartVerified,
		audit.EventEvidenceLinked,
		audit.EventPartEdited,
		audit.EventBoxMarkedUncertain,
	}, types)
}

func TestVerification_Errors(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.VerifyPart(ctx, "c1", adjuster, 5)
	require.ErrorIs(t, err, verification.ErrUnknownPart)
	_, err = f.svc.VerifyBox(ctx, "c1", adjuster, "nope")
	require.ErrorIs(t, err, verification.ErrUnknownDetection)
	_, err = f.svc.EditBox(ctx, "c1", adjuster, "d1", verification.BoxEdits{}, "")
	require.ErrorIs(t, err, verification.ErrInvalidReasonCode)
	_, err = f.svc.VerifyPart(ctx, "missing", adjuster, 0)
	require.ErrorIs(t, err, store.ErrNotFound)

	assert.Empty(t, f.events(t), "failed operations write nothing")
}

func TestRequestHumanReview_Immutable(t *testing.T) {
	f := newFixture(t, false)

	err := f.svc.RequestHumanReview(context.Background(), "c1")
	require.ErrorIs(t, err, ErrHumanReviewImmutable)
	err = f.svc.RequestHumanReview(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveAnnotations(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.VerifyBox(ctx, "c1", adjuster, "d1")
	require.NoError(t, err)

	keepD1 := model.Detection{ID: "d1", Label: "dent", Part: "front bumper", Severity: model.SeverityModerate, Confidence: 0.8, Box: model.BoundingBox{X: 0.1, Y: 0.5, W: 0.3, H: 0.2}}
	added := model.Detection{ID: "d3", Label: "scratch", Part: "hood", Severity: model.SeverityMinor, Confidence: 1, Box: model.BoundingBox{X: 0.2, Y: 0.1, W: 0.2, H: 0.1}}

	// Dropping the verified box is refused.
	_, err = f.svc.SaveAnnotations(ctx, "c1", adjuster, model.Annotations{Detections: []model.Detection{added}})
	require.ErrorIs(t, err, ErrDetectionInUse)

	// Invalid geometry is refused.
	bad := added
	bad.Box.W = 0.9
	_, err = f.svc.SaveAnnotations(ctx, "c1", adjuster, model.Annotations{Detections: []model.Detection{keepD1, bad}})
	require.Error(t, err)

	// Drop d2, add d3.
	v, err := f.svc.SaveAnnotations(ctx, "c1", adjuster, model.Annotations{Detections: []model.Detection{keepD1, added}})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d3"}, v.Claim.DetectionIDs())

	got, err := f.store.GetClaim(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d3"}, got.DetectionIDs())

	_, err = f.svc.VerifyBox(ctx, "c1", adjuster, "d3")
	require.NoError(t, err, "replay still works after the annotation save")

	var types []audit.EventType
	for _, e := range f.events(t) {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []audit.EventType{
		audit.EventBoxVerified,
		audit.EventBoxAdded,
		audit.EventBoxDeleted,
		audit.EventBoxEdited,
		audit.EventBoxVerified,
	}, types)
}

func TestVerification_ConcurrentChangesStayChained(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actor := Actor{ID: fmt.Sprintf("adj-%d", i)}
			var err error
			if i%2 == 0 {
				_, err = f.svc.VerifyBox(ctx, "c1", actor, "d1")
			} else {
				_, err = f.svc.RejectBox(ctx, "c1", actor, "d2", verification.ReasonMislocalized, "")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, f.events(t), 20)
}
