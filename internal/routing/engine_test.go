package routing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/claims-router/internal/model"
)

func ptr(v float64) *float64 { return &v }

func noQA() Controls {
	c := DefaultControls()
	c.QASampleRate = 0
	return c
}

func TestRoute_Scenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        Input
		wantRec   Recommendation
		wantState Status
		wantCodes []ReasonCode
	}{
		{
			name: "auto approvable",
			in: Input{
				ConfidenceScore: ptr(90), SeverityScore: ptr(3), CostHigh: ptr(1200),
				Controls: noQA(),
			},
			wantRec:   RecommendApprove,
			wantState: StatusReadyForApproval,
			wantCodes: []ReasonCode{ReasonAutoApprovable},
		},
		{
			name: "human requested only",
			in: Input{
				HumanReviewRequested: true,
				ConfidenceScore:      ptr(95), SeverityScore: ptr(2), CostHigh: ptr(500),
				Controls: noQA(),
			},
			wantRec:   RecommendReview,
			wantState: StatusNeedsHuman,
			wantCodes: []ReasonCode{ReasonHumanRequested},
		},
		{
			name: "high severity dominates auto cap",
			in: Input{
				ConfidenceScore: ptr(90), SeverityScore: ptr(8), CostHigh: ptr(2000),
				Controls: noQA(),
			},
			wantRec:   RecommendEscalate,
			wantState: StatusNeedsHuman,
			wantCodes: []ReasonCode{ReasonHighSeverity, ReasonPayoutCap},
		},
		{
			name: "senior cap",
			in: Input{
				ConfidenceScore: ptr(90), SeverityScore: ptr(3), CostHigh: ptr(3500),
				Controls: noQA(),
			},
			wantRec:   RecommendEscalate,
			wantState: StatusPendingSenior,
			wantCodes: []ReasonCode{ReasonPayoutCapSenior},
		},
		{
			name: "cost equal to auto cap is approvable",
			in: Input{
				ConfidenceScore: ptr(75), SeverityScore: ptr(6.9), CostHigh: ptr(1500),
				Controls: noQA(),
			},
			wantRec:   RecommendApprove,
			wantState: StatusReadyForApproval,
			wantCodes: []ReasonCode{ReasonAutoApprovable},
		},
		{
			name: "cost equal to senior cap is auto cap only",
			in: Input{
				ConfidenceScore: ptr(90), SeverityScore: ptr(3), CostHigh: ptr(3000),
				Controls: noQA(),
			},
			wantRec:   RecommendReview,
			wantState: StatusNeedsHuman,
			wantCodes: []ReasonCode{ReasonPayoutCap},
		},
		{
			name: "dual review",
			in: Input{
				ConfidenceScore: ptr(90), SeverityScore: ptr(3), CostHigh: ptr(100),
				Controls: func() Controls { c := noQA(); c.DualReviewEnabled = true; return c }(),
			},
			wantRec:   RecommendReview,
			wantState: StatusNeedsSecondReview,
			wantCodes: []ReasonCode{ReasonDualReviewRequired},
		},
		{
			name: "low quality and safety",
			in: Input{
				ConfidenceScore: ptr(90), SeverityScore: ptr(3), CostHigh: ptr(100),
				QualityScore:   ptr(55),
				SafetyConcerns: []string{"airbag deployed"},
				Controls:       noQA(),
			},
			wantRec:   RecommendReview,
			wantState: StatusNeedsHuman,
			wantCodes: []ReasonCode{ReasonSafetyConcern, ReasonQualityIssues},
		},
		{
			name:      "empty input uses defaults",
			in:        Input{Controls: noQA()},
			wantRec:   RecommendApprove,
			wantState: StatusReadyForApproval,
			wantCodes: []ReasonCode{ReasonAutoApprovable},
		},
		{
			name: "NaN confidence falls through to safety net",
			in: Input{
				ConfidenceScore: ptr(math.NaN()), SeverityScore: ptr(3), CostHigh: ptr(100),
				Controls: noQA(),
			},
			wantRec:   RecommendReview,
			wantState: StatusNeedsHuman,
			wantCodes: []ReasonCode{ReasonMissingEvidence},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := Route(tt.in, nil)
			assert.Equal(t, tt.wantRec, res.Recommendation)
			assert.Equal(t, tt.wantState, res.Status)
			assert.Equal(t, tt.wantCodes, res.Codes())
			assert.Equal(t, tt.in.Controls, res.RulesSnapshot)
		})
	}
}

func TestRoute_FraudAlwaysEscalates(t *testing.T) {
	t.Parallel()

	inputs := []Input{
		{ConfidenceScore: ptr(99), SeverityScore: ptr(1), CostHigh: ptr(10)},
		{HumanReviewRequested: true, ConfidenceScore: ptr(10)},
		{CostHigh: ptr(50000), QualityScore: ptr(20)},
	}
	for _, in := range inputs {
		in.FraudIndicators = []string{"prior damage", "inconsistent story"}
		in.Controls = DefaultControls()
		in.Controls.DualReviewEnabled = true
		res := Route(in, FixedSampler(0))
		assert.Equal(t, RecommendEscalate, res.Recommendation)
		require.True(t, res.Has(ReasonFraudIndicator))
		assert.True(t, res.Has(ReasonQASample))
		assert.False(t, res.Has(ReasonAutoApprovable))
	}
}

func TestRoute_CostReasonsMutuallyExclusive(t *testing.T) {
	t.Parallel()

	for _, cost := range []float64{0, 1500, 1500.01, 2999, 3000, 3000.01, 1e6} {
		res := Route(Input{CostHigh: ptr(cost), Controls: noQA()}, nil)
		senior, auto := res.Has(ReasonPayoutCapSenior), res.Has(ReasonPayoutCap)
		assert.False(t, senior && auto, "cost %v", cost)
		if cost > 3000 {
			assert.True(t, senior, "cost %v", cost)
		}
	}
}

func TestRoute_NonApproveAlwaysHasMessage(t *testing.T) {
	t.Parallel()

	c := DefaultControls()
	for _, conf := range []float64{0, 50, 74.9, 75, 100} {
		for _, sev := range []float64{1, 6, 7, 10} {
			for _, cost := range []float64{0, 1600, 4000} {
				res := Route(Input{
					ConfidenceScore: ptr(conf), SeverityScore: ptr(sev), CostHigh: ptr(cost), Controls: c,
				}, FixedSampler(0.5))
				if res.Recommendation == RecommendApprove {
					continue
				}
				require.NotEmpty(t, res.Reasons)
				for _, r := range res.Reasons {
					assert.NotEmpty(t, r.Message)
				}
			}
		}
	}
}

func TestRoute_QASampling(t *testing.T) {
	t.Parallel()

	c := DefaultControls() // 10% sample rate
	in := Input{ConfidenceScore: ptr(95), SeverityScore: ptr(2), CostHigh: ptr(200), Controls: c}

	hit := Route(in, FixedSampler(0.05))
	assert.Equal(t, RecommendReview, hit.Recommendation)
	assert.Equal(t, StatusQAReview, hit.Status)
	assert.Equal(t, []ReasonCode{ReasonQASample}, hit.Codes())
	assert.Equal(t, "Selected for QA review (10% sample rate).", hit.Reasons[0].Message)

	miss := Route(in, FixedSampler(0.1))
	assert.Equal(t, RecommendApprove, miss.Recommendation)

	zero := in
	zero.Controls.QASampleRate = 0
	assert.False(t, Route(zero, FixedSampler(0)).Has(ReasonQASample))
}

func TestRoute_Precedence(t *testing.T) {
	t.Parallel()

	assessment := &model.DamageAssessment{
		OverallConfidence: 60,
		OverallSeverity:   2,
		TotalCostHigh:     2500,
		FraudIndicators:   []string{},
		SafetyConcerns:    nil,
	}
	in := Input{
		ConfidenceScore: ptr(99),
		SeverityScore:   ptr(9),
		CostHigh:        ptr(100),
		FraudIndicators: []string{"stale claim field"},
		SafetyConcerns:  []string{"claim-level concern"},
		Assessment:      assessment,
		Controls:        noQA(),
	}

	res := Route(in, nil)
	assert.True(t, res.Has(ReasonLowConfidence))
	assert.False(t, res.Has(ReasonHighSeverity))
	assert.True(t, res.Has(ReasonPayoutCap))
	assert.False(t, res.Has(ReasonFraudIndicator), "assessment's empty list wins")
	assert.True(t, res.Has(ReasonSafetyConcern), "nil assessment list falls back to claim")

	in.Estimate = &model.Estimate{GrandTotalHigh: 3200}
	res = Route(in, nil)
	assert.True(t, res.Has(ReasonPayoutCapSenior))
	assert.Equal(t, StatusPendingSenior, res.Status)
}

func TestRoute_Messages(t *testing.T) {
	t.Parallel()

	res := Route(Input{
		HumanReviewRequested: true,
		ConfidenceScore:      ptr(60),
		SeverityScore:        ptr(8),
		CostHigh:             ptr(3500),
		FraudIndicators:      []string{"a", "b"},
		SafetyConcerns:       []string{"leaking fluid"},
		QualityScore:         ptr(65),
		Controls:             noQA(),
	}, nil)

	want := []Reason{
		{ReasonHumanRequested, "Claimant requested human review."},
		{ReasonLowConfidence, "Confidence 0.60 < threshold 0.75."},
		{ReasonHighSeverity, "Severity 8 >= threshold 7."},
		{ReasonPayoutCapSenior, "Estimate high $3,500 > senior cap $3,000."},
		{ReasonFraudIndicator, "Fraud indicators detected: a, b."},
		{ReasonSafetyConcern, "Safety concerns: leaking fluid."},
		{ReasonQualityIssues, "Photo quality score 65% is below acceptable threshold."},
	}
	assert.Equal(t, want, res.Reasons)
}

func TestRoute_SnapshotIsCopy(t *testing.T) {
	t.Parallel()

	c := noQA()
	res := Route(Input{Controls: c}, nil)
	c.PayoutCapAuto = 1
	assert.InDelta(t, 1500, res.RulesSnapshot.PayoutCapAuto, 0.001)
}

func TestNewRandSampler(t *testing.T) {
	t.Parallel()

	s := NewRandSampler()
	for range 100 {
		v := s()
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestLifecycleStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, model.ClaimStatusEscalated, LifecycleStatus(RecommendEscalate))
	assert.Equal(t, model.ClaimStatusReview, LifecycleStatus(RecommendReview))
	assert.Equal(t, model.ClaimStatusReview, LifecycleStatus(RecommendApprove))
}

func TestLabels(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Photo Retake Requested", StatusRetakeRequested.Label())
	assert.Equal(t, "Pending Senior Review", StatusPendingSenior.Label())
	assert.Equal(t, "Escalate", RecommendEscalate.Label())
	assert.Equal(t, "UNKNOWN", Status("UNKNOWN").Label())
	assert.True(t, Escalating(ReasonHighSeverity))
	assert.False(t, Escalating(ReasonPayoutCap))
}

func TestResult_PersistedReasons(t *testing.T) {
	t.Parallel()

	res := Route(Input{HumanReviewRequested: true, Controls: noQA()}, nil)
	got := res.PersistedReasons()
	require.Len(t, got, 1)
	assert.Equal(t, model.RoutingReason{Code: "HUMAN_REQUESTED", Message: "Claimant requested human review."}, got[0])
}

func TestRetakeResult(t *testing.T) {
	t.Parallel()

	r := RetakeResult("  Move closer to the rear bumper. ", noQA())
	assert.Equal(t, StatusRetakeRequested, r.Status)
	assert.Equal(t, RecommendReview, r.Recommendation)
	require.Len(t, r.Reasons, 1)
	assert.Equal(t, ReasonMissingEvidence, r.Reasons[0].Code)
	assert.Equal(t, "Move closer to the rear bumper.", r.Reasons[0].Message)
	assert.Equal(t, noQA(), r.RulesSnapshot)

	assert.NotEmpty(t, RetakeResult("", noQA()).Reasons[0].Message)
}
