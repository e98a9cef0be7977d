package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/claims-router/internal/model"
	"github.com/sells-group/claims-router/internal/verification"
)

func claimWithParts(n int, human bool) *model.Claim {
	parts := make([]model.DamagedPart, n)
	for i := range parts {
		parts[i] = model.DamagedPart{Part: "door", Severity: 3, Confidence: 80}
	}
	return &model.Claim{
		ID:                   "claim-1",
		HumanReviewRequested: human,
		DamageAssessment:     &model.DamageAssessment{DamagedParts: parts},
	}
}

func stateOf(t *testing.T, n int, ops func(s *verification.Session)) *verification.State {
	t.Helper()
	s := verification.NewSession(n, nil, "adj-1")
	ops(s)
	st := s.State()
	return &st
}

func TestCanApprove(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		parts int
		human bool
		ops   func(s *verification.Session)
		want  bool
	}{
		{
			name: "not human requested", parts: 3, human: false,
			ops: func(s *verification.Session) {}, want: true,
		},
		{
			name: "human requested nothing verified", parts: 3, human: true,
			ops: func(s *verification.Session) {}, want: false,
		},
		{
			name: "one verified", parts: 3, human: true,
			ops:  func(s *verification.Session) { _, _ = s.VerifyPart(1) },
			want: true,
		},
		{
			name: "edit counts as verified", parts: 2, human: true,
			ops: func(s *verification.Session) {
				sev := 4.0
				_, _ = s.EditPart(0, verification.PartEdits{Severity: &sev}, verification.ReasonSeverityIncorrect)
			},
			want: true,
		},
		{
			name: "all rejected", parts: 3, human: true,
			ops: func(s *verification.Session) {
				for i := range 3 {
					_, _ = s.RejectPart(i, verification.ReasonFalsePositive, "")
				}
			},
			want: true,
		},
		{
			name: "some rejected", parts: 3, human: true,
			ops: func(s *verification.Session) {
				_, _ = s.RejectPart(0, verification.ReasonFalsePositive, "")
				_, _ = s.RejectPart(2, verification.ReasonWrongPart, "")
			},
			want: false,
		},
		{
			name: "verified then rejected", parts: 1, human: true,
			ops: func(s *verification.Session) {
				_, _ = s.VerifyPart(0)
				_, _ = s.RejectPart(0, verification.ReasonOther, "")
			},
			want: true,
		},
		{
			name: "no damaged parts", parts: 0, human: true,
			ops: func(s *verification.Session) {}, want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := claimWithParts(tt.parts, tt.human)
			st := stateOf(t, tt.parts, tt.ops)
			assert.Equal(t, tt.want, CanApprove(c, st))
		})
	}
}

func TestCheck_GateError(t *testing.T) {
	t.Parallel()

	c := claimWithParts(3, true)
	st := stateOf(t, 3, func(s *verification.Session) {
		_, _ = s.RejectPart(0, verification.ReasonFalsePositive, "")
	})

	err := Check(c, st)
	require.Error(t, err)
	var ge *GateError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, 1, ge.Rejected)
	assert.Equal(t, 0, ge.Verified)
	assert.Contains(t, ge.Error(), "reject all 3")

	assert.NoError(t, Check(c, stateOf(t, 3, func(s *verification.Session) { _, _ = s.VerifyPart(2) })))
	assert.False(t, CanApprove(c, nil))
}

func TestVerificationComplete(t *testing.T) {
	t.Parallel()

	assert.True(t, VerificationComplete(0, nil))
	assert.False(t, VerificationComplete(2, nil))
}
