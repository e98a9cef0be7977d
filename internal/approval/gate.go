// Package approval decides whether a claim may be given final approval.
package approval

import (
	"fmt"

	"github.com/sells-group/claims-router/internal/model"
	"github.com/sells-group/claims-router/internal/verification"
)

// GateError is returned when approval is blocked. Message is shown to the
// adjuster as-is.
type GateError struct {
	ClaimID  string
	Verified int
	Rejected int
	Parts    int
}

func (e *GateError) Error() string {
	return fmt.Sprintf(
		"Claimant requested human review: verify at least one damaged part or reject all %d before approving (%d verified, %d rejected).",
		e.Parts, e.Verified, e.Rejected,
	)
}

// VerificationComplete reports whether at least one part is verified or
// every part is rejected. A claim with no damaged parts is complete.
func VerificationComplete(partCount int, state *verification.State) bool {
	verified, rejected := count(partCount, state)
	return verified > 0 || rejected == partCount
}

// CanApprove reports whether the claim passes the approval gate. The gate
// only applies when the claimant asked for human review.
func CanApprove(c *model.Claim, state *verification.State) bool {
	return Check(c, state) == nil
}

// Check returns a *GateError when approval is blocked.
func Check(c *model.Claim, state *verification.State) error {
	if !c.HumanReviewRequested {
		return nil
	}
	parts := c.PartCount()
	if VerificationComplete(parts, state) {
		return nil
	}
	verified, rejected := count(parts, state)
	return &GateError{ClaimID: c.ID, Verified: verified, Rejected: rejected, Parts: parts}
}

func count(partCount int, state *verification.State) (verified, rejected int) {
	for i := 0; i < partCount; i++ {
		switch state.PartStatus(i) {
		case verification.StatusVerified:
			verified++
		case verification.StatusRejected:
			rejected++
		}
	}
	return verified, rejected
}
