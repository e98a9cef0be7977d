package routing

// ReasonCode identifies one routing justification.
type ReasonCode string

const (
	ReasonHumanRequested     ReasonCode = "HUMAN_REQUESTED"
	ReasonLowConfidence      ReasonCode = "LOW_CONFIDENCE"
	ReasonHighSeverity       ReasonCode = "HIGH_SEVERITY"
	ReasonMissingEvidence    ReasonCode = "MISSING_EVIDENCE"
	ReasonPayoutCap          ReasonCode = "PAYOUT_CAP"
	ReasonPayoutCapSenior    ReasonCode = "PAYOUT_CAP_SENIOR"
	ReasonAutoApprovable     ReasonCode = "AUTO_APPROVABLE"
	ReasonDualReviewRequired ReasonCode = "DUAL_REVIEW_REQUIRED"
	ReasonQASample           ReasonCode = "QA_SAMPLE"
	ReasonFraudIndicator     ReasonCode = "FRAUD_INDICATOR"
	ReasonSafetyConcern      ReasonCode = "SAFETY_CONCERN"
	ReasonQualityIssues      ReasonCode = "QUALITY_ISSUES"
)

// Reason is one code plus the human-readable message shown to adjusters.
type Reason struct {
	Code    ReasonCode `json:"code"`
	Message string     `json:"message"`
}

// Recommendation is the routing outcome.
type Recommendation string

const (
	RecommendApprove  Recommendation = "APPROVE"
	RecommendReview   Recommendation = "REVIEW"
	RecommendEscalate Recommendation = "ESCALATE"
)

// Status is the queue a routed claim lands in.
type Status string

const (
	StatusReadyForApproval  Status = "READY_FOR_APPROVAL"
	StatusNeedsHuman        Status = "NEEDS_HUMAN"
	StatusPendingSenior     Status = "PENDING_SENIOR"
	StatusRetakeRequested   Status = "RETAKE_REQUESTED"
	StatusNeedsSecondReview Status = "NEEDS_SECOND_REVIEW"
	StatusQAReview          Status = "QA_REVIEW"
)

var (
	escalatingReasons = []ReasonCode{ReasonFraudIndicator, ReasonPayoutCapSenior, ReasonHighSeverity}
	reviewReasons     = []ReasonCode{
		ReasonHumanRequested,
		ReasonLowConfidence,
		ReasonPayoutCap,
		ReasonSafetyConcern,
		ReasonQualityIssues,
		ReasonDualReviewRequired,
	}
)

var statusLabels = map[Status]string{
	StatusReadyForApproval:  "Ready for Approval",
	StatusNeedsHuman:        "Needs Human Review",
	StatusPendingSenior:     "Pending Senior Review",
	StatusRetakeRequested:   "Photo Retake Requested",
	StatusNeedsSecondReview: "Needs Second Review",
	StatusQAReview:          "QA Review",
}

// Label returns the display label for a status.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Label returns the display label for a recommendation.
func (r Recommendation) Label() string {
	switch r {
	case RecommendApprove:
		return "Approve"
	case RecommendReview:
		return "Review"
	case RecommendEscalate:
		return "Escalate"
	}
	return string(r)
}
