package routing

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/sells-group/claims-router/internal/model"
)

// MinQualityScore is the photo quality score below which QUALITY_ISSUES fires.
const MinQualityScore = 70

// Sampler returns a uniform value in [0,1) for the QA sampling draw.
type Sampler func() float64

// NewRandSampler returns a sampler backed by its own freshly seeded source,
// so concurrent routing calls never share RNG state.
func NewRandSampler() Sampler {
	r := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // sampling, not crypto
	return r.Float64
}

// FixedSampler always returns v.
func FixedSampler(v float64) Sampler {
	return func() float64 { return v }
}

// Input is everything the engine looks at. Every field is optional; the
// freshest Assessment and Estimate take precedence over claim fields.
type Input struct {
	HumanReviewRequested bool
	ConfidenceScore      *float64 // 0-100
	SeverityScore        *float64 // 1-10
	CostHigh             *float64
	FraudIndicators      []string
	SafetyConcerns       []string
	QualityScore         *float64

	Assessment *model.DamageAssessment
	Estimate   *model.Estimate
	Controls   Controls
}

// InputFromClaim builds routing input from a stored claim.
func InputFromClaim(c *model.Claim, est *model.Estimate, controls Controls) Input {
	return Input{
		HumanReviewRequested: c.HumanReviewRequested,
		ConfidenceScore:      c.ConfidenceScore,
		SeverityScore:        c.SeverityScore,
		CostHigh:             c.CostHigh,
		FraudIndicators:      c.FraudIndicators,
		SafetyConcerns:       c.SafetyConcerns,
		QualityScore:         c.QualityScore,
		Assessment:           c.DamageAssessment,
		Estimate:             est,
		Controls:             controls,
	}
}

// Result is one routing decision.
type Result struct {
	Status         Status         `json:"status"`
	Recommendation Recommendation `json:"recommendation"`
	Reasons        []Reason       `json:"reasons"`
	RulesSnapshot  Controls       `json:"rulesSnapshot"`
}

// Has reports whether code is among the result's reasons.
func (r Result) Has(code ReasonCode) bool {
	return slices.ContainsFunc(r.Reasons, func(x Reason) bool { return x.Code == code })
}

// Codes returns the reason codes in evaluation order.
func (r Result) Codes() []ReasonCode {
	out := make([]ReasonCode, len(r.Reasons))
	for i, x := range r.Reasons {
		out[i] = x.Code
	}
	return out
}

// PersistedReasons converts the reasons to the claim's stored form.
func (r Result) PersistedReasons() []model.RoutingReason {
	out := make([]model.RoutingReason, len(r.Reasons))
	for i, x := range r.Reasons {
		out[i] = model.RoutingReason{Code: string(x.Code), Message: x.Message}
	}
	return out
}

// LifecycleStatus maps a recommendation to the claim status set after
// routing. Approval always needs an explicit adjuster decision.
func LifecycleStatus(rec Recommendation) model.ClaimStatus {
	if rec == RecommendEscalate {
		return model.ClaimStatusEscalated
	}
	return model.ClaimStatusReview
}

// RetakeResult is the routing outcome when the quality stage rejects a
// photo. The claimant's retake guidance becomes the MISSING_EVIDENCE message.
func RetakeResult(guidance string, controls Controls) Result {
	msg := strings.TrimSpace(guidance)
	if msg == "" {
		msg = "Photo quality check failed; a new photo is required"
	}
	return Result{
		Status:         StatusRetakeRequested,
		Recommendation: RecommendReview,
		Reasons:        []Reason{{Code: ReasonMissingEvidence, Message: msg}},
		RulesSnapshot:  controls,
	}
}

// signals are the resolved values the rules run against.
type signals struct {
	confidence float64
	severity   float64
	costHigh   float64
	fraud      []string
	safety     []string
	quality    *float64
}

func resolve(in Input) signals {
	s := signals{confidence: 100, severity: 1, quality: in.QualityScore}

	switch {
	case in.Assessment != nil:
		s.confidence = in.Assessment.OverallConfidence
	case in.ConfidenceScore != nil:
		s.confidence = *in.ConfidenceScore
	}

	switch {
	case in.Assessment != nil:
		s.severity = in.Assessment.OverallSeverity
	case in.SeverityScore != nil:
		s.severity = *in.SeverityScore
	}

	switch {
	case in.Estimate != nil:
		s.costHigh = in.Estimate.GrandTotalHigh
	case in.Assessment != nil:
		s.costHigh = in.Assessment.TotalCostHigh
	case in.CostHigh != nil:
		s.costHigh = *in.CostHigh
	}

	s.fraud = in.FraudIndicators
	s.safety = in.SafetyConcerns
	if in.Assessment != nil {
		if in.Assessment.FraudIndicators != nil {
			s.fraud = in.Assessment.FraudIndicators
		}
		if in.Assessment.SafetyConcerns != nil {
			s.safety = in.Assessment.SafetyConcerns
		}
	}
	return s
}

// Route evaluates every rule in order, then picks the first matching
// resolution tier. Reasons are cumulative. A nil sampler never samples.
func Route(in Input, sample Sampler) Result {
	c := in.Controls
	s := resolve(in)
	var reasons []Reason
	add := func(code ReasonCode, msg string) {
		reasons = append(reasons, Reason{Code: code, Message: msg})
	}

	if in.HumanReviewRequested {
		add(ReasonHumanRequested, "Claimant requested human review.")
	}
	if s.confidence < c.ConfidenceThreshold*100 {
		add(ReasonLowConfidence, fmt.Sprintf("Confidence %.2f < threshold %s.",
			s.confidence/100, num(c.ConfidenceThreshold)))
	}
	if s.severity >= c.SeverityThreshold {
		add(ReasonHighSeverity, fmt.Sprintf("Severity %s >= threshold %s.",
			num(s.severity), num(c.SeverityThreshold)))
	}
	switch {
	case s.costHigh > c.PayoutCapSenior:
		add(ReasonPayoutCapSenior, fmt.Sprintf("Estimate high %s > senior cap %s.",
			money(s.costHigh), money(c.PayoutCapSenior)))
	case s.costHigh > c.PayoutCapAuto:
		add(ReasonPayoutCap, fmt.Sprintf("Estimate high %s > auto cap %s.",
			money(s.costHigh), money(c.PayoutCapAuto)))
	}
	if len(s.fraud) > 0 {
		add(ReasonFraudIndicator, "Fraud indicators detected: "+strings.Join(s.fraud, ", ")+".")
	}
	if len(s.safety) > 0 {
		add(ReasonSafetyConcern, "Safety concerns: "+strings.Join(s.safety, ", ")+".")
	}
	if s.quality != nil && *s.quality < MinQualityScore {
		add(ReasonQualityIssues, fmt.Sprintf("Photo quality score %s%% is below acceptable threshold.", num(*s.quality)))
	}
	if c.DualReviewEnabled {
		add(ReasonDualReviewRequired, "Dual review is enabled - requires second reviewer.")
	}
	if sample != nil && sample() < c.QASampleRate {
		add(ReasonQASample, fmt.Sprintf("Selected for QA review (%s%% sample rate).", num(c.QASampleRate*100)))
	}

	res := Result{Reasons: reasons, RulesSnapshot: c}
	has := res.Has

	switch {
	case slices.ContainsFunc(escalatingReasons, has):
		res.Recommendation = RecommendEscalate
		res.Status = StatusNeedsHuman
		if has(ReasonPayoutCapSenior) {
			res.Status = StatusPendingSenior
		}
	case slices.ContainsFunc(reviewReasons, has):
		res.Recommendation = RecommendReview
		res.Status = StatusNeedsHuman
		if has(ReasonDualReviewRequired) {
			res.Status = StatusNeedsSecondReview
		}
	case has(ReasonQASample):
		res.Recommendation = RecommendReview
		res.Status = StatusQAReview
	case s.costHigh <= c.PayoutCapAuto && s.confidence >= c.ConfidenceThreshold*100 && s.severity < c.SeverityThreshold:
		res.Reasons = append(res.Reasons, Reason{
			Code:    ReasonAutoApprovable,
			Message: "All thresholds passed - eligible for auto-approval.",
		})
		res.Recommendation = RecommendApprove
		res.Status = StatusReadyForApproval
	default:
		res.Recommendation = RecommendReview
		res.Status = StatusNeedsHuman
		res.Reasons = append(res.Reasons, Reason{
			Code:    ReasonMissingEvidence,
			Message: "Routing signals incomplete - manual review required.",
		})
	}
	return res
}

// Escalating reports whether code forces an ESCALATE recommendation.
func Escalating(code ReasonCode) bool {
	return slices.Contains(escalatingReasons, code)
}

var printer = message.NewPrinter(language.English)

func money(v float64) string {
	return "$" + printer.Sprint(number.Decimal(v, number.MaxFractionDigits(2)))
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
