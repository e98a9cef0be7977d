// Package intake creates claims and runs submitted photos through the AI
// stages, the estimate builder and the routing engine.
package intake

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/claims-router/internal/agent"
	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/estimate"
	"github.com/sells-group/claims-router/internal/model"
	"github.com/sells-group/claims-router/internal/routing"
	"github.com/sells-group/claims-router/internal/store"
)

// Stage values reported in an Outcome.
const (
	StageQuality  = "quality"
	StageComplete = "complete"
)

// ErrNotRoutable is returned when re-routing a claim that has no assessment
// or is already approved.
var ErrNotRoutable = eris.New("intake: claim cannot be routed")

// Store is the persistence the pipeline needs.
type Store interface {
	CreateClaim(ctx context.Context, c *model.Claim) error
	GetClaim(ctx context.Context, id string) (*model.Claim, error)
	UpdateClaim(ctx context.Context, c *model.Claim) error
	SaveEstimate(ctx context.Context, e *model.Estimate) error
	LatestEstimate(ctx context.Context, claimID string) (*model.Estimate, error)
}

// Assessor runs the AI stages.
type Assessor interface {
	AssessQuality(ctx context.Context, claimID string, photo agent.Photo) (*agent.QualityReport, error)
	AssessDamage(ctx context.Context, claimID string, photo agent.Photo) (*agent.DamageReport, error)
}

// ControlsSource returns the routing controls in effect.
type ControlsSource interface {
	Current(ctx context.Context) (routing.Controls, error)
}

// Outcome is the result of processing one photo.
type Outcome struct {
	Stage    string                  `json:"stage"`
	Message  string                  `json:"message"`
	Claim    *model.Claim            `json:"claim"`
	Quality  *model.QualityResult    `json:"quality_result,omitempty"`
	Damage   *model.DamageAssessment `json:"damage_result,omitempty"`
	Estimate *model.Estimate         `json:"estimate,omitempty"`
	Routing  routing.Result          `json:"routing"`
}

// Pipeline wires the intake stages together.
type Pipeline struct {
	store     Store
	agents    Assessor
	controls  ControlsSource
	estimator *estimate.Builder
	log       *audit.Logger

	now     func() time.Time
	newID   func() string
	sampler func() routing.Sampler
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the clock used for claim timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDFunc overrides claim and estimate id generation.
func WithIDFunc(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// WithSampler pins the QA sampler. By default every routing call gets a
// freshly seeded one.
func WithSampler(s routing.Sampler) Option {
	return func(p *Pipeline) { p.sampler = func() routing.Sampler { return s } }
}

// New returns a Pipeline.
func New(s Store, agents Assessor, controls ControlsSource, estimator *estimate.Builder, log *audit.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     s,
		agents:    agents,
		controls:  controls,
		estimator: estimator,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
		sampler:   routing.NewRandSampler,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// CreateClaim validates intake input and stores a pending claim. A human
// review request can only be made here.
func (p *Pipeline) CreateClaim(ctx context.Context, in model.ClaimInput) (*model.Claim, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	c := model.NewClaim(p.newID(), in, p.now().UTC())
	if err := p.store.CreateClaim(ctx, c); err != nil {
		return nil, eris.Wrap(err, "intake: create claim")
	}

	p.log.Record(ctx, audit.Entry{
		ClaimID:   c.ID,
		EventType: audit.EventClaimCreated,
		ActorType: audit.ActorClaimant,
		After:     c,
		Payload: map[string]any{
			"policy_number":     c.PolicyNumber,
			"intake_preference": c.IntakePreference,
		},
	})
	if c.HumanReviewRequested {
		p.log.Record(ctx, audit.Entry{
			ClaimID:   c.ID,
			EventType: audit.EventHumanReviewRequested,
			ActorType: audit.ActorClaimant,
			Payload:   map[string]any{"reason": c.HumanReviewReason},
		})
	}
	zap.L().Info("intake: claim created",
		zap.String("claim_id", c.ID),
		zap.Bool("human_review_requested", c.HumanReviewRequested),
	)
	return c, nil
}

// Process runs one photo through quality, damage, estimate and routing.
// A rejected photo is a normal outcome with Stage "quality". Agent failures
// leave the claim in processing and return the agent's error.
func (p *Pipeline) Process(ctx context.Context, claimID string, photo agent.Photo) (*Outcome, error) {
	log := zap.L().With(zap.String("claim_id", claimID))

	c, err := p.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, eris.Wrap(err, "intake: load claim")
	}
	if c.Status, err = c.Status.Transition(model.ClaimStatusProcessing); err != nil {
		return nil, err
	}
	c.UpdatedAt = p.now().UTC()
	if err := p.store.UpdateClaim(ctx, c); err != nil {
		return nil, eris.Wrap(err, "intake: mark processing")
	}
	p.log.Record(ctx, audit.Entry{
		ClaimID:   c.ID,
		EventType: audit.EventPhotoUploaded,
		ActorType: audit.ActorClaimant,
		Payload:   map[string]any{"media_type": photo.MediaType, "base64_length": len(photo.Data)},
	})

	// Quality.
	qr, err := p.agents.AssessQuality(ctx, c.ID, photo)
	if err != nil {
		log.Error("intake: quality stage failed", zap.Error(err))
		return nil, err
	}
	quality := qr.Result
	p.log.Record(ctx, audit.Entry{
		ClaimID:   c.ID,
		EventType: audit.EventAIQualityComplete,
		ActorType: audit.ActorAIQuality,
		Model:     &audit.Model{Provider: "anthropic", Name: qr.Call.Model},
		Metrics:   qr.Call,
		Decision:  map[string]any{"acceptable": quality.Acceptable, "score": quality.Score},
		Payload:   quality,
	})
	c.QualityScore = &quality.Score
	c.QualityIssues = quality.Issues

	controls, err := p.controls.Current(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "intake: load controls")
	}

	if !quality.Acceptable {
		res := routing.RetakeResult(quality.Guidance, controls)
		p.applyRouting(c, res)
		if err := p.store.UpdateClaim(ctx, c); err != nil {
			return nil, eris.Wrap(err, "intake: save retake request")
		}
		p.log.Record(ctx, audit.Entry{
			ClaimID:   c.ID,
			EventType: audit.EventRetakeRequested,
			ActorType: audit.ActorSystem,
			Decision:  map[string]any{"status": res.Status, "recommendation": res.Recommendation},
			Payload:   map[string]any{"guidance": quality.Guidance, "issues": quality.Issues},
		})
		log.Info("intake: retake requested", zap.Float64("quality_score", quality.Score))
		return &Outcome{
			Stage:   StageQuality,
			Message: "Photo quality check failed. Please retake the photo following the guidance provided.",
			Claim:   c,
			Quality: &quality,
			Routing: res,
		}, nil
	}

	// Damage.
	dr, err := p.agents.AssessDamage(ctx, c.ID, photo)
	if err != nil {
		log.Error("intake: damage stage failed", zap.Error(err))
		return nil, err
	}
	assessment := dr.Assessment
	p.log.Record(ctx, audit.Entry{
		ClaimID:   c.ID,
		EventType: audit.EventAIDamageComplete,
		ActorType: audit.ActorAIDamage,
		Model:     &audit.Model{Provider: "anthropic", Name: dr.Call.Model},
		Metrics:   dr.Call,
		Decision:  map[string]any{"recommended_action": assessment.RecommendedAction},
		Payload:   assessment,
	})

	// Estimate.
	est := p.estimator.Build(assessment.DamagedParts)
	est.ID = p.newID()
	est.ClaimID = c.ID
	if err := p.store.SaveEstimate(ctx, est); err != nil {
		return nil, eris.Wrap(err, "intake: save estimate")
	}
	p.log.Record(ctx, audit.Entry{
		ClaimID:   c.ID,
		EventType: audit.EventEstimateCreated,
		ActorType: audit.ActorSystem,
		After:     est,
		Payload: map[string]any{
			"line_items":       len(est.LineItems),
			"grand_total_low":  est.GrandTotalLow,
			"grand_total_high": est.GrandTotalHigh,
		},
	})

	// Routing.
	applyAssessment(c, &assessment)
	res := routing.Route(routing.InputFromClaim(c, est, controls), p.sampler())
	p.applyRouting(c, res)
	if c.Status, err = c.Status.Transition(routing.LifecycleStatus(res.Recommendation)); err != nil {
		return nil, err
	}
	if err := p.store.UpdateClaim(ctx, c); err != nil {
		return nil, eris.Wrap(err, "intake: save assessment")
	}
	p.recordRouting(ctx, c.ID, res, "intake")

	log.Info("intake: claim routed",
		zap.String("recommendation", string(res.Recommendation)),
		zap.String("routing_status", string(res.Status)),
		zap.Int("reasons", len(res.Reasons)),
	)
	return &Outcome{
		Stage:    StageComplete,
		Message:  "Assessment complete. Recommended action: " + res.Recommendation.Label(),
		Claim:    c,
		Quality:  &quality,
		Damage:   &assessment,
		Estimate: est,
		Routing:  res,
	}, nil
}

// Reroute routes a stored claim again with the controls in effect now. The
// lifecycle only moves when the new result escalates a claim under review.
func (p *Pipeline) Reroute(ctx context.Context, claimID string) (*model.Claim, routing.Result, error) {
	c, err := p.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, routing.Result{}, eris.Wrap(err, "intake: load claim")
	}
	if c.DamageAssessment == nil || c.Status == model.ClaimStatusApproved {
		return nil, routing.Result{}, eris.Wrapf(ErrNotRoutable, "claim %s is %s", c.ID, c.Status)
	}

	est, err := p.store.LatestEstimate(ctx, c.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, routing.Result{}, eris.Wrap(err, "intake: load estimate")
	}
	controls, err := p.controls.Current(ctx)
	if err != nil {
		return nil, routing.Result{}, eris.Wrap(err, "intake: load controls")
	}

	res := routing.Route(routing.InputFromClaim(c, est, controls), p.sampler())
	p.applyRouting(c, res)
	if next := routing.LifecycleStatus(res.Recommendation); c.Status.CanTransition(next) {
		c.Status = next
	}
	if err := p.store.UpdateClaim(ctx, c); err != nil {
		return nil, routing.Result{}, eris.Wrap(err, "intake: save reroute")
	}
	p.recordRouting(ctx, c.ID, res, "reroute")
	return c, res, nil
}

func (p *Pipeline) applyRouting(c *model.Claim, res routing.Result) {
	c.RoutingStatus = string(res.Status)
	c.RoutingReasons = res.PersistedReasons()
	c.RoutingSnapshot = res.RulesSnapshot.JSON()
	c.UpdatedAt = p.now().UTC()
}

func (p *Pipeline) recordRouting(ctx context.Context, claimID string, res routing.Result, trigger string) {
	p.log.Record(ctx, audit.Entry{
		ClaimID:   claimID,
		EventType: audit.EventRoutingDecision,
		ActorType: audit.ActorSystem,
		Decision: map[string]any{
			"recommendation": res.Recommendation,
			"status":         res.Status,
			"codes":          res.Codes(),
		},
		Payload: map[string]any{"trigger": trigger, "result": res},
	})
	if res.Has(routing.ReasonQASample) {
		p.log.Record(ctx, audit.Entry{
			ClaimID:   claimID,
			EventType: audit.EventQASampled,
			ActorType: audit.ActorSystem,
			Payload:   map[string]any{"qa_sample_rate": res.RulesSnapshot.QASampleRate},
		})
	}
}

// applyAssessment copies the damage agent output onto the claim fields the
// routing engine and the queues read.
func applyAssessment(c *model.Claim, a *model.DamageAssessment) {
	c.DamageAssessment = a
	c.Summary = a.Summary
	c.AIRecommendation = a.RecommendedAction
	c.SeverityScore = &a.OverallSeverity
	c.ConfidenceScore = &a.OverallConfidence
	c.CostLow = &a.TotalCostLow
	c.CostHigh = &a.TotalCostHigh
	c.SafetyConcerns = a.SafetyConcerns
	c.FraudIndicators = a.FraudIndicators
}
