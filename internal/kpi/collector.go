// Package kpi computes claim-handling KPIs from the audit log and the
// claims table, and alerts when they drift past configured thresholds.
package kpi

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/model"
	"github.com/sells-group/claims-router/internal/routing"
	"github.com/sells-group/claims-router/internal/store"
)

// Timeframe selects the KPI window.
type Timeframe string

const (
	Timeframe24h Timeframe = "24h"
	Timeframe7d  Timeframe = "7d"
	TimeframeAll Timeframe = "all"
)

// ParseTimeframe validates s. An empty string means 24h.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case "":
		return Timeframe24h, nil
	case Timeframe24h, Timeframe7d, TimeframeAll:
		return Timeframe(s), nil
	}
	return "", eris.Errorf("kpi: unknown timeframe %q (want 24h, 7d or all)", s)
}

// Cutoff returns the start of the window, zero for all.
func (t Timeframe) Cutoff(now time.Time) time.Time {
	switch t {
	case Timeframe24h:
		return now.Add(-24 * time.Hour)
	case Timeframe7d:
		return now.Add(-7 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}

// QueueAgingAfter is how long a claim may wait in a human queue before it
// counts as aging.
const QueueAgingAfter = 24 * time.Hour

// Snapshot is one KPI computation. Medians are nil when there is no sample.
type Snapshot struct {
	Timeframe Timeframe `json:"timeframe"`

	MedianUploadToAssessmentSecs   *float64 `json:"median_upload_to_assessment_secs"`
	MedianUploadToFirstHumanSecs   *float64 `json:"median_upload_to_first_human_secs"`
	MedianFirstHumanToApprovalSecs *float64 `json:"median_first_human_to_approval_secs"`

	RetakePercentage float64 `json:"retake_percentage"`
	QAPercentage     float64 `json:"qa_percentage"`
	QAPassRate       float64 `json:"qa_pass_rate"`

	QueueAgingNeedsHuman int `json:"queue_aging_needs_human"`
	QueueAgingQAReview   int `json:"queue_aging_qa_review"`

	TotalClaims    int `json:"total_claims"`
	TotalApproved  int `json:"total_approved"`
	TotalEscalated int `json:"total_escalated"`
	TotalPending   int `json:"total_pending"`

	EventCount  int       `json:"event_count"`
	CollectedAt time.Time `json:"collected_at"`
}

// Store is what the collector reads.
type Store interface {
	ListClaims(ctx context.Context, filter store.ClaimFilter) ([]model.Claim, error)
	ListAuditEvents(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
}

// maxClaims bounds the claims read for status totals.
const maxClaims = 10000

// Collector gathers KPIs from the store.
type Collector struct {
	store Store
	now   func() time.Time
}

// NewCollector creates a new KPI collector.
func NewCollector(st Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect computes a snapshot over the timeframe. Events and claims are
// read concurrently.
func (c *Collector) Collect(ctx context.Context, tf Timeframe) (*Snapshot, error) {
	now := c.now().UTC()
	cutoff := tf.Cutoff(now)

	var (
		events []audit.Event
		claims []model.Claim
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = c.store.ListAuditEvents(gctx, audit.Filter{Since: cutoff})
		return eris.Wrap(err, "kpi: list audit events")
	})
	g.Go(func() error {
		var err error
		claims, err = c.store.ListClaims(gctx, store.ClaimFilter{Since: cutoff, Limit: maxClaims})
		return eris.Wrap(err, "kpi: list claims")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := compute(events, now)
	snap.Timeframe = tf
	snap.CollectedAt = now
	for _, cl := range claims {
		snap.TotalClaims++
		switch cl.Status {
		case model.ClaimStatusApproved:
			snap.TotalApproved++
		case model.ClaimStatusEscalated:
			snap.TotalEscalated++
		default:
			snap.TotalPending++
		}
	}
	return snap, nil
}

func isHuman(t audit.ActorType) bool {
	switch t {
	case audit.ActorAdjuster, audit.ActorSeniorAdjuster, audit.ActorQAReviewer, audit.ActorManager:
		return true
	}
	return false
}

func isApproval(t audit.EventType) bool {
	return t == audit.EventAdjusterApprove || t == audit.EventSeniorApprove
}

// compute derives the event-based KPIs. events must be in log order.
func compute(events []audit.Event, now time.Time) *Snapshot {
	byClaim := make(map[string][]audit.Event)
	var order []string
	for _, e := range events {
		if e.ClaimID == "" {
			continue
		}
		if _, ok := byClaim[e.ClaimID]; !ok {
			order = append(order, e.ClaimID)
		}
		byClaim[e.ClaimID] = append(byClaim[e.ClaimID], e)
	}

	var toAssessment, toFirstHuman, humanToApproval []float64
	var retakes, qa, qaPassed int
	snap := &Snapshot{EventCount: len(events)}

	for _, id := range order {
		evs := byClaim[id]
		upload := find(evs, func(e audit.Event) bool { return e.EventType == audit.EventPhotoUploaded })
		assessed := find(evs, func(e audit.Event) bool { return e.EventType == audit.EventAIDamageComplete })
		human := find(evs, func(e audit.Event) bool { return isHuman(e.ActorType) })
		approved := find(evs, func(e audit.Event) bool { return isApproval(e.EventType) })

		if upload != nil && assessed != nil {
			toAssessment = append(toAssessment, seconds(upload, assessed))
		}
		if upload != nil && human != nil {
			toFirstHuman = append(toFirstHuman, seconds(upload, human))
		}
		if human != nil && approved != nil {
			humanToApproval = append(humanToApproval, seconds(human, approved))
		}
		if find(evs, func(e audit.Event) bool { return e.EventType == audit.EventRetakeRequested }) != nil {
			retakes++
		}
		if find(evs, func(e audit.Event) bool { return e.EventType == audit.EventQASampled }) != nil {
			qa++
		}
		if done := find(evs, func(e audit.Event) bool { return e.EventType == audit.EventQACompleted }); done != nil && qaPassedPayload(done) {
			qaPassed++
		}

		if approved != nil {
			continue
		}
		last := findLast(evs, func(e audit.Event) bool { return e.EventType == audit.EventRoutingDecision })
		if last == nil || now.Sub(last.Timestamp) <= QueueAgingAfter {
			continue
		}
		switch routingStatus(last) {
		case routing.StatusNeedsHuman, routing.StatusNeedsSecondReview:
			snap.QueueAgingNeedsHuman++
		case routing.StatusQAReview:
			snap.QueueAgingQAReview++
		}
	}

	snap.MedianUploadToAssessmentSecs = median(toAssessment)
	snap.MedianUploadToFirstHumanSecs = median(toFirstHuman)
	snap.MedianFirstHumanToApprovalSecs = median(humanToApproval)
	if n := len(order); n > 0 {
		snap.RetakePercentage = percent(retakes, n)
		snap.QAPercentage = percent(qa, n)
	}
	if qa > 0 {
		snap.QAPassRate = percent(qaPassed, qa)
	}
	return snap
}

func find(evs []audit.Event, fn func(audit.Event) bool) *audit.Event {
	for i := range evs {
		if fn(evs[i]) {
			return &evs[i]
		}
	}
	return nil
}

func findLast(evs []audit.Event, fn func(audit.Event) bool) *audit.Event {
	for i := len(evs) - 1; i >= 0; i-- {
		if fn(evs[i]) {
			return &evs[i]
		}
	}
	return nil
}

func seconds(from, to *audit.Event) float64 {
	return to.Timestamp.Sub(from.Timestamp).Seconds()
}

func percent(n, of int) float64 {
	return float64(n) / float64(of) * 100
}

func median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	m := sorted[mid]
	if len(sorted)%2 == 0 {
		m = (sorted[mid-1] + sorted[mid]) / 2
	}
	return &m
}
