package kpi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

// Metrics exports the latest KPI snapshot and agent breaker states as
// Prometheus gauges.
type Metrics struct {
	MedianSeconds   *prometheus.GaugeVec // by interval
	Percentage      *prometheus.GaugeVec // by kpi: retake, qa_sampled, qa_pass
	QueueAging      *prometheus.GaugeVec // by queue
	Claims          *prometheus.GaugeVec // by status
	CircuitState    *prometheus.GaugeVec // 0=closed, 1=half-open, 2=open
	AlertsTotal     *prometheus.CounterVec
	CollectedAtSecs prometheus.Gauge
}

// NewMetrics creates the KPI metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		MedianSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "claims_kpi_median_seconds",
			Help: "Median claim handling interval in seconds over the KPI window",
		}, []string{"interval"}),
		Percentage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "claims_kpi_percentage",
			Help: "Claim KPI percentages over the KPI window",
		}, []string{"kpi"}),
		QueueAging: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "claims_queue_aging",
			Help: "Claims waiting in a human queue longer than 24h",
		}, []string{"queue"}),
		Claims: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "claims_total",
			Help: "Claims by coarse status",
		}, []string{"status"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "claims_agent_circuit_state",
			Help: "AI stage circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"stage"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_kpi_alerts_total",
			Help: "KPI alerts raised by type",
		}, []string{"type"}),
		CollectedAtSecs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "claims_kpi_collected_at_seconds",
			Help: "Unix time of the last KPI collection",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.MedianSeconds, m.Percentage, m.QueueAging, m.Claims,
		m.CircuitState, m.AlertsTotal, m.CollectedAtSecs,
	} {
		if err := reg.Register(c); err != nil {
			return nil, eris.Wrap(err, "kpi: register metrics")
		}
	}
	return m, nil
}

// Observe publishes snap. A nil receiver does nothing. Missing medians are
// removed rather than reported as zero.
func (m *Metrics) Observe(snap *Snapshot) {
	if m == nil || snap == nil {
		return
	}
	medians := map[string]*float64{
		"upload_to_assessment":    snap.MedianUploadToAssessmentSecs,
		"upload_to_first_human":   snap.MedianUploadToFirstHumanSecs,
		"first_human_to_approval": snap.MedianFirstHumanToApprovalSecs,
	}
	for interval, v := range medians {
		if v == nil {
			m.MedianSeconds.DeleteLabelValues(interval)
			continue
		}
		m.MedianSeconds.WithLabelValues(interval).Set(*v)
	}

	m.Percentage.WithLabelValues("retake").Set(snap.RetakePercentage)
	m.Percentage.WithLabelValues("qa_sampled").Set(snap.QAPercentage)
	m.Percentage.WithLabelValues("qa_pass").Set(snap.QAPassRate)

	m.QueueAging.WithLabelValues("needs_human").Set(float64(snap.QueueAgingNeedsHuman))
	m.QueueAging.WithLabelValues("qa_review").Set(float64(snap.QueueAgingQAReview))

	m.Claims.WithLabelValues("approved").Set(float64(snap.TotalApproved))
	m.Claims.WithLabelValues("escalated").Set(float64(snap.TotalEscalated))
	m.Claims.WithLabelValues("pending").Set(float64(snap.TotalPending))

	m.CollectedAtSecs.Set(float64(snap.CollectedAt.Unix()))
}

// ObserveBreakers publishes breaker states keyed by stage.
func (m *Metrics) ObserveBreakers(states map[string]string) {
	if m == nil {
		return
	}
	for stage, state := range states {
		v := 0.0
		switch state {
		case "half-open":
			v = 1
		case "open":
			v = 2
		}
		m.CircuitState.WithLabelValues(stage).Set(v)
	}
}

// AlertsRaised counts alerts by type.
func (m *Metrics) AlertsRaised(alerts []Alert) {
	if m == nil {
		return
	}
	for _, a := range alerts {
		m.AlertsTotal.WithLabelValues(string(a.Type)).Inc()
	}
}
