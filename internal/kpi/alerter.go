package kpi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/claims-router/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertQueueAging AlertType = "queue_aging"
	AlertRetakeRate AlertType = "retake_rate"
	AlertQAPassRate AlertType = "qa_pass_rate"
)

// minRetakeSamples keeps a handful of early claims from tripping the retake
// alert.
const minRetakeSamples = 5

// Alert is a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// A zero threshold disables its check.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	aging := snap.QueueAgingNeedsHuman + snap.QueueAgingQAReview
	if a.cfg.QueueAgingThreshold > 0 && aging >= a.cfg.QueueAgingThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertQueueAging,
			Severity: "high",
			Message: fmt.Sprintf("%d claims waiting more than %s for a human (%d needs human, %d QA review)",
				aging, QueueAgingAfter, snap.QueueAgingNeedsHuman, snap.QueueAgingQAReview),
			Details: map[string]any{
				"needs_human": snap.QueueAgingNeedsHuman,
				"qa_review":   snap.QueueAgingQAReview,
				"threshold":   a.cfg.QueueAgingThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.RetakeRateThreshold > 0 && snap.TotalClaims >= minRetakeSamples &&
		snap.RetakePercentage > a.cfg.RetakeRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRetakeRate,
			Severity: "medium",
			Message: fmt.Sprintf("Retake rate %.1f%% exceeds threshold %.1f%% (%s)",
				snap.RetakePercentage, a.cfg.RetakeRateThreshold, snap.Timeframe),
			Details: map[string]any{
				"retake_percentage": snap.RetakePercentage,
				"threshold":         a.cfg.RetakeRateThreshold,
				"total_claims":      snap.TotalClaims,
			},
			Timestamp: now,
		})
	}

	if a.cfg.QAPassRateFloor > 0 && snap.QAPercentage > 0 && snap.QAPassRate < a.cfg.QAPassRateFloor {
		alerts = append(alerts, Alert{
			Type:     AlertQAPassRate,
			Severity: "high",
			Message: fmt.Sprintf("QA pass rate %.1f%% is below floor %.1f%% (%s)",
				snap.QAPassRate, a.cfg.QAPassRateFloor, snap.Timeframe),
			Details: map[string]any{
				"qa_pass_rate": snap.QAPassRate,
				"floor":        a.cfg.QAPassRateFloor,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL and returns the
// number sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("kpi: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("kpi: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "kpi: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "kpi: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "kpi: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("kpi: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
