package kpi

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/claims-router/internal/config"
)

// Checker runs periodic alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	metrics   *Metrics
	breakers  func() map[string]string
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithMetrics publishes every collected snapshot to m.
func WithMetrics(m *Metrics) CheckerOption {
	return func(c *Checker) { c.metrics = m }
}

// WithBreakerStates reports agent circuit states alongside each snapshot.
func WithBreakerStates(fn func() map[string]string) CheckerOption {
	return func(c *Checker) { c.breakers = fn }
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, opts ...CheckerOption) *Checker {
	c := &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	tf, err := ParseTimeframe(c.cfg.Timeframe)
	if err != nil {
		zap.L().Warn("kpi: bad monitoring timeframe, using 24h", zap.Error(err))
		tf = Timeframe24h
	}

	log := zap.L().With(zap.String("component", "kpi.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.String("timeframe", string(tf)),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, tf)
		}
	}
}

// Check runs one collect-evaluate-send cycle and returns the alerts raised.
func (c *Checker) Check(ctx context.Context, tf Timeframe) []Alert {
	log := zap.L().With(zap.String("component", "kpi.checker"))
	snap, err := c.collector.Collect(ctx, tf)
	if err != nil {
		log.Error("kpi: failed to collect", zap.Error(err))
		return nil
	}
	c.metrics.Observe(snap)
	if c.breakers != nil {
		c.metrics.ObserveBreakers(c.breakers())
	}

	alerts := c.alerter.Evaluate(snap)
	c.metrics.AlertsRaised(alerts)
	if len(alerts) == 0 {
		log.Debug("kpi: no alerts triggered")
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("kpi: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
