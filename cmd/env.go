package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"

	"github.com/sells-group/claims-router/internal/agent"
	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/config"
	"github.com/sells-group/claims-router/internal/controls"
	"github.com/sells-group/claims-router/internal/estimate"
	"github.com/sells-group/claims-router/internal/intake"
	"github.com/sells-group/claims-router/internal/kpi"
	"github.com/sells-group/claims-router/internal/resilience"
	"github.com/sells-group/claims-router/internal/review"
	"github.com/sells-group/claims-router/internal/store"
	anthropicpkg "github.com/sells-group/claims-router/pkg/anthropic"
)

// appEnv holds the store and every service built on it, shared by the
// serve, reroute, controls, audit and kpi commands.
type appEnv struct {
	Store    store.Store
	Audit    *audit.Logger
	Controls *controls.Provider
	Pipeline *intake.Pipeline
	Review   *review.Service
	KPI      *kpi.Collector
	Metrics  *kpi.Metrics
	Registry *prometheus.Registry
	Breakers *resilience.Breakers // nil without agents
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// newEnv wires the services over st. assessor may be nil for commands
// that never run the AI stages.
func newEnv(c *config.Config, st store.Store, assessor intake.Assessor, opts ...intake.Option) (*appEnv, error) {
	prices := estimate.DefaultPriceTable()
	if c.Estimate.PriceTable != "" {
		var err error
		if prices, err = estimate.LoadPriceTable(c.Estimate.PriceTable); err != nil {
			return nil, err
		}
	}

	reg := prometheus.NewRegistry()
	metrics, err := kpi.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	log := audit.NewLogger(st)
	provider := controls.NewProvider(st, log, c.Routing, c.Controls.CacheTTL())
	return &appEnv{
		Store:    st,
		Audit:    log,
		Controls: provider,
		Pipeline: intake.New(st, assessor, provider, estimate.NewBuilder(c.Estimate.LaborRate, prices), log, opts...),
		Review:   review.New(st, log),
		KPI:      kpi.NewCollector(st),
		Metrics:  metrics,
		Registry: reg,
	}, nil
}

// initEnv validates config for mode, opens and migrates the store, and
// builds the environment. Mode "serve" and "intake" also build the agents.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var (
		assessor intake.Assessor
		breakers *resilience.Breakers
	)
	if mode != "offline" {
		var agents *agent.Agents
		agents, breakers = initAgents()
		assessor = agents
	}

	env, err := newEnv(cfg, st, assessor)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	env.Breakers = breakers
	return env, nil
}

// initAgents builds the Anthropic client and the per-stage breakers.
func initAgents() (*agent.Agents, *resilience.Breakers) {
	client := anthropicpkg.NewClient(cfg.Anthropic.Key,
		anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL),
		anthropicpkg.WithRateLimit(cfg.Anthropic.RequestsPerSecond),
	)

	breakers := resilience.NewBreakers(resilience.StageBreakerConfig(
		cfg.Agent.CircuitFailureThreshold, cfg.Agent.CircuitResetSecs, agent.ShouldTrip,
	))

	agents := agent.New(client, agent.Config{
		QualityModel: cfg.Anthropic.QualityModel,
		DamageModel:  cfg.Anthropic.DamageModel,
		MaxTokens:    cfg.Anthropic.MaxTokens,
		Timeout:      cfg.Agent.Timeout(),
		PromptCache:  cfg.Anthropic.PromptCache,
		Retry:        resilience.AgentRetry(cfg.Agent.RetryAttempts),
	}, breakers)
	return agents, breakers
}

// initStore opens the configured backend. Postgres connects with retries
// while the database comes up.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		retry := resilience.StoreConnectRetry(cfg.Store.ConnectAttempts)
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (store.Store, error) {
			st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
				MaxConns: cfg.Store.MaxConns,
				MinConns: cfg.Store.MinConns,
			})
			if err != nil {
				return nil, resilience.NewTransientError(err, 0)
			}
			return st, nil
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
