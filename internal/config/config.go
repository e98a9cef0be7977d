package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/claims-router/internal/routing"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Agent     AgentConfig      `yaml:"agent" mapstructure:"agent"`
	Routing   routing.Controls `yaml:"routing" mapstructure:"routing"`
	Controls  ControlsConfig   `yaml:"controls" mapstructure:"controls"`
	Estimate  EstimateConfig   `yaml:"estimate" mapstructure:"estimate"`
	Reroute   RerouteConfig    `yaml:"reroute" mapstructure:"reroute"`
	Server    ServerConfig     `yaml:"server" mapstructure:"server"`
	Log       LogConfig        `yaml:"log" mapstructure:"log"`

	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
	// ConnectAttempts bounds retries while the database comes up.
	ConnectAttempts int `yaml:"connect_attempts" mapstructure:"connect_attempts"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	QualityModel      string  `yaml:"quality_model" mapstructure:"quality_model"`
	DamageModel       string  `yaml:"damage_model" mapstructure:"damage_model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	PromptCache       bool    `yaml:"prompt_cache" mapstructure:"prompt_cache"`
}

// AgentConfig tunes how the AI stages are called.
type AgentConfig struct {
	TimeoutSecs             int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
	RetryAttempts           int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// Timeout returns the per-call agent timeout.
func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// ControlsConfig configures the controls provider cache.
type ControlsConfig struct {
	CacheTTLSecs int `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// CacheTTL returns the controls cache lifetime.
func (c ControlsConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// EstimateConfig configures the repair estimate builder.
type EstimateConfig struct {
	LaborRate float64 `yaml:"labor_rate" mapstructure:"labor_rate"`
	// PriceTable is an optional YAML file overlaying the built-in prices.
	PriceTable string `yaml:"price_table" mapstructure:"price_table"`
}

// RerouteConfig bounds concurrent batch re-routing.
type RerouteConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures the background KPI alert checker. Alerts are
// only sent when WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	// Timeframe is the KPI window the checker evaluates: 24h, 7d or all.
	Timeframe           string  `yaml:"timeframe" mapstructure:"timeframe"`
	QueueAgingThreshold int     `yaml:"queue_aging_threshold" mapstructure:"queue_aging_threshold"`
	RetakeRateThreshold float64 `yaml:"retake_rate_threshold" mapstructure:"retake_rate_threshold"` // percent
	QAPassRateFloor     float64 `yaml:"qa_pass_rate_floor" mapstructure:"qa_pass_rate_floor"`       // percent
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CLAIMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	def := routing.DefaultControls()
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "claims.db")
	v.SetDefault("store.connect_attempts", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.quality_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.damage_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.requests_per_second", 2.0)
	v.SetDefault("anthropic.prompt_cache", true)
	v.SetDefault("agent.timeout_secs", 60)
	v.SetDefault("agent.circuit_failure_threshold", 5)
	v.SetDefault("agent.circuit_reset_secs", 30)
	v.SetDefault("agent.retry_attempts", 2)
	v.SetDefault("routing.confidence_threshold", def.ConfidenceThreshold)
	v.SetDefault("routing.severity_threshold", def.SeverityThreshold)
	v.SetDefault("routing.payout_cap_senior", def.PayoutCapSenior)
	v.SetDefault("routing.payout_cap_auto", def.PayoutCapAuto)
	v.SetDefault("routing.dual_review_enabled", def.DualReviewEnabled)
	v.SetDefault("routing.qa_sample_rate", def.QASampleRate)
	v.SetDefault("controls.cache_ttl_secs", 30)
	v.SetDefault("estimate.labor_rate", 94.0)
	v.SetDefault("reroute.max_concurrent", 8)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.timeframe", "24h")
	v.SetDefault("monitoring.queue_aging_threshold", 5)
	v.SetDefault("monitoring.retake_rate_threshold", 30.0)
	v.SetDefault("monitoring.qa_pass_rate_floor", 80.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is "serve", "intake"
// (anything that calls the AI agents) or "offline".
func (c *Config) Validate(mode string) error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	if err := c.Routing.Validate(); err != nil {
		return eris.Wrap(err, "config: routing defaults")
	}
	if c.Estimate.LaborRate <= 0 {
		return eris.Errorf("config: estimate.labor_rate must be positive, got %v", c.Estimate.LaborRate)
	}

	switch mode {
	case "offline":
		return nil
	case "intake", "serve":
		if c.Anthropic.Key == "" {
			return eris.New("config: anthropic.key is required (CLAIMS_ANTHROPIC_KEY)")
		}
		if c.Agent.TimeoutSecs <= 0 {
			return eris.New("config: agent.timeout_secs must be positive")
		}
		if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
			return eris.Errorf("config: invalid server.port %d", c.Server.Port)
		}
		return nil
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
