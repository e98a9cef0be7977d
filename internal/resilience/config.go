package resilience

import (
	"time"
)

// AgentRetry is the retry policy for one AI stage call. Only transient
// upstream failures are retried; attempts <= 0 keeps the default.
func AgentRetry(attempts int) RetryConfig {
	cfg := DefaultRetryConfig()
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	return cfg
}

// StoreConnectRetry retries the initial database connection with short,
// capped backoff while the server comes up.
func StoreConnectRetry(attempts int) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialBackoff = 500 * time.Millisecond
	cfg.MaxBackoff = 5 * time.Second
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	cfg.OnRetry = RetryLogger("store", "connect")
	return cfg
}

// StageBreakerConfig builds the breaker config shared by the per-stage
// breakers. shouldTrip decides which agent errors count as failures.
func StageBreakerConfig(failureThreshold, resetSecs int, shouldTrip func(error) bool) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetSecs) * time.Second
	}
	cfg.ShouldTrip = shouldTrip
	return cfg
}
