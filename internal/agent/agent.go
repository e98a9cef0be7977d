// Package agent runs the two AI stages of claim intake: the photo quality
// check and the damage assessment. Both force a single tool call so the
// model answers with structured JSON.
package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/claims-router/internal/resilience"
	"github.com/sells-group/claims-router/pkg/anthropic"
)

// Stage names an AI stage.
type Stage string

const (
	StageQuality Stage = "quality"
	StageDamage  Stage = "damage"
)

var (
	// ErrRateLimited is returned when the model provider answers 429.
	ErrRateLimited = eris.New("agent: rate limited")
	// ErrQuotaExceeded is returned when the model provider answers 402.
	ErrQuotaExceeded = eris.New("agent: quota exceeded")
	// ErrInvalidPhoto is returned for photos that cannot be sent to the model.
	ErrInvalidPhoto = eris.New("agent: invalid photo")
)

// StageError is any other failure of an AI stage, including malformed output.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("agent: %s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Photo is a base64-encoded image.
type Photo struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

var mediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// ParsePhoto accepts raw base64 or a data URL. Raw base64 is assumed to be
// JPEG when mediaType is empty.
func ParsePhoto(data, mediaType string) (Photo, error) {
	if rest, ok := strings.CutPrefix(data, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return Photo{}, eris.Wrap(ErrInvalidPhoto, "malformed data url")
		}
		mediaType = strings.TrimSuffix(meta, ";base64")
		data = payload
	}
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	if !mediaTypes[mediaType] {
		return Photo{}, eris.Wrapf(ErrInvalidPhoto, "unsupported media type %q", mediaType)
	}
	if data == "" {
		return Photo{}, eris.Wrap(ErrInvalidPhoto, "empty image")
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return Photo{}, eris.Wrap(ErrInvalidPhoto, "image is not valid base64")
	}
	return Photo{MediaType: mediaType, Data: data}, nil
}

// Config holds the agent settings.
type Config struct {
	QualityModel string
	DamageModel  string
	MaxTokens    int64
	Timeout      time.Duration
	PromptCache  bool
	Retry        resilience.RetryConfig
}

// Call describes one completed model call, for audit metrics.
type Call struct {
	Model     string               `json:"model"`
	Usage     anthropic.TokenUsage `json:"usage"`
	LatencyMs int64                `json:"latency_ms"`
	Attempts  int                  `json:"attempts"`
	CostUSD   float64              `json:"estimated_cost_usd"`
}

// Agents runs the quality and damage stages against one client.
type Agents struct {
	client   anthropic.Client
	cfg      Config
	breakers *resilience.Breakers
	now      func() time.Time
}

// New returns Agents. breakers may be nil.
func New(client anthropic.Client, cfg Config, breakers *resilience.Breakers) *Agents {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if breakers == nil {
		breakers = resilience.NewBreakers(resilience.CircuitBreakerConfig{ShouldTrip: ShouldTrip})
	}
	return &Agents{client: client, cfg: cfg, breakers: breakers, now: time.Now}
}

// ShouldTrip counts a failure against a stage's circuit. Rate limits, quota
// and caller cancellation say nothing about the upstream's health.
func ShouldTrip(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if code, ok := anthropic.StatusCode(err); ok && (code == 429 || code == 402) {
		return false
	}
	return true
}

// invoke sends req through the stage's breaker and retries transient
// failures. It returns the input of the forced tool call.
func (a *Agents) invoke(ctx context.Context, stage Stage, claimID string, req anthropic.MessageRequest) (json.RawMessage, Call, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	call := Call{Model: req.Model}
	retry := a.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("agent", string(stage))
	start := a.now()

	resp, err := resilience.ExecuteVal(ctx, a.breakers.Get(string(stage)), func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			call.Attempts++
			resp, err := a.client.CreateMessage(ctx, req)
			if err != nil {
				if code, ok := anthropic.StatusCode(err); ok && resilience.IsTransientHTTPStatus(code) {
					return nil, resilience.NewTransientError(err, code)
				}
				return nil, err
			}
			return resp, nil
		})
	})
	call.LatencyMs = a.now().Sub(start).Milliseconds()
	if err != nil {
		return nil, call, stageFailure(stage, err)
	}

	call.Usage = resp.Usage
	call.CostUSD = resp.Usage.EstimateCost(req.Model)
	resp.Usage.LogCost(req.Model, string(stage), claimID)

	input, ok := resp.ToolInput(req.ToolChoice)
	if !ok {
		return nil, call, &StageError{Stage: stage, Err: eris.Errorf("no %s tool call in response (stop_reason %s)", req.ToolChoice, resp.StopReason)}
	}
	return input, call, nil
}

func stageFailure(stage Stage, err error) error {
	if code, ok := anthropic.StatusCode(err); ok {
		switch code {
		case 429:
			return eris.Wrapf(ErrRateLimited, "%s stage", stage)
		case 402:
			return eris.Wrapf(ErrQuotaExceeded, "%s stage", stage)
		}
	}
	return &StageError{Stage: stage, Err: err}
}

func (a *Agents) request(model, system, prompt, tool string, schema anthropic.Tool, photo Photo) anthropic.MessageRequest {
	return anthropic.MessageRequest{
		Model:     model,
		MaxTokens: a.cfg.MaxTokens,
		System:    anthropic.SystemBlocks(system, a.cfg.PromptCache),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: prompt,
			Images:  []anthropic.Image{{MediaType: photo.MediaType, Data: photo.Data}},
		}},
		Tools:      []anthropic.Tool{schema},
		ToolChoice: tool,
	}
}
