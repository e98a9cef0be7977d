package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageJSON(content []map[string]any) map[string]any {
	return map[string]any{
		"id":          "msg_test_001",
		"type":        "message",
		"role":        "assistant",
		"content":     content,
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": "tool_use",
		"usage": map[string]any{
			"input_tokens":                120,
			"output_tokens":               40,
			"cache_creation_input_tokens": 0,
			"cache_read_input_tokens":     100,
		},
	}
}

func TestSDKClient_CreateMessage_ToolUse(t *testing.T) {
	t.Parallel()

	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageJSON([]map[string]any{ //nolint:errcheck
			{"type": "tool_use", "id": "toolu_1", "name": "report_damage", "input": map[string]any{"parts": []any{}}},
		}))
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		System:    SystemBlocks("You assess vehicle damage.", true),
		Messages: []Message{{
			Role:    "user",
			Content: "Assess these photos.",
			Images:  []Image{{MediaType: "image/jpeg", Data: "AAAA"}},
		}},
		Tools: []Tool{{
			Name:       "report_damage",
			Properties: map[string]any{"parts": map[string]any{"type": "array"}},
			Required:   []string{"parts"},
		}},
		ToolChoice: "report_damage",
	})
	require.NoError(t, err)

	in, ok := resp.ToolInput("report_damage")
	require.True(t, ok)
	assert.JSONEq(t, `{"parts":[]}`, string(in))
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, int64(100), resp.Usage.CacheReadInputTokens)

	choice, _ := body["tool_choice"].(map[string]any)
	assert.Equal(t, "tool", choice["type"])
	assert.Equal(t, "report_damage", choice["name"])
	tools, _ := body["tools"].([]any)
	assert.Len(t, tools, 1)
	system, _ := body["system"].([]any)
	require.Len(t, system, 1)
	assert.Contains(t, system[0], "cache_control")
	msgs, _ := body["messages"].([]any)
	require.Len(t, msgs, 1)
	content := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "image", content[0].(map[string]any)["type"])
	assert.Equal(t, "text", content[1].(map[string]any)["type"])
}

func TestSDKClient_StatusErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusTooManyRequests, http.StatusPaymentRequired, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)) //nolint:errcheck
			}))
			defer ts.Close()

			client := NewClient("test-key", WithBaseURL(ts.URL))
			_, err := client.CreateMessage(context.Background(), MessageRequest{
				Model:     "claude-haiku-4-5-20251001",
				MaxTokens: 16,
				Messages:  []Message{{Role: "user", Content: "hi"}},
			})
			require.Error(t, err)
			code, ok := StatusCode(err)
			require.True(t, ok)
			assert.Equal(t, status, code)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestSDKClient_RateLimitHonorsContext(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageJSON([]map[string]any{{"type": "text", "text": "ok"}})) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL), WithRateLimit(0.01))
	req := MessageRequest{Model: "m", MaxTokens: 16, Messages: []Message{{Role: "user", Content: "hi"}}}

	_, err := client.CreateMessage(context.Background(), req)
	require.NoError(t, err, "first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.CreateMessage(ctx, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter wait")
}

func TestWithRateLimit_DisabledForNonPositive(t *testing.T) {
	t.Parallel()

	var o clientOptions
	WithRateLimit(5)(&o)
	require.NotNil(t, o.limiter)
	assert.Equal(t, 5, o.limiter.Burst())

	WithRateLimit(0)(&o)
	assert.Nil(t, o.limiter)
}
