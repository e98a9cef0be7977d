package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageResponse_ToolInput(t *testing.T) {
	t.Parallel()

	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "thinking "},
		{Type: "tool_use", Name: "other", Input: json.RawMessage(`{"x":1}`)},
		{Type: "tool_use", Name: "report_damage", Input: json.RawMessage(`{"parts":[]}`)},
		{Type: "text", Text: "done"},
	}}

	in, ok := resp.ToolInput("report_damage")
	require.True(t, ok)
	assert.JSONEq(t, `{"parts":[]}`, string(in))

	_, ok = resp.ToolInput("missing")
	assert.False(t, ok)
	assert.Equal(t, "thinking done", resp.Text())
}

func TestTokenUsage_EstimateCost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		usage TokenUsage
		model string
		want  float64
	}{
		{"haiku input+output", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, "claude-haiku-4-5-20251001", 4.80},
		{"sonnet cache read", TokenUsage{CacheReadInputTokens: 1_000_000}, "claude-sonnet-4-5-20250929", 0.30},
		{"sonnet cache write", TokenUsage{CacheCreationInputTokens: 1_000_000}, "claude-sonnet-4-5-20250929", 3.75},
		{"unknown model", TokenUsage{InputTokens: 1_000_000}, "gpt-9", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, tt.usage.EstimateCost(tt.model), 1e-9)
		})
	}
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	apiErr := &sdk.Error{
		StatusCode: 429,
		Request:    httptest.NewRequest(http.MethodPost, "/v1/messages", nil),
		Response:   &http.Response{StatusCode: 429},
	}
	code, ok := StatusCode(eris.Wrap(apiErr, "anthropic: create message"))
	assert.True(t, ok)
	assert.Equal(t, 429, code)

	code, ok = StatusCode(fmt.Errorf("outer: %w", apiErr))
	assert.True(t, ok)
	assert.Equal(t, 429, code)

	_, ok = StatusCode(errors.New("dial tcp: refused"))
	assert.False(t, ok)
	_, ok = StatusCode(nil)
	assert.False(t, ok)
}

func TestSystemBlocks(t *testing.T) {
	t.Parallel()

	plain := SystemBlocks("prompt", false)
	require.Len(t, plain, 1)
	assert.Nil(t, plain[0].CacheControl)

	cached := SystemBlocks("prompt", true)
	require.Len(t, cached, 1)
	require.NotNil(t, cached[0].CacheControl)
	assert.Equal(t, "5m", cached[0].CacheControl.TTL)

	hour := BuildCachedSystemBlocks("prompt", "1h")
	assert.Equal(t, "1h", hour[0].CacheControl.TTL)
}

func TestToSDKMessages_ImagesBeforeText(t *testing.T) {
	t.Parallel()

	out := toSDKMessages([]Message{
		{Role: "user", Content: "assess", Images: []Image{
			{MediaType: "image/jpeg", Data: "AAAA"},
			{MediaType: "image/png", Data: "BBBB"},
		}},
		{Role: "assistant", Content: "ok"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, sdk.MessageParamRoleUser, out[0].Role)
	require.Len(t, out[0].Content, 3)
	assert.NotNil(t, out[0].Content[0].OfImage)
	assert.NotNil(t, out[0].Content[1].OfImage)
	require.NotNil(t, out[0].Content[2].OfText)
	assert.Equal(t, "assess", out[0].Content[2].OfText.Text)
	assert.Equal(t, sdk.MessageParamRoleAssistant, out[1].Role)
}

func TestToSDKTools(t *testing.T) {
	t.Parallel()

	out := toSDKTools([]Tool{
		{Name: "report_quality", Description: "Report photo quality", Properties: map[string]any{"score": map[string]any{"type": "number"}}, Required: []string{"score"}},
		{Name: "bare"},
	})
	require.Len(t, out, 2)
	require.NotNil(t, out[0].OfTool)
	assert.Equal(t, "report_quality", out[0].OfTool.Name)
	assert.Equal(t, "Report photo quality", out[0].OfTool.Description.Value)
	assert.Equal(t, []string{"score"}, out[0].OfTool.InputSchema.Required)
	assert.False(t, out[1].OfTool.Description.Valid())
}
