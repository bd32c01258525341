package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/certstate-cli/internal/resilience"
	"github.com/sells-group/certstate-cli/pkg/anthropic"
	anthropicmocks "github.com/sells-group/certstate-cli/pkg/anthropic/mocks"
)

func TestAnthropicCompleter_Complete(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.Model == "claude-sonnet-4-5" &&
			r.MaxTokens == DefaultMaxTokens &&
			len(r.System) == 1 &&
			r.System[0].CacheControl != nil &&
			r.System[0].CacheControl.TTL == anthropic.DefaultCacheTTL &&
			len(r.Messages) == 1 &&
			r.Messages[0].Role == "user" &&
			r.Temperature != nil && *r.Temperature == 0
	})).Return(&anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "text", Text: `{"name":"RoHS"}`}},
		StopReason: "end_turn",
		Usage: anthropic.TokenUsage{
			InputTokens:          1200,
			OutputTokens:         40,
			CacheReadInputTokens: 900,
		},
	}, nil).Once()

	c := NewAnthropicCompleter(client, "")
	resp, err := c.Complete(context.Background(), Request{
		Model:       "claude-sonnet-4-5",
		System:      "rules",
		Messages:    []Message{{Role: "user", Content: "evidence"}},
		CacheSystem: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"RoHS"}`, resp.Text)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 1200, resp.Usage.InputTokens)
	assert.Equal(t, 900, resp.Usage.CacheReadTokens)
}

func TestAnthropicCompleter_UncachedSystem(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return len(r.System) == 1 && r.System[0].CacheControl == nil && r.MaxTokens == 512
	})).Return(&anthropic.MessageResponse{}, nil).Once()

	_, err := NewAnthropicCompleter(client, "").Complete(context.Background(), Request{
		System:    "rules",
		MaxTokens: 512,
	})
	require.NoError(t, err)
}

func TestAnthropicCompleter_Error(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()

	_, err := NewAnthropicCompleter(client, "").Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm: anthropic complete")
}

func openAIServer(t *testing.T, handler http.HandlerFunc) *OpenAICompleter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAICompleter("test-key", srv.URL+"/v1")
}

func TestOpenAICompleter_Complete(t *testing.T) {
	c := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body["model"])
		assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
		msgs, _ := body["messages"].([]any)
		assert.Len(t, msgs, 2)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-1",
			"model": "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": `{"region":"EU/EEA"}`},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{
				"prompt_tokens":         300,
				"completion_tokens":     12,
				"total_tokens":          312,
				"prompt_tokens_details": map[string]any{"cached_tokens": 128},
			},
		})
	})

	resp, err := c.Complete(context.Background(), Request{
		Model:    "gpt-4o",
		System:   "rules",
		Messages: []Message{{Role: "user", Content: "evidence"}},
		JSONMode: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"region":"EU/EEA"}`, resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 300, resp.Usage.InputTokens)
	assert.Equal(t, 12, resp.Usage.OutputTokens)
	assert.Equal(t, 128, resp.Usage.CacheReadTokens)
}

func TestOpenAICompleter_TransientStatus(t *testing.T) {
	c := openAIServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	})

	_, err := c.Complete(context.Background(), Request{Model: "gpt-4o"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestOpenAICompleter_NoChoices(t *testing.T) {
	c := openAIServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	})

	_, err := c.Complete(context.Background(), Request{Model: "gpt-4o"})
	assert.ErrorContains(t, err, "no choices")
}

func TestRateLimited(t *testing.T) {
	var calls int
	next := CompleterFunc(func(context.Context, Request) (*Response, error) {
		calls++
		return &Response{Text: "{}"}, nil
	})

	rl := NewRateLimited(next, 0)
	for range 5 {
		_, err := rl.Complete(context.Background(), Request{})
		require.NoError(t, err)
	}
	assert.Equal(t, 5, calls)

	slow := NewRateLimited(next, 0.001)
	_, err := slow.Complete(context.Background(), Request{})
	require.NoError(t, err, "burst of one passes immediately")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = slow.Complete(ctx, Request{})
	assert.Error(t, err)
	assert.Equal(t, 6, calls)
}

func TestBreaker(t *testing.T) {
	var calls int
	next := CompleterFunc(func(ctx context.Context, _ Request) (*Response, error) {
		calls++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("503")
	})
	b := NewBreaker(next, "test", resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for range 3 {
		_, _ = b.Complete(cancelled, Request{})
	}
	assert.Equal(t, resilience.CircuitClosed, b.State(), "cancellations do not trip")

	for range 2 {
		_, _ = b.Complete(context.Background(), Request{})
	}
	assert.Equal(t, resilience.CircuitOpen, b.State())

	_, err := b.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 5, calls)
}
