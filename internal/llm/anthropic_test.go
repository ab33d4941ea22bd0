package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/osint-research-service/internal/domain"
)

// Compile-time interface check.
var _ Client = (*AnthropicProvider)(nil)

// newAnthropicTestServer creates an httptest server that responds with the given handler.
func newAnthropicTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// newAnthropicTestProvider creates an AnthropicProvider pointing at the given test server URL.
func newAnthropicTestProvider(baseURL string) *AnthropicProvider {
	cfg := AnthropicConfig{
		APIKey:  "test-api-key",
		Model:   "claude-sonnet-4-5",
		BaseURL: baseURL,
	}
	p := NewAnthropicProvider(cfg, 0.7, 10*time.Second, 2)
	p.retry.delay = 10 * time.Millisecond // Fast retries for tests.
	return p
}

func anthropicTextResponse(text string) messagesResponse {
	return messagesResponse{
		ID:         "msg_01",
		Type:       "message",
		Role:       "assistant",
		Content:    []contentBlock{{Type: "text", Text: text}},
		Model:      "claude-sonnet-4-5-20250929",
		StopReason: "end_turn",
		Usage:      anthropicUsage{InputTokens: 210, OutputTokens: 80},
	}
}

func TestAnthropicProvider_Complete(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, r *http.Request) {
		// Verify request method and path.
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)

		// Verify headers.
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		defer r.Body.Close()

		var reqBody messagesRequest
		require.NoError(t, json.Unmarshal(body, &reqBody))
		assert.Equal(t, "claude-sonnet-4-5", reqBody.Model)
		assert.Equal(t, defaultAnthropicMaxTokens, reqBody.MaxTokens)
		assert.Contains(t, reqBody.System, "Assess the round.")
		assert.Contains(t, reqBody.System, jsonInstruction)
		require.Len(t, reqBody.Messages, 1)
		assert.Equal(t, "user", reqBody.Messages[0].Role)
		assert.Equal(t, "Results: ...", reqBody.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(anthropicTextResponse(`{"summary": "new leads"}`)))
	}

	srv := newAnthropicTestServer(t, handler)
	provider := newAnthropicTestProvider(srv.URL)

	resp, err := provider.Complete(context.Background(), Request{
		System: "Assess the round.",
		User:   "Results: ...",
		JSON:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"summary": "new leads"}`, resp.Content)
	assert.Equal(t, "claude-sonnet-4-5-20250929", resp.Model)
	assert.Equal(t, 210, resp.InputTokens)
	assert.Equal(t, 80, resp.OutputTokens)
}

func TestAnthropicProvider_Complete_APIError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		statusCode  int
		body        string
		wantCalls   int32
		wantType    string
		unavailable bool
	}{
		{
			name:       "invalid request is permanent",
			statusCode: http.StatusBadRequest,
			body:       `{"type": "error", "error": {"type": "invalid_request_error", "message": "max_tokens too large"}}`,
			wantCalls:  1,
			wantType:   "invalid_request_error",
		},
		{
			name:        "overloaded is retried",
			statusCode:  529,
			body:        `{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`,
			wantCalls:   3,
			wantType:    "overloaded_error",
			unavailable: true,
		},
		{
			name:        "rate limited is retried",
			statusCode:  http.StatusTooManyRequests,
			body:        `{"type": "error", "error": {"type": "rate_limit_error", "message": "slow down"}}`,
			wantCalls:   3,
			wantType:    "rate_limit_error",
			unavailable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := newAnthropicTestProvider(srv.URL).Complete(context.Background(), Request{User: "hi"})
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, "anthropic", apiErr.Provider)
			assert.Equal(t, tt.wantType, apiErr.Type)
			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.Equal(t, tt.unavailable, errors.Is(err, domain.ErrServiceUnavailable))
		})
	}
}

func TestAnthropicProvider_Complete_EmptyContentBlocks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content []contentBlock
		wantErr string
	}{
		{name: "no blocks", content: nil, wantErr: "no content blocks"},
		{name: "only tool use", content: []contentBlock{{Type: "tool_use"}}, wantErr: "no text content blocks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				resp := anthropicTextResponse("")
				resp.Content = tt.content
				require.NoError(t, json.NewEncoder(w).Encode(resp))
			})

			_, err := newAnthropicTestProvider(srv.URL).Complete(context.Background(), Request{User: "hi"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAnthropicProvider_Complete_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	provider := newAnthropicTestProvider(srv.URL)
	provider.retry.delay = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := provider.Complete(ctx, Request{User: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "context cancelled during retry wait")
}

func TestAnthropicProvider_Complete_RetryThenSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(anthropicTextResponse("done")))
	})

	resp, err := newAnthropicTestProvider(srv.URL).Complete(context.Background(), Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAnthropicProvider_Model(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		model string
		want  string
	}{
		{name: "configured model", model: "claude-opus-4-1", want: "claude-opus-4-1"},
		{name: "default model", model: "", want: defaultAnthropicModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewAnthropicProvider(AnthropicConfig{Model: tt.model}, 0, time.Second, 0)
			assert.Equal(t, tt.want, p.Model())
			assert.Equal(t, "anthropic", p.Provider())
		})
	}
}
