// Package llm provides chat-completion clients for the language models that
// back the research collaborators (planning, analysis, entity matching,
// connection mapping and report narration).
//
// Each client sends one system and one user message and returns the raw
// completion text. Callers that need structured output set Request.JSON and
// decode the content with DecodeJSON.
//
// Example usage:
//
//	client, err := llm.NewClient(llm.FactoryConfig{Provider: "openai", ...})
//	resp, err := client.Complete(ctx, llm.Request{
//		System: "You are an OSINT research planner.",
//		User:   prompt,
//		JSON:   true,
//	})
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Request is a single completion request.
type Request struct {
	// System is the system prompt.
	System string
	// User is the user prompt.
	User string
	// Model overrides the client's default model when non-empty.
	Model string
	// Temperature overrides the client's default temperature when non-nil.
	Temperature *float64
	// MaxTokens overrides the client's default completion budget when positive.
	MaxTokens int
	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// Response is the completion returned by a provider.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client sends completion requests to an LLM provider.
type Client interface {
	// Complete sends req and returns the first completion. Transient provider
	// errors are retried; once retries are exhausted the returned error
	// matches domain.ErrServiceUnavailable.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Provider returns the name of the LLM provider (e.g., "openai", "anthropic").
	Provider() string

	// Model returns the default model identifier.
	Model() string
}

// retryPolicy is the exponential backoff shared by the providers.
type retryPolicy struct {
	maxRetries int
	delay      time.Duration
}

// do calls fn until it succeeds, returns a non-transient error or the retry
// budget is spent. The wait doubles after every attempt.
func (p retryPolicy) do(ctx context.Context, provider string, fn func() (*Response, error)) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.delay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%s: context cancelled during retry wait: %w", provider, ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		if !isTransientError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%s: exhausted %d retries: %w", provider, p.maxRetries, lastErr)
}

// rateLimitedClient waits on a shared limiter before every request.
type rateLimitedClient struct {
	Client
	limiter *rate.Limiter
}

// WithRateLimit wraps c so that requests wait on limiter. A nil limiter
// returns c unchanged.
func WithRateLimit(c Client, limiter *rate.Limiter) Client {
	if limiter == nil {
		return c
	}
	return &rateLimitedClient{Client: c, limiter: limiter}
}

func (c *rateLimitedClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", c.Provider(), err)
	}
	return c.Client.Complete(ctx, req)
}

// DecodeJSON unmarshals the JSON object in content into v. Markdown code
// fences and text around the outermost braces are ignored, since providers
// without a JSON mode often wrap their answer.
func DecodeJSON(content string, v any) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in completion")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to parse completion as JSON: %w", err)
	}
	return nil
}
