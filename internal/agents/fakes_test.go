package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helixir/osint-research-service/internal/llm"
)

// scriptedClient returns canned completions and records every request.
type scriptedClient struct {
	provider string
	model    string
	replies  []string
	err      error
	requests []llm.Request
}

func (c *scriptedClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	content := "{}"
	if len(c.replies) > 0 {
		content = c.replies[0]
		c.replies = c.replies[1:]
	}
	return &llm.Response{Content: content, Model: c.model, InputTokens: 100, OutputTokens: 20}, nil
}

func (c *scriptedClient) Provider() string { return c.provider }
func (c *scriptedClient) Model() string { return c.model }

func newScripted(replies ...string) *scriptedClient {
	return &scriptedClient{provider: "openai", model: "gpt-4o", replies: replies}
}

func singleRouter(t *testing.T, c *scriptedClient) *Router {
	t.Helper()
	r, err := NewRouter(map[string]llm.Client{c.provider: c}, c.provider, nil)
	require.NoError(t, err)
	return r
}
