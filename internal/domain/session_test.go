package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "lowercase", input: "Acme Holdings", expected: "acme holdings"},
		{name: "trim", input: "  john doe  ", expected: "john doe"},
		{name: "collapse spaces", input: "john   doe   lawsuit", expected: "john doe lawsuit"},
		{name: "collapse tabs and newlines", input: "john\t\tdoe\n\nfraud", expected: "john doe fraud"},
		{name: "empty", input: "", expected: ""},
		{name: "only whitespace", input: " \t\n ", expected: ""},
		{name: "unicode preserved", input: "Jürgen MÜLLER", expected: "jürgen müller"},
		{name: "non-breaking space", input: "Jane\u00a0Roe ", expected: "jane roe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeQuery(tt.input))
		})
	}
}

func TestSessionStatus_IsTerminal(t *testing.T) {
	assert.False(t, SessionStatusPending.IsTerminal())
	assert.False(t, SessionStatusRunning.IsTerminal())
	assert.True(t, SessionStatusCompleted.IsTerminal())
	assert.True(t, SessionStatusFailed.IsTerminal())
	assert.True(t, SessionStatusCancelled.IsTerminal())
}

func TestSessionStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		allowed  bool
	}{
		{SessionStatusPending, SessionStatusRunning, true},
		{SessionStatusPending, SessionStatusCompleted, false},
		{SessionStatusRunning, SessionStatusRunning, true},
		{SessionStatusRunning, SessionStatusCompleted, true},
		{SessionStatusRunning, SessionStatusCancelled, true},
		{SessionStatusCompleted, SessionStatusRunning, false},
		{SessionStatusCompleted, SessionStatusCompleted, false},
		{SessionStatusFailed, SessionStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestResearchConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ResearchConfig)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *ResearchConfig) {}},
		{name: "depth too low", mutate: func(c *ResearchConfig) { c.MaxDepth = 0 }, wantErr: "max_depth"},
		{name: "depth too high", mutate: func(c *ResearchConfig) { c.MaxDepth = 11 }, wantErr: "max_depth"},
		{name: "queries too high", mutate: func(c *ResearchConfig) { c.MaxQueriesPerDepth = 21 }, wantErr: "max_queries_per_depth"},
		{name: "concurrency too high", mutate: func(c *ResearchConfig) { c.MaxConcurrentSearches = 6 }, wantErr: "max_concurrent_searches"},
		{name: "stagnation too high", mutate: func(c *ResearchConfig) { c.StagnationCheckIterations = 6 }, wantErr: "stagnation_check_iterations"},
		{name: "timeout not positive", mutate: func(c *ResearchConfig) { c.SearchTimeoutSeconds = -1 }, wantErr: "search_timeout_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultResearchConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestResearchConfig_WithDefaults(t *testing.T) {
	cfg := ResearchConfig{MaxDepth: 2}.WithDefaults()
	assert.Equal(t, 2, cfg.MaxDepth)
	assert.Equal(t, 5, cfg.MaxQueriesPerDepth)
	assert.Equal(t, 5, cfg.MaxConcurrentSearches)
	assert.Equal(t, 2, cfg.StagnationCheckIterations)
	assert.Equal(t, 30*time.Second, cfg.SearchTimeout())
}

func TestSession_Duration(t *testing.T) {
	s := NewSession("Jane Roe", "", ResearchConfig{})
	assert.Equal(t, time.Duration(0), s.Duration())
	assert.True(t, s.IsActive())

	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	s.StartedAt = &start
	s.CompletedAt = &end
	s.Status = SessionStatusCompleted
	assert.Equal(t, 90*time.Second, s.Duration())
	assert.False(t, s.IsActive())
}

func TestErrors_Unwrap(t *testing.T) {
	assert.True(t, errors.Is(NewNotFoundError("session", "x"), ErrNotFound))
	assert.True(t, errors.Is(NewAlreadyExistsError("session", "x"), ErrAlreadyExists))
	assert.True(t, errors.Is(NewRateLimitError("tavily", time.Second), ErrRateLimited))
	assert.True(t, errors.Is(&TransitionError{From: SessionStatusCompleted, To: SessionStatusRunning}, ErrInvalidTransition))

	cause := errors.New("boom")
	apiErr := NewExternalAPIError("openai", 500, "server error", cause)
	assert.True(t, errors.Is(apiErr, cause))
	assert.Contains(t, apiErr.Error(), "status 500")
}
