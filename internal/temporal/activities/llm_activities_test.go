package activities

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/llm"
	"github.com/helixir/osint-research-service/internal/research"
	"github.com/helixir/osint-research-service/internal/temporal/resilience"
)

// ---------------------------------------------------------------------------
// Test doubles for the research collaborators
// ---------------------------------------------------------------------------

type planFunc func(ctx context.Context, req research.PlanRequest) (*research.Plan, error)

func (f planFunc) Plan(ctx context.Context, req research.PlanRequest) (*research.Plan, error) {
	return f(ctx, req)
}

type analyzeFunc func(ctx context.Context, req research.AnalysisRequest) (*research.Analysis, error)

func (f analyzeFunc) Analyze(ctx context.Context, req research.AnalysisRequest) (*research.Analysis, error) {
	return f(ctx, req)
}

type matchFunc func(ctx context.Context, req research.MatchRequest) (research.MatchDecision, error)

func (f matchFunc) Match(ctx context.Context, req research.MatchRequest) (research.MatchDecision, error) {
	return f(ctx, req)
}

type mapFunc func(ctx context.Context, req research.ConnectionRequest) (*research.ConnectionMap, error)

func (f mapFunc) MapConnections(ctx context.Context, req research.ConnectionRequest) (*research.ConnectionMap, error) {
	return f(ctx, req)
}

type narrateFunc func(ctx context.Context, req research.NarrationRequest) (*research.Narrative, error)

func (f narrateFunc) Narrate(ctx context.Context, req research.NarrationRequest) (*research.Narrative, error) {
	return f(ctx, req)
}

// collaborators holds one fake per LLM-backed capability. Unset fields fail
// the call.
type collaborators struct {
	plan    planFunc
	analyze analyzeFunc
	match   matchFunc
	mapper  mapFunc
	narrate narrateFunc
}

func (c collaborators) activities(opts ...LLMActivitiesOption) *LLMActivities {
	unexpected := errors.New("unexpected call")
	if c.plan == nil {
		c.plan = func(context.Context, research.PlanRequest) (*research.Plan, error) { return nil, unexpected }
	}
	if c.analyze == nil {
		c.analyze = func(context.Context, research.AnalysisRequest) (*research.Analysis, error) { return nil, unexpected }
	}
	if c.match == nil {
		c.match = func(context.Context, research.MatchRequest) (research.MatchDecision, error) {
			return research.MatchDecision{}, unexpected
		}
	}
	if c.mapper == nil {
		c.mapper = func(context.Context, research.ConnectionRequest) (*research.ConnectionMap, error) { return nil, unexpected }
	}
	if c.narrate == nil {
		c.narrate = func(context.Context, research.NarrationRequest) (*research.Narrative, error) { return nil, unexpected }
	}
	return NewLLMActivities(c.plan, c.analyze, c.match, c.mapper, c.narrate, nil, opts...)
}

func applicationErrorType(t *testing.T, err error) *temporal.ApplicationError {
	t.Helper()
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr), "expected ApplicationError, got %T: %v", err, err)
	return appErr
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestLLMActivities_Plan(t *testing.T) {
	t.Run("returns planned queries", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		act := collaborators{
			plan: func(_ context.Context, req research.PlanRequest) (*research.Plan, error) {
				assert.Equal(t, "Jane Doe", req.Subject)
				assert.Equal(t, 1, req.Depth)
				return &research.Plan{Goal: "follow up", Queries: []string{"jane doe lawsuit", "jane doe director"}}, nil
			},
		}.activities()
		env.RegisterActivity(act.Plan)

		result, err := env.ExecuteActivity(act.Plan, research.PlanRequest{
			SessionID: "session-1",
			Subject:   "Jane Doe",
			Depth:     1,
			MaxDepth:  3,
		})
		require.NoError(t, err)

		var plan research.Plan
		require.NoError(t, result.Get(&plan))
		assert.Equal(t, []string{"jane doe lawsuit", "jane doe director"}, plan.Queries)
		assert.Equal(t, "follow up", plan.Goal)
	})

	t.Run("quota error is non-retryable", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		act := collaborators{
			plan: func(context.Context, research.PlanRequest) (*research.Plan, error) {
				return nil, &llm.APIError{Provider: "openai", StatusCode: 429, Code: "insufficient_quota", Message: "quota exceeded"}
			},
		}.activities()
		env.RegisterActivity(act.Plan)

		_, err := env.ExecuteActivity(act.Plan, research.PlanRequest{Subject: "Jane Doe"})
		require.Error(t, err)

		appErr := applicationErrorType(t, err)
		assert.Equal(t, resilience.ErrTypeQuota, appErr.Type())
		assert.True(t, appErr.NonRetryable())
	})

	t.Run("provider outage is retryable unavailable", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		act := collaborators{
			plan: func(context.Context, research.PlanRequest) (*research.Plan, error) {
				return nil, &llm.APIError{Provider: "anthropic", StatusCode: 529, Message: "overloaded"}
			},
		}.activities()
		env.RegisterActivity(act.Plan)

		_, err := env.ExecuteActivity(act.Plan, research.PlanRequest{Subject: "Jane Doe"})
		require.Error(t, err)

		appErr := applicationErrorType(t, err)
		assert.Equal(t, resilience.ErrTypeUnavailable, appErr.Type())
		assert.False(t, appErr.NonRetryable())
	})
}

func TestLLMActivities_Analyze(t *testing.T) {
	t.Run("returns analysis", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		act := collaborators{
			analyze: func(_ context.Context, req research.AnalysisRequest) (*research.Analysis, error) {
				require.Len(t, req.Records, 1)
				return &research.Analysis{
					Summary:        "one court record",
					ShouldContinue: true,
					Mentions:       []research.Mention{{Name: "Jane Doe", Kind: research.EntityPerson}},
					Findings: []research.Finding{{
						Category:    research.CategoryRedFlag,
						Severity:    research.SeverityHigh,
						Description: "Defendant in fraud case",
					}},
				}, nil
			},
		}.activities()
		env.RegisterActivity(act.Analyze)

		result, err := env.ExecuteActivity(act.Analyze, research.AnalysisRequest{
			SessionID: "session-1",
			Subject:   "Jane Doe",
			Records:   []research.SearchResultRecord{{Query: "jane doe court"}},
		})
		require.NoError(t, err)

		var analysis research.Analysis
		require.NoError(t, result.Get(&analysis))
		assert.True(t, analysis.ShouldContinue)
		require.Len(t, analysis.Findings, 1)
		assert.Equal(t, research.SeverityHigh, analysis.Findings[0].Severity)
	})

	t.Run("invalid input is permanent", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		act := collaborators{
			analyze: func(context.Context, research.AnalysisRequest) (*research.Analysis, error) {
				return nil, domain.NewValidationError("records", "must not be empty")
			},
		}.activities()
		env.RegisterActivity(act.Analyze)

		_, err := env.ExecuteActivity(act.Analyze, research.AnalysisRequest{Subject: "Jane Doe"})
		require.Error(t, err)

		appErr := applicationErrorType(t, err)
		assert.Equal(t, resilience.ErrTypePermanent, appErr.Type())
		assert.True(t, appErr.NonRetryable())
	})
}

func TestLLMActivities_Match(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestActivityEnvironment()

	act := collaborators{
		match: func(_ context.Context, req research.MatchRequest) (research.MatchDecision, error) {
			assert.Equal(t, "J. Doe", req.Mention.Name)
			return research.Matched("person:jane-doe", "same employer and city"), nil
		},
	}.activities()
	env.RegisterActivity(act.Match)

	result, err := env.ExecuteActivity(act.Match, research.MatchRequest{
		Subject:    "Jane Doe",
		Mention:    research.Mention{Name: "J. Doe", Kind: research.EntityPerson},
		Candidates: []research.Entity{{ID: "person:jane-doe", Name: "Jane Doe", Kind: research.EntityPerson}},
	})
	require.NoError(t, err)

	var decision research.MatchDecision
	require.NoError(t, result.Get(&decision))
	assert.Equal(t, research.OutcomeMatched, decision.Outcome)
	assert.Equal(t, "person:jane-doe", decision.EntityID)
}

func TestLLMActivities_MapConnectionsAndNarrate(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestActivityEnvironment()

	act := collaborators{
		mapper: func(_ context.Context, req research.ConnectionRequest) (*research.ConnectionMap, error) {
			return &research.ConnectionMap{
				SuspiciousPatterns: []research.SuspiciousPattern{{Description: "circular ownership", Severity: research.SeverityMedium}},
			}, nil
		},
		narrate: func(_ context.Context, req research.NarrationRequest) (*research.Narrative, error) {
			return &research.Narrative{ExecutiveSummary: fmt.Sprintf("%s has %d red flags.", req.Subject, len(req.RedFlags))}, nil
		},
	}.activities()
	env.RegisterActivity(act.MapConnections)
	env.RegisterActivity(act.Narrate)

	result, err := env.ExecuteActivity(act.MapConnections, research.ConnectionRequest{Subject: "Jane Doe"})
	require.NoError(t, err)
	var cm research.ConnectionMap
	require.NoError(t, result.Get(&cm))
	require.Len(t, cm.SuspiciousPatterns, 1)
	assert.Equal(t, "circular ownership", cm.SuspiciousPatterns[0].Description)

	result, err = env.ExecuteActivity(act.Narrate, research.NarrationRequest{
		Subject:  "Jane Doe",
		RedFlags: []research.Finding{{Description: "a"}, {Description: "b"}},
	})
	require.NoError(t, err)
	var narrative research.Narrative
	require.NoError(t, result.Get(&narrative))
	assert.Equal(t, "Jane Doe has 2 red flags.", narrative.ExecutiveSummary)
}

func TestLLMActivities_CircuitBreakerOpens(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestActivityEnvironment()

	calls := 0
	breakers := resilience.NewBreakerRegistryWithConfigs(map[string]resilience.BreakerConfig{
		"llm": {ConsecutiveThreshold: 2},
	})
	act := collaborators{
		plan: func(context.Context, research.PlanRequest) (*research.Plan, error) {
			calls++
			return nil, fmt.Errorf("dial tcp: %w", domain.ErrServiceUnavailable)
		},
	}.activities(WithBreakers(breakers))
	env.RegisterActivity(act.Plan)

	for i := 0; i < 3; i++ {
		_, err := env.ExecuteActivity(act.Plan, research.PlanRequest{Subject: "Jane Doe"})
		require.Error(t, err)
	}

	assert.Equal(t, 2, calls, "third call is rejected by the open breaker")
	assert.Equal(t, resilience.CircuitOpen, breakers.State("llm"))
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"api error with type", &llm.APIError{StatusCode: 400, Type: "invalid_request_error"}, "invalid_request_error"},
		{"api error without type", &llm.APIError{StatusCode: 503}, "http_503"},
		{"wrapped api error", fmt.Errorf("plan: %w", &llm.APIError{StatusCode: 500}), "http_500"},
		{"circuit open", fmt.Errorf("llm: %w", resilience.ErrCircuitOpen), "circuit_open"},
		{"other", errors.New("boom"), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorType(tt.err))
		})
	}
}
