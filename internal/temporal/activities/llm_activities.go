package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/helixir/osint-research-service/internal/llm"
	"github.com/helixir/osint-research-service/internal/observability"
	"github.com/helixir/osint-research-service/internal/research"
	"github.com/helixir/osint-research-service/internal/temporal/resilience"
)

// llmBreaker is the circuit breaker shared by every model-backed collaborator.
const llmBreaker = "llm"

// LLMActivities provides Temporal activities for the model-backed research
// collaborators: planning, analysis, entity matching, connection mapping and
// narration. Methods on this struct are registered as Temporal activities via
// the worker.
type LLMActivities struct {
	planner  research.Planner
	analyzer research.Analyzer
	matcher  research.Matcher
	mapper   research.ConnectionMapper
	narrator research.Narrator
	breakers *resilience.BreakerRegistry
	metrics  *observability.Metrics
}

// LLMActivitiesOption configures optional LLMActivities dependencies.
type LLMActivitiesOption func(*LLMActivities)

// WithBreakers replaces the default circuit breaker registry.
func WithBreakers(r *resilience.BreakerRegistry) LLMActivitiesOption {
	return func(a *LLMActivities) { a.breakers = r }
}

// NewLLMActivities creates a new LLMActivities instance with the given collaborators.
// The metrics parameter may be nil (metrics recording will be skipped).
func NewLLMActivities(
	planner research.Planner,
	analyzer research.Analyzer,
	matcher research.Matcher,
	mapper research.ConnectionMapper,
	narrator research.Narrator,
	metrics *observability.Metrics,
	opts ...LLMActivitiesOption,
) *LLMActivities {
	a := &LLMActivities{
		planner:  planner,
		analyzer: analyzer,
		matcher:  matcher,
		mapper:   mapper,
		narrator: narrator,
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.breakers == nil {
		a.breakers = resilience.NewBreakerRegistry()
	}
	return a
}

// Plan proposes the search queries for one research round.
func (a *LLMActivities) Plan(ctx context.Context, req research.PlanRequest) (*research.Plan, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("planning research round",
		"sessionID", req.SessionID,
		"depth", req.Depth,
		"maxQueries", req.MaxQueries,
		"executedQueries", len(req.ExecutedQueries),
	)

	var plan *research.Plan
	err := a.invoke(ctx, research.OpPlanning, func(ctx context.Context) error {
		var err error
		plan, err = a.planner.Plan(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("research round planned", "queryCount", len(plan.Queries))
	return plan, nil
}

// Analyze extracts findings and entity mentions from a round's search results.
func (a *LLMActivities) Analyze(ctx context.Context, req research.AnalysisRequest) (*research.Analysis, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("analyzing search results",
		"sessionID", req.SessionID,
		"depth", req.Depth,
		"records", len(req.Records),
	)

	var analysis *research.Analysis
	err := a.invoke(ctx, research.OpAnalysis, func(ctx context.Context) error {
		var err error
		analysis, err = a.analyzer.Analyze(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("search results analyzed",
		"findings", len(analysis.Findings),
		"mentions", len(analysis.Mentions),
		"shouldContinue", analysis.ShouldContinue,
	)
	return analysis, nil
}

// Match decides whether a mention refers to one of the candidate entities.
func (a *LLMActivities) Match(ctx context.Context, req research.MatchRequest) (research.MatchDecision, error) {
	var decision research.MatchDecision
	err := a.invoke(ctx, research.OpEntityMatch, func(ctx context.Context) error {
		var err error
		decision, err = a.matcher.Match(ctx, req)
		return err
	})
	if err != nil {
		return research.MatchDecision{}, err
	}

	activity.GetLogger(ctx).Debug("entity match decided",
		"mention", req.Mention.Name,
		"candidates", len(req.Candidates),
		"outcome", string(decision.Outcome),
	)
	return decision, nil
}

// MapConnections examines the finished entity graph.
func (a *LLMActivities) MapConnections(ctx context.Context, req research.ConnectionRequest) (*research.ConnectionMap, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("mapping connections",
		"sessionID", req.SessionID,
		"entities", len(req.Entities),
		"edges", len(req.Edges),
	)

	var cm *research.ConnectionMap
	err := a.invoke(ctx, research.OpConnectionMapping, func(ctx context.Context) error {
		var err error
		cm, err = a.mapper.MapConnections(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("connections mapped",
		"edges", len(cm.Edges),
		"keyEntities", len(cm.KeyEntities),
		"patterns", len(cm.SuspiciousPatterns),
	)
	return cm, nil
}

// Narrate writes the prose sections of the final report.
func (a *LLMActivities) Narrate(ctx context.Context, req research.NarrationRequest) (*research.Narrative, error) {
	var narrative *research.Narrative
	err := a.invoke(ctx, research.OpSynthesis, func(ctx context.Context) error {
		var err error
		narrative, err = a.narrator.Narrate(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return narrative, nil
}

// invoke runs fn through the shared LLM circuit breaker and converts its
// error into an ApplicationError whose retryability survives the activity
// boundary.
func (a *LLMActivities) invoke(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	err := a.breakers.Get(llmBreaker).Execute(ctx, fn)
	if err == nil {
		return nil
	}

	activity.GetLogger(ctx).Error("collaborator call failed",
		"operation", op,
		"error", err,
		"errorType", errorType(err),
		"category", resilience.Classify(err).String(),
		"duration", time.Since(start).Seconds(),
	)
	return resilience.ToApplicationError(op, err)
}

// errorType classifies an error for log labeling.
// Uses errors.As to correctly unwrap wrapped errors.
func errorType(err error) string {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Type != "" {
			return apiErr.Type
		}
		return fmt.Sprintf("http_%d", apiErr.StatusCode)
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "circuit_open"
	}
	return "unknown"
}
