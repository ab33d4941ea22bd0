package workflows

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/workflow"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/research"
	"github.com/helixir/osint-research-service/internal/temporal/activities"
	"github.com/helixir/osint-research-service/internal/temporal/resilience"
)

// workflowContext lets the research engine, which takes a context.Context,
// run on a workflow.Context. Done returns nil; the engine only checks Err.
type workflowContext struct {
	wctx workflow.Context
}

func (c workflowContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (c workflowContext) Done() <-chan struct{}       { return nil }
func (c workflowContext) Err() error                  { return c.wctx.Err() }
func (c workflowContext) Value(key any) any           { return c.wctx.Value(key) }

// workflowClock reads deterministic workflow time.
type workflowClock struct {
	wctx workflow.Context
}

func (c workflowClock) Now() time.Time { return workflow.Now(c.wctx).UTC() }

// replaySafeWriter drops log output while the workflow is replaying so each
// engine log line is written once.
type replaySafeWriter struct {
	wctx workflow.Context
	out  io.Writer
}

func (w replaySafeWriter) Write(p []byte) (int, error) {
	if workflow.IsReplaying(w.wctx) {
		return len(p), nil
	}
	return w.out.Write(p)
}

// activityRuntime implements the research collaborators by executing
// activities. Audit appends always run on a disconnected context so the
// trail stays complete when the session is cancelled. Other calls made after
// cancellation with a context that is not itself cancelled (the engine's
// best-effort cleanup) run disconnected as well.
type activityRuntime struct {
	root         workflow.Context
	disconnected workflow.Context
	sessionID    string
	cfg          domain.ResearchConfig
	policies     map[string]resilience.OperationPolicy
}

// Compile-time interface verification.
var (
	_ research.Planner          = (*activityRuntime)(nil)
	_ research.BatchSearcher    = (*activityRuntime)(nil)
	_ research.Analyzer         = (*activityRuntime)(nil)
	_ research.Matcher          = (*activityRuntime)(nil)
	_ research.ConnectionMapper = (*activityRuntime)(nil)
	_ research.Narrator         = (*activityRuntime)(nil)
	_ research.AuditSink        = (*activityRuntime)(nil)
	_ research.ReportStore      = (*activityRuntime)(nil)
)

func (a *activityRuntime) runtime() research.Runtime {
	return research.Runtime{
		Clock:    workflowClock{wctx: a.root},
		Planner:  a,
		Searcher: a,
		Analyzer: a,
		Matcher:  a,
		Mapper:   a,
		Narrator: a,
		Audit:    a,
		Reports:  a,
	}
}

func (a *activityRuntime) contextFor(ctx context.Context, policy resilience.OperationPolicy) workflow.Context {
	wctx := a.root
	if ctx.Err() == nil && a.root.Err() != nil {
		wctx = a.disconnected
	}
	return workflow.WithActivityOptions(wctx, policy.ActivityOptions())
}

func (a *activityRuntime) execute(ctx context.Context, policy resilience.OperationPolicy, fn, arg, result interface{}) error {
	wctx := a.contextFor(ctx, policy)
	err := workflow.ExecuteActivity(wctx, fn, arg).Get(wctx, result)
	return resilience.FromActivityError(err)
}

func (a *activityRuntime) policy(name string) resilience.OperationPolicy {
	return resilience.PolicyFor(a.policies, name)
}

func (a *activityRuntime) Plan(ctx context.Context, req research.PlanRequest) (*research.Plan, error) {
	var llmAct *activities.LLMActivities
	var out research.Plan
	if err := a.execute(ctx, a.policy(research.OpPlanning), llmAct.Plan, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *activityRuntime) SearchBatch(ctx context.Context, depth int, queries []string) (*research.SearchBatch, error) {
	var searchAct *activities.SearchActivities
	policy := a.policy(research.OpSearch).ForSearchBatch(len(queries), a.cfg.MaxConcurrentSearches, a.cfg.SearchTimeout())

	var out research.SearchBatch
	err := a.execute(ctx, policy, searchAct.ExecuteSearchBatch, activities.SearchBatchInput{
		SessionID:      a.sessionID,
		Depth:          depth,
		Queries:        queries,
		MaxConcurrent:  a.cfg.MaxConcurrentSearches,
		TimeoutSeconds: a.cfg.SearchTimeoutSeconds,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *activityRuntime) Analyze(ctx context.Context, req research.AnalysisRequest) (*research.Analysis, error) {
	var llmAct *activities.LLMActivities
	var out research.Analysis
	if err := a.execute(ctx, a.policy(research.OpAnalysis), llmAct.Analyze, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *activityRuntime) Match(ctx context.Context, req research.MatchRequest) (research.MatchDecision, error) {
	var llmAct *activities.LLMActivities
	var out research.MatchDecision
	err := a.execute(ctx, a.policy(research.OpEntityMatch), llmAct.Match, req, &out)
	return out, err
}

func (a *activityRuntime) MapConnections(ctx context.Context, req research.ConnectionRequest) (*research.ConnectionMap, error) {
	var llmAct *activities.LLMActivities
	var out research.ConnectionMap
	if err := a.execute(ctx, a.policy(research.OpConnectionMapping), llmAct.MapConnections, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *activityRuntime) Narrate(ctx context.Context, req research.NarrationRequest) (*research.Narrative, error) {
	var llmAct *activities.LLMActivities
	var out research.Narrative
	if err := a.execute(ctx, a.policy(research.OpSynthesis), llmAct.Narrate, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *activityRuntime) Append(ctx context.Context, ev research.AuditEvent) error {
	var auditAct *activities.AuditActivities
	wctx := workflow.WithActivityOptions(a.disconnected, a.policy(resilience.PolicyAudit).ActivityOptions())
	err := workflow.ExecuteActivity(wctx, auditAct.AppendAuditEvent, ev).Get(wctx, nil)
	return resilience.FromActivityError(err)
}

func (a *activityRuntime) SaveReport(ctx context.Context, report *research.Report) (string, error) {
	var auditAct *activities.AuditActivities
	var location string
	err := a.execute(ctx, a.policy(research.OpReportPersistence), auditAct.SaveReport, report, &location)
	return location, err
}

func newEngineLogger(wctx workflow.Context, out io.Writer, level zerolog.Level) zerolog.Logger {
	if out == nil {
		return zerolog.Nop()
	}
	info := workflow.GetInfo(wctx)
	return zerolog.New(replaySafeWriter{wctx: wctx, out: out}).
		Level(level).
		With().
		Timestamp().
		Str("workflow_id", info.WorkflowExecution.ID).
		Str("run_id", info.WorkflowExecution.RunID).
		Logger()
}
