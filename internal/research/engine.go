package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/observability"
)

// Operation names used in call audit events and metrics.
const (
	OpPlanning          = "planning"
	OpSearch            = "search"
	OpAnalysis          = "analysis"
	OpEntityMatch       = "entity_match"
	OpConnectionMapping = "connection_mapping"
	OpSynthesis         = "synthesis"
	OpReportPersistence = "report_persistence"
)

// Input starts a session.
type Input struct {
	SessionID string `json:"session_id"`
	Subject   string `json:"subject"`
	Context   string `json:"context,omitempty"`
	// MaxDepth overrides the configured maximum depth when positive.
	MaxDepth int `json:"max_depth,omitempty"`
}

// Result is the outcome of a session. Failed sessions are reported through
// Success and FailureReason; Run only returns an error for invalid input.
type Result struct {
	SessionID         string            `json:"session_id"`
	Success           bool              `json:"success"`
	Report            *Report           `json:"report,omitempty"`
	ReportLocation    string            `json:"report_location,omitempty"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	ErrorLog          []ErrorRecord     `json:"error_log,omitempty"`
	Progress          Progress          `json:"progress"`

	// State is the final state. It is not serialized because search memory
	// can be large.
	State State `json:"-"`
}

// Engine runs research sessions. An Engine holds no per-session state and
// may run many sessions concurrently.
//
// Run is deterministic given the Runtime's responses: it starts no
// goroutines, reads time only from the Runtime's Clock and iterates maps in
// sorted order. That lets the same loop execute inside a workflow.
type Engine struct {
	rt       Runtime
	cfg      domain.ResearchConfig
	policy   TerminationPolicy
	logger   zerolog.Logger
	observer func(State)
	models   map[string]string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithObserver registers fn to receive every committed state.
func WithObserver(fn func(State)) Option {
	return func(e *Engine) { e.observer = fn }
}

// WithModels records the model used per operation in report metadata.
func WithModels(models map[string]string) Option {
	return func(e *Engine) { e.models = models }
}

// NewEngine creates an Engine. cfg is completed with defaults and validated.
func NewEngine(rt Runtime, cfg domain.ResearchConfig, opts ...Option) (*Engine, error) {
	if err := rt.validate(); err != nil {
		return nil, err
	}
	if rt.Clock == nil {
		rt.Clock = SystemClock{}
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		rt:     rt,
		cfg:    cfg,
		policy: TerminationPolicy{StagnationCheckIterations: cfg.StagnationCheckIterations},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes one session to completion.
func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		return nil, domain.NewValidationError("subject", "must not be empty")
	}
	maxDepth := e.cfg.MaxDepth
	if in.MaxDepth > 0 {
		maxDepth = in.MaxDepth
	}
	if maxDepth < domain.MinResearchDepth || maxDepth > domain.MaxResearchDepth {
		return nil, domain.NewValidationError("max_depth",
			fmt.Sprintf("must be between %d and %d", domain.MinResearchDepth, domain.MaxResearchDepth))
	}
	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	r := &session{
		e:      e,
		rec:    NewRecorder(sessionID, e.rt.Audit, e.rt.Clock),
		caps:   newCapabilityTracker(),
		logger: observability.WithSessionContext(e.logger, sessionID, subject).With().Str("component", "research_engine").Logger(),
	}
	err := r.execute(ctx, InitDelta{
		SessionID: sessionID,
		Subject:   subject,
		Context:   strings.TrimSpace(in.Context),
		MaxDepth:  maxDepth,
		StartedAt: r.now(),
	})
	return r.finish(ctx, err), nil
}

// session is the mutable bookkeeping of one Run.
type session struct {
	e      *Engine
	rec    *Recorder
	caps   *capabilityTracker
	logger zerolog.Logger

	state    State
	report   *Report
	location string
}

func (r *session) now() time.Time {
	return normalizeTime(r.e.rt.Clock.Now())
}

func (r *session) execute(ctx context.Context, init InitDelta) error {
	if err := r.commit(ctx, init); err != nil {
		return err
	}
	r.logger.Info().Int("max_depth", init.MaxDepth).Msg("research session started")

	for {
		if err := r.transition(ctx, PhasePlanning); err != nil {
			return err
		}
		plan, err := r.plan(ctx)
		if err != nil {
			return err
		}
		if plan != nil {
			if err := r.transition(ctx, PhaseSearching); err != nil {
				return err
			}
			if err := r.search(ctx, plan); err != nil {
				return err
			}
		}

		if err := r.transition(ctx, PhaseAnalyzing); err != nil {
			return err
		}
		if plan == nil {
			// A round without queries still counts toward depth and stagnation.
			if err := r.closeEmptyRound(ctx, "No usable queries were planned for this round."); err != nil {
				return err
			}
		} else if err := r.analyze(ctx); err != nil {
			return err
		}

		if err := r.transition(ctx, PhaseRouting); err != nil {
			return err
		}
		decision := r.e.policy.Evaluate(r.state)
		if err := r.commit(ctx, RoutingDelta{
			Depth:    r.state.CurrentDepth,
			Continue: decision.Continue,
			Reason:   decision.Reason,
		}); err != nil {
			return err
		}
		roundLog := observability.WithRoundContext(r.logger, r.state.CurrentDepth, r.state.MaxDepth)
		roundLog.Info().
			Bool("continue", decision.Continue).
			Str("reason", string(decision.Reason)).
			Int("entities", len(r.state.EntityOrder)).
			Msg("research round completed")
		if !decision.Continue {
			break
		}
	}

	if err := r.transition(ctx, PhaseConnectionMapping); err != nil {
		return err
	}
	if err := r.mapConnections(ctx); err != nil {
		return err
	}
	if err := r.transition(ctx, PhaseSynthesizing); err != nil {
		return err
	}
	if err := r.synthesize(ctx, true); err != nil {
		return err
	}
	return r.transition(ctx, PhaseDone)
}

// commit validates d against the current state, writes it to the audit
// trail and adopts the resulting state.
func (r *session) commit(ctx context.Context, d Delta) error {
	next, err := d.Apply(r.state)
	if err != nil {
		return &UnrecoverableError{Reason: "inconsistent " + d.Step() + " step", Err: err}
	}
	if err := CheckMonotonic(r.state, next); err != nil {
		return &UnrecoverableError{Reason: "non-monotonic " + d.Step() + " step", Err: err}
	}
	if _, err := r.rec.Record(ctx, EventStateTransition, d.Step(), d); err != nil {
		return &UnrecoverableError{Reason: "audit trail unavailable", Err: err}
	}
	for _, rec := range next.ErrorLog[len(r.state.ErrorLog):] {
		if _, err := r.rec.Record(ctx, EventError, string(rec.Kind), rec); err != nil {
			return &UnrecoverableError{Reason: "audit trail unavailable", Err: err}
		}
	}
	r.state = next
	if r.e.observer != nil {
		r.e.observer(next)
	}
	return nil
}

func (r *session) transition(ctx context.Context, to Phase) error {
	return r.commit(ctx, PhaseDelta{From: r.state.Phase, To: to, Depth: r.state.CurrentDepth})
}

func (r *session) errorRecord(kind ErrorKind, err error) ErrorRecord {
	return ErrorRecord{
		Kind:    kind,
		Phase:   r.state.Phase,
		Depth:   r.state.CurrentDepth,
		Message: err.Error(),
		At:      r.now(),
	}
}

// call records the attempt and result events around fn.
func (r *session) call(ctx context.Context, op string, inputs []string, fn func() error) error {
	rec := CallRecord{Operation: op, Depth: r.state.CurrentDepth, Inputs: inputs}
	if _, err := r.rec.Record(ctx, EventCallAttempt, op, rec); err != nil {
		return &UnrecoverableError{Reason: "audit trail unavailable", Err: err}
	}
	start := r.now()
	callErr := fn()
	rec.Inputs = nil
	rec.OK = callErr == nil
	rec.DurationMS = r.now().Sub(start).Milliseconds()
	if callErr != nil {
		rec.Error = callErr.Error()
	}
	if _, err := r.rec.Record(ctx, EventCallResult, op, rec); err != nil {
		return &UnrecoverableError{Reason: "audit trail unavailable", Err: err}
	}
	if callErr != nil && isAbort(ctx, callErr) {
		return abortError(ctx, op, callErr)
	}
	return nil
}

func abortError(ctx context.Context, op string, err error) error {
	if errors.Is(err, ErrUnrecoverable) {
		return err
	}
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return &UnrecoverableError{Reason: "session aborted during " + op, Err: err}
}

func (r *session) observe(c capability, err error) error {
	r.caps.observe(c, err)
	return r.caps.exhausted()
}

// plan returns nil when the round produced no usable queries.
func (r *session) plan(ctx context.Context) (*Plan, error) {
	depth := r.state.CurrentDepth
	req := PlanRequest{
		SessionID:        r.state.SessionID,
		Subject:          r.state.Subject,
		Context:          r.state.Context,
		Depth:            depth,
		MaxDepth:         r.state.MaxDepth,
		MaxQueries:       r.e.cfg.MaxQueriesPerDepth,
		LatestReflection: r.state.LatestReflection(),
		ExecutedQueries:  r.state.ExecutedQueries,
		KnownEntities:    entityNames(r.state),
	}

	var plan *Plan
	var planErr error
	if err := r.call(ctx, OpPlanning, nil, func() error {
		plan, planErr = r.e.rt.Planner.Plan(ctx, req)
		return planErr
	}); err != nil {
		return nil, err
	}
	if err := r.observe(capabilityReasoning, planErr); err != nil {
		return nil, err
	}
	if planErr != nil {
		perr := &PlanningError{Depth: depth, Reason: "planner failed", Err: planErr}
		return nil, r.commit(ctx, PlanDelta{Depth: depth, Errors: []ErrorRecord{r.errorRecord(ErrorKindPlanning, perr)}})
	}

	var proposed []string
	if plan != nil {
		proposed = plan.Queries
	}
	queries, discarded := SelectQueries(proposed, r.state.ExecutedQueries, r.e.cfg.MaxQueriesPerDepth)
	if len(queries) == 0 {
		perr := &PlanningError{Depth: depth, Reason: "no usable queries after deduplication"}
		return nil, r.commit(ctx, PlanDelta{
			Depth:     depth,
			Discarded: discarded,
			Errors:    []ErrorRecord{r.errorRecord(ErrorKindPlanning, perr)},
		})
	}

	accepted := &Plan{Goal: plan.Goal, Queries: queries}
	if err := r.commit(ctx, PlanDelta{Depth: depth, Goal: plan.Goal, Queries: queries, Discarded: discarded}); err != nil {
		return nil, err
	}
	return accepted, nil
}

// SelectQueries normalizes and deduplicates proposed queries against each
// other and against executed (already normalized) queries, keeping at most
// limit in proposal order.
func SelectQueries(proposed, executed []string, limit int) (accepted, discarded []string) {
	seen := make(map[string]struct{}, len(executed)+len(proposed))
	for _, q := range executed {
		seen[domain.NormalizeQuery(q)] = struct{}{}
	}
	for _, q := range proposed {
		n := domain.NormalizeQuery(q)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup || len(accepted) >= limit {
			discarded = append(discarded, strings.TrimSpace(q))
			continue
		}
		seen[n] = struct{}{}
		accepted = append(accepted, strings.Join(strings.Fields(q), " "))
	}
	return accepted, discarded
}

func (r *session) search(ctx context.Context, plan *Plan) error {
	depth := r.state.CurrentDepth
	var batch *SearchBatch
	var batchErr error
	if err := r.call(ctx, OpSearch, plan.Queries, func() error {
		batch, batchErr = r.e.rt.Searcher.SearchBatch(ctx, depth, plan.Queries)
		return batchErr
	}); err != nil {
		return err
	}
	if batchErr != nil {
		batch = &SearchBatch{}
		for _, q := range plan.Queries {
			batch.Failures = append(batch.Failures, QueryFailure{Query: q, Kind: SearchFailureProvider, Message: batchErr.Error()})
		}
	}

	delta := SearchDelta{Depth: depth, Goal: plan.Goal, Queries: plan.Queries, Records: batch.Records}
	for _, rec := range batch.Records {
		delta.SourcesFound += len(rec.Sources)
	}
	for _, f := range batch.Failures {
		er := r.errorRecord(ErrorKindSearch, &SearchError{Query: f.Query, Kind: f.Kind, Err: errors.New(f.Message)})
		er.Query = f.Query
		er.Message = f.Message
		delta.Failures = append(delta.Failures, er)
	}
	if len(batch.Records) == 0 {
		r.logger.Warn().Int("depth", depth).Int("queries", len(plan.Queries)).Msg("every search in the round failed")
	}
	return r.commit(ctx, delta)
}

// closeEmptyRound completes the current depth with no findings and no new
// entities.
func (r *session) closeEmptyRound(ctx context.Context, summary string) error {
	return r.commit(ctx, AnalysisDelta{
		Depth: r.state.CurrentDepth,
		Reflection: Reflection{
			Summary:        summary,
			ShouldContinue: true,
			NoProgress:     true,
		},
	})
}

func (r *session) analyze(ctx context.Context) error {
	depth := r.state.CurrentDepth
	records := r.state.RecordsAtDepth(depth)
	if len(records) == 0 {
		return r.closeEmptyRound(ctx, "No search results were returned for this round.")
	}

	req := AnalysisRequest{
		SessionID:        r.state.SessionID,
		Subject:          r.state.Subject,
		Context:          r.state.Context,
		Depth:            depth,
		MaxDepth:         r.state.MaxDepth,
		Records:          records,
		PriorReflections: r.state.ReflectionMemory,
		KnownEntities:    entityNames(r.state),
	}
	var analysis *Analysis
	var analysisErr error
	if err := r.call(ctx, OpAnalysis, nil, func() error {
		analysis, analysisErr = r.e.rt.Analyzer.Analyze(ctx, req)
		return analysisErr
	}); err != nil {
		return err
	}
	if err := r.observe(capabilityReasoning, analysisErr); err != nil {
		return err
	}
	if analysisErr != nil || analysis == nil {
		if analysisErr == nil {
			analysisErr = errors.New("analyzer returned no analysis")
		}
		aerr := &AnalysisError{Depth: depth, Err: analysisErr}
		return r.commit(ctx, AnalysisDelta{
			Depth: depth,
			Reflection: Reflection{
				Summary:        "Analysis of this round failed.",
				ShouldContinue: true,
				Degraded:       true,
			},
			Errors: []ErrorRecord{r.errorRecord(ErrorKindAnalysis, aerr)},
		})
	}

	matcher := &auditedMatcher{session: r, inner: r.e.rt.Matcher}
	graph := NewGraphBuilder(matcher).Resolve(ctx, r.state, depth, analysis.Mentions, analysis.Relationships, r.now())
	if matcher.err != nil {
		return matcher.err
	}
	if graph.MatcherErr != nil && isAbort(ctx, graph.MatcherErr) {
		return abortError(ctx, OpEntityMatch, graph.MatcherErr)
	}

	for _, dec := range graph.Decisions {
		if _, err := r.rec.Record(ctx, EventStateTransition, StepEntityResolved, dec); err != nil {
			return &UnrecoverableError{Reason: "audit trail unavailable", Err: err}
		}
	}

	findings := make([]Finding, 0, len(analysis.Findings))
	for _, f := range analysis.Findings {
		f.Depth = depth
		if f.Origin == "" {
			f.Origin = OpAnalysis
		}
		if f.Category == CategoryRedFlag && f.Severity.rank() == 0 {
			f.Severity = SeverityLow
		}
		findings = append(findings, f)
	}
	return r.commit(ctx, AnalysisDelta{
		Depth: depth,
		Reflection: Reflection{
			Summary:        analysis.Summary,
			ShouldContinue: analysis.ShouldContinue,
			Rationale:      analysis.Rationale,
			Gaps:           analysis.Gaps,
		},
		Decisions: graph.Decisions,
		Edges:     graph.Edges,
		Findings:  findings,
		Errors:    graph.Errors,
	})
}

// auditedMatcher wraps the runtime matcher with call events and
// capability tracking.
type auditedMatcher struct {
	session *session
	inner   Matcher
	err     error
}

func (m *auditedMatcher) Match(ctx context.Context, req MatchRequest) (MatchDecision, error) {
	if m.err != nil {
		return MatchDecision{}, m.err
	}
	var decision MatchDecision
	var matchErr error
	if err := m.session.call(ctx, OpEntityMatch, []string{req.Mention.Name}, func() error {
		decision, matchErr = m.inner.Match(ctx, req)
		return matchErr
	}); err != nil {
		m.err = err
		return MatchDecision{}, err
	}
	if err := m.session.observe(capabilityExtraction, matchErr); err != nil {
		m.err = err
		return MatchDecision{}, err
	}
	return decision, matchErr
}

func (r *session) mapConnections(ctx context.Context) error {
	if len(r.state.EntityOrder) == 0 {
		return r.commit(ctx, ConnectionDelta{})
	}
	req := ConnectionRequest{
		SessionID: r.state.SessionID,
		Subject:   r.state.Subject,
		Entities:  r.state.EntityList(),
		Edges:     r.state.Edges,
		RedFlags:  r.state.RedFlags,
	}
	var cm *ConnectionMap
	var mapErr error
	if err := r.call(ctx, OpConnectionMapping, nil, func() error {
		cm, mapErr = r.e.rt.Mapper.MapConnections(ctx, req)
		return mapErr
	}); err != nil {
		return err
	}
	if err := r.observe(capabilityExtraction, mapErr); err != nil {
		return err
	}
	if mapErr != nil || cm == nil {
		if mapErr == nil {
			mapErr = errors.New("connection mapper returned no result")
		}
		return r.commit(ctx, ConnectionDelta{Errors: []ErrorRecord{r.errorRecord(ErrorKindConnectionMapping, mapErr)}})
	}

	delta := ConnectionDelta{}
	for _, e := range cm.Edges {
		_, okSrc := r.state.Entities[e.SourceID]
		_, okDst := r.state.Entities[e.TargetID]
		if !okSrc || !okDst || e.SourceID == e.TargetID {
			delta.Errors = append(delta.Errors, r.errorRecord(ErrorKindConnectionMapping,
				fmt.Errorf("edge %s -> %s rejected: unknown or identical endpoints", e.SourceID, e.TargetID)))
			continue
		}
		if strings.TrimSpace(e.Kind) == "" {
			e.Kind = defaultRelationshipKind
		}
		delta.Edges = append(delta.Edges, e)
	}
	for _, k := range cm.KeyEntities {
		ent, ok := r.state.Entities[k.EntityID]
		if !ok {
			continue
		}
		if k.Name == "" {
			k.Name = ent.Name
		}
		delta.KeyEntities = append(delta.KeyEntities, k)
	}
	for _, p := range cm.SuspiciousPatterns {
		if strings.TrimSpace(p.Description) == "" {
			continue
		}
		sev := p.Severity
		if sev.rank() == 0 {
			sev = SeverityMedium
		}
		delta.Findings = append(delta.Findings, Finding{
			Category:    CategoryRedFlag,
			Severity:    sev,
			Description: p.Description,
			Sources:     p.Sources,
			Entities:    p.EntityIDs,
			Depth:       r.state.CurrentDepth,
			Origin:      OpConnectionMapping,
		})
	}
	return r.commit(ctx, delta)
}

// synthesize builds the report. completed is false for the best-effort
// report of a failed session.
func (r *session) synthesize(ctx context.Context, completed bool) error {
	var narrative *Narrative
	if r.state.FindingCount() > 0 && !(r.caps.isDown(capabilityExtraction) && !completed) {
		req := NarrationRequestFor(r.state)
		var narrErr error
		if err := r.call(ctx, OpSynthesis, nil, func() error {
			narrative, narrErr = r.e.rt.Narrator.Narrate(ctx, req)
			return narrErr
		}); err != nil {
			return err
		}
		if err := r.observe(capabilityExtraction, narrErr); err != nil && completed {
			return err
		}
		if narrErr != nil {
			narrative = nil
			if err := r.commit(ctx, ErrorDelta{Errors: []ErrorRecord{r.errorRecord(ErrorKindSynthesis, narrErr)}}); err != nil {
				return err
			}
		}
	}

	report := BuildReport(r.state, narrative, ReportOptions{
		GeneratedAt: r.now(),
		Completed:   completed,
		ModelsUsed:  r.e.models,
	})
	r.report = report

	if r.e.rt.Reports != nil {
		var saveErr error
		if err := r.call(ctx, OpReportPersistence, nil, func() error {
			r.location, saveErr = r.e.rt.Reports.SaveReport(ctx, report)
			return saveErr
		}); err != nil {
			return err
		}
		if saveErr != nil {
			r.location = ""
			if err := r.commit(ctx, ErrorDelta{Errors: []ErrorRecord{r.errorRecord(ErrorKindPersistence, saveErr)}}); err != nil {
				return err
			}
		}
	}

	if _, err := r.rec.Record(ctx, EventStateTransition, StepReportSynthesized, ReportRecord{
		RiskLevel: report.RiskLevel,
		Location:  r.location,
		Narrated:  narrative != nil,
		Findings:  r.state.FindingCount(),
	}); err != nil {
		return &UnrecoverableError{Reason: "audit trail unavailable", Err: err}
	}
	return nil
}

func (r *session) finish(ctx context.Context, runErr error) *Result {
	if runErr == nil {
		r.flush(ctx)
		r.logger.Info().
			Str("termination_reason", string(r.state.TerminationReason)).
			Str("risk_level", string(r.report.RiskLevel)).
			Int("entities", len(r.state.EntityOrder)).
			Int("errors", len(r.state.ErrorLog)).
			Msg("research session completed")
		return r.result(true, "")
	}

	var uerr *UnrecoverableError
	if !errors.As(runErr, &uerr) {
		uerr = &UnrecoverableError{Reason: "unexpected failure", Err: runErr}
	}
	r.logger.Error().Err(uerr).Str("phase", string(r.state.Phase)).Msg("research session failed")

	cleanup := context.WithoutCancel(ctx)
	if r.state.SessionID != "" && r.state.Phase != PhaseFailed && r.state.Phase != PhaseDone {
		if err := r.commit(cleanup, FailureDelta{Error: r.errorRecord(ErrorKindUnrecoverable, uerr)}); err != nil {
			r.logger.Error().Err(err).Msg("failed to record session failure")
		} else if r.report == nil && (r.state.FindingCount() > 0 || len(r.state.EntityOrder) > 0) {
			if err := r.synthesize(cleanup, false); err != nil {
				r.logger.Warn().Err(err).Msg("best-effort synthesis failed")
			}
		}
	}
	r.flush(cleanup)
	return r.result(false, uerr.Error())
}

func (r *session) flush(ctx context.Context) {
	if f, ok := r.e.rt.Audit.(Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			r.logger.Error().Err(err).Msg("failed to flush audit trail")
		}
	}
}

func (r *session) result(success bool, failure string) *Result {
	return &Result{
		SessionID:         r.rec.sessionID,
		Success:           success,
		Report:            r.report,
		ReportLocation:    r.location,
		TerminationReason: r.state.TerminationReason,
		FailureReason:     failure,
		ErrorLog:          r.state.ErrorLog,
		Progress:          r.state.Progress(),
		State:             r.state,
	}
}

func entityNames(s State) []string {
	names := make([]string, 0, len(s.EntityOrder))
	for _, e := range s.EntityList() {
		names = append(names, e.Name)
	}
	return names
}
