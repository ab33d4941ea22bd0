package research

import (
	"context"
	"fmt"
	"time"
)

// Clock supplies the session's notion of time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// PlanRequest is the input to a Planner.
type PlanRequest struct {
	SessionID        string      `json:"session_id"`
	Subject          string      `json:"subject"`
	Context          string      `json:"context,omitempty"`
	Depth            int         `json:"depth"`
	MaxDepth         int         `json:"max_depth"`
	MaxQueries       int         `json:"max_queries"`
	LatestReflection *Reflection `json:"latest_reflection,omitempty"`
	ExecutedQueries  []string    `json:"executed_queries,omitempty"`
	KnownEntities    []string    `json:"known_entities,omitempty"`
}

// Plan is a planner's proposal for one round.
type Plan struct {
	Goal    string   `json:"goal,omitempty"`
	Queries []string `json:"queries"`
}

// Planner proposes search queries for a round. Depth 0 plans broad
// coverage from subject and context; later depths follow the latest
// reflection.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*Plan, error)
}

// SearchBatch is the outcome of one fan-out. Records are in the order the
// queries were given; failed queries appear only in Failures.
type SearchBatch struct {
	Records  []SearchResultRecord `json:"records,omitempty"`
	Failures []QueryFailure       `json:"failures,omitempty"`
}

// QueryFailure describes one failed query of a batch.
type QueryFailure struct {
	Query   string        `json:"query"`
	Kind    SearchFailure `json:"kind"`
	Message string        `json:"message"`
}

// BatchSearcher executes every query of a round. A returned error means the
// batch as a whole was abandoned and none of it may be committed.
type BatchSearcher interface {
	SearchBatch(ctx context.Context, depth int, queries []string) (*SearchBatch, error)
}

// AnalysisRequest is the input to an Analyzer.
type AnalysisRequest struct {
	SessionID        string               `json:"session_id"`
	Subject          string               `json:"subject"`
	Context          string               `json:"context,omitempty"`
	Depth            int                  `json:"depth"`
	MaxDepth         int                  `json:"max_depth"`
	Records          []SearchResultRecord `json:"records"`
	PriorReflections []Reflection         `json:"prior_reflections,omitempty"`
	KnownEntities    []string             `json:"known_entities,omitempty"`
}

// Mention is an entity reference extracted from search results.
type Mention struct {
	Name       string            `json:"name"`
	Kind       EntityKind        `json:"kind"`
	Aliases    []string          `json:"aliases,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Sources    []string          `json:"sources,omitempty"`
}

// RelationshipMention links two mentions by name.
type RelationshipMention struct {
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Kind       string   `json:"kind"`
	Sources    []string `json:"sources,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

// Analysis is an analyzer's assessment of one round.
type Analysis struct {
	Summary        string                `json:"summary"`
	ShouldContinue bool                  `json:"should_continue"`
	Rationale      string                `json:"rationale,omitempty"`
	Gaps           []string              `json:"gaps,omitempty"`
	Mentions       []Mention             `json:"mentions,omitempty"`
	Relationships  []RelationshipMention `json:"relationships,omitempty"`
	Findings       []Finding             `json:"findings,omitempty"`
}

// Analyzer extracts findings and entity mentions from a round's results.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error)
}

// MatchOutcome is the result kind of a match decision.
type MatchOutcome string

const (
	OutcomeMatched   MatchOutcome = "matched"
	OutcomeUnmatched MatchOutcome = "unmatched"
)

// MatchRequest asks whether Mention refers to one of Candidates.
type MatchRequest struct {
	SessionID  string   `json:"session_id"`
	Subject    string   `json:"subject"`
	Mention    Mention  `json:"mention"`
	Candidates []Entity `json:"candidates"`
}

// MatchDecision is either matched(EntityID) or unmatched.
type MatchDecision struct {
	Outcome    MatchOutcome `json:"outcome"`
	EntityID   string       `json:"entity_id,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
	Rationale  string       `json:"rationale,omitempty"`
}

// Matched returns a decision mapping the mention onto id.
func Matched(id, rationale string) MatchDecision {
	return MatchDecision{Outcome: OutcomeMatched, EntityID: id, Rationale: rationale}
}

// Unmatched returns a decision creating a new entity.
func Unmatched(rationale string) MatchDecision {
	return MatchDecision{Outcome: OutcomeUnmatched, Rationale: rationale}
}

// Matcher decides whether a mention refers to an existing entity.
type Matcher interface {
	Match(ctx context.Context, req MatchRequest) (MatchDecision, error)
}

// ConnectionRequest is the input to a ConnectionMapper.
type ConnectionRequest struct {
	SessionID string             `json:"session_id"`
	Subject   string             `json:"subject"`
	Entities  []Entity           `json:"entities"`
	Edges     []RelationshipEdge `json:"edges,omitempty"`
	RedFlags  []Finding          `json:"red_flags,omitempty"`
}

// SuspiciousPattern is a cross-entity pattern reported by the mapper.
type SuspiciousPattern struct {
	Description string   `json:"description"`
	Severity    Severity `json:"severity,omitempty"`
	EntityIDs   []string `json:"entity_ids,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

// ConnectionMap is the mapper's output. Edges may be new or may repeat an
// existing pair to enrich it.
type ConnectionMap struct {
	Edges              []RelationshipEdge  `json:"edges,omitempty"`
	KeyEntities        []KeyEntity         `json:"key_entities,omitempty"`
	SuspiciousPatterns []SuspiciousPattern `json:"suspicious_patterns,omitempty"`
}

// ConnectionMapper examines the finished entity graph once.
type ConnectionMapper interface {
	MapConnections(ctx context.Context, req ConnectionRequest) (*ConnectionMap, error)
}

// NarrationRequest carries what a Narrator may describe. Search memory is
// reduced to its source URLs.
type NarrationRequest struct {
	SessionID         string             `json:"session_id"`
	Subject           string             `json:"subject"`
	Context           string             `json:"context,omitempty"`
	RiskLevel         Severity           `json:"risk_level"`
	Entities          []Entity           `json:"entities,omitempty"`
	Edges             []RelationshipEdge `json:"edges,omitempty"`
	KeyEntities       []KeyEntity        `json:"key_entities,omitempty"`
	RedFlags          []Finding          `json:"red_flags,omitempty"`
	NeutralFindings   []Finding          `json:"neutral_findings,omitempty"`
	PositiveFindings  []Finding          `json:"positive_findings,omitempty"`
	Reflections       []Reflection       `json:"reflections,omitempty"`
	SourceURLs        []string           `json:"source_urls,omitempty"`
	TerminationReason TerminationReason  `json:"termination_reason,omitempty"`
}

// Narrator writes the prose sections of the report.
type Narrator interface {
	Narrate(ctx context.Context, req NarrationRequest) (*Narrative, error)
}

// AuditSink stores audit events. Append is called by one writer per session
// in sequence order.
type AuditSink interface {
	Append(ctx context.Context, event AuditEvent) error
}

// AuditReader loads a session's events for replay.
type AuditReader interface {
	ListEvents(ctx context.Context, sessionID string) ([]AuditEvent, error)
}

// Flusher is implemented by sinks that buffer writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// ReportStore persists a finished report and returns where it was written.
type ReportStore interface {
	SaveReport(ctx context.Context, report *Report) (string, error)
}

// Runtime bundles everything a session needs from the outside world. The
// same Engine runs against an in-process Runtime and against one backed by
// workflow activities.
type Runtime struct {
	Clock    Clock
	Planner  Planner
	Searcher BatchSearcher
	Analyzer Analyzer
	Matcher  Matcher
	Mapper   ConnectionMapper
	Narrator Narrator
	Audit    AuditSink

	// Reports is optional.
	Reports ReportStore
}

func (r Runtime) validate() error {
	missing := ""
	switch {
	case r.Planner == nil:
		missing = "planner"
	case r.Searcher == nil:
		missing = "searcher"
	case r.Analyzer == nil:
		missing = "analyzer"
	case r.Matcher == nil:
		missing = "matcher"
	case r.Mapper == nil:
		missing = "connection mapper"
	case r.Narrator == nil:
		missing = "narrator"
	case r.Audit == nil:
		missing = "audit sink"
	}
	if missing != "" {
		return fmt.Errorf("research: runtime has no %s", missing)
	}
	return nil
}
