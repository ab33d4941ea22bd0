// Package research implements the iterative research loop: planning search
// queries, fanning them out, folding findings into an entity graph, deciding
// when to stop and assembling the final risk report. Every state change is a
// Delta applied by a pure reducer and written to the audit trail, so a
// session can be reconstructed from its events.
package research

import (
	"sort"
	"time"
)

// Phase is the position of a session in the research state machine.
type Phase string

const (
	PhaseInitializing      Phase = "initializing"
	PhasePlanning          Phase = "planning"
	PhaseSearching         Phase = "searching"
	PhaseAnalyzing         Phase = "analyzing"
	PhaseRouting           Phase = "routing"
	PhaseConnectionMapping Phase = "connection_mapping"
	PhaseSynthesizing      Phase = "synthesizing"
	PhaseDone              Phase = "done"
	PhaseFailed            Phase = "failed"
)

var phaseTransitions = map[Phase][]Phase{
	PhaseInitializing:      {PhasePlanning},
	PhasePlanning:          {PhaseSearching, PhaseAnalyzing},
	PhaseSearching:         {PhaseAnalyzing},
	PhaseAnalyzing:         {PhaseRouting},
	PhaseRouting:           {PhasePlanning, PhaseConnectionMapping},
	PhaseConnectionMapping: {PhaseSynthesizing},
	PhaseSynthesizing:      {PhaseDone},
}

// CanTransitionTo reports whether the state machine allows p -> next.
// Every non-terminal phase may move to PhaseFailed.
func (p Phase) CanTransitionTo(next Phase) bool {
	if p == PhaseDone || p == PhaseFailed {
		return false
	}
	if next == PhaseFailed {
		return true
	}
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TerminationReason records why the research loop stopped.
type TerminationReason string

const (
	ReasonNone           TerminationReason = ""
	ReasonMaxDepth       TerminationReason = "max_depth"
	ReasonReflectionStop TerminationReason = "reflection_stop"
	ReasonStagnation     TerminationReason = "stagnation"
)

// EntityKind classifies a canonical entity.
type EntityKind string

const (
	EntityPerson       EntityKind = "person"
	EntityOrganization EntityKind = "organization"
	EntityEvent        EntityKind = "event"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	switch k {
	case EntityPerson, EntityOrganization, EntityEvent:
		return true
	default:
		return false
	}
}

// FindingCategory tags a finding for the report.
type FindingCategory string

const (
	CategoryRedFlag  FindingCategory = "red_flag"
	CategoryNeutral  FindingCategory = "neutral"
	CategoryPositive FindingCategory = "positive"
)

// Source is one search hit.
type Source struct {
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Snippet     string    `json:"snippet,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// SearchResultRecord is the result of one executed query. It is never
// modified after it has been appended to the search memory.
type SearchResultRecord struct {
	Query   string   `json:"query"`
	Depth   int      `json:"depth"`
	Sources []Source `json:"sources,omitempty"`
}

// Finding is a tagged observation about the subject.
type Finding struct {
	Category    FindingCategory `json:"category"`
	Severity    Severity        `json:"severity,omitempty"`
	Description string          `json:"description"`
	Sources     []string        `json:"sources,omitempty"`
	Entities    []string        `json:"entities,omitempty"`
	Depth       int             `json:"depth"`
	Origin      string          `json:"origin,omitempty"`
}

// Reflection is the analyzer's assessment of one completed depth.
type Reflection struct {
	Depth          int      `json:"depth"`
	Summary        string   `json:"summary"`
	ShouldContinue bool     `json:"should_continue"`
	Rationale      string   `json:"rationale,omitempty"`
	Gaps           []string `json:"gaps,omitempty"`
	NewEntities    int      `json:"new_entities"`
	NoProgress     bool     `json:"no_progress,omitempty"`
	Degraded       bool     `json:"degraded,omitempty"`
}

// Entity is a canonical person, organization or event. Its ID never changes
// once assigned and entities are never removed from a session.
type Entity struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Kind           EntityKind        `json:"kind"`
	Aliases        []string          `json:"aliases,omitempty"`
	Sources        []string          `json:"sources,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	FirstSeenDepth int               `json:"first_seen_depth"`
	Mentions       int               `json:"mentions"`
}

// RelationshipEdge links two entities. Edges are undirected for
// deduplication: (a, b, kind) and (b, a, kind) are the same edge.
type RelationshipEdge struct {
	SourceID   string   `json:"source_id"`
	TargetID   string   `json:"target_id"`
	Kind       string   `json:"kind"`
	Sources    []string `json:"sources,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Pattern    string   `json:"pattern,omitempty"`
	Suspicious bool     `json:"suspicious,omitempty"`
	Rationale  string   `json:"rationale,omitempty"`
}

func (e RelationshipEdge) key() edgeKey {
	a, b := e.SourceID, e.TargetID
	if b < a {
		a, b = b, a
	}
	return edgeKey{a: a, b: b, kind: e.Kind}
}

type edgeKey struct {
	a, b, kind string
}

// KeyEntity is an entity the connection mapper ranked as central.
type KeyEntity struct {
	EntityID   string  `json:"entity_id"`
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
	Reason     string  `json:"reason,omitempty"`
}

// ErrorKind classifies an ErrorRecord.
type ErrorKind string

const (
	ErrorKindPlanning          ErrorKind = "planning"
	ErrorKindSearch            ErrorKind = "search"
	ErrorKindAnalysis          ErrorKind = "analysis"
	ErrorKindMergeAmbiguity    ErrorKind = "merge_ambiguity"
	ErrorKindConnectionMapping ErrorKind = "connection_mapping"
	ErrorKindSynthesis         ErrorKind = "synthesis"
	ErrorKindPersistence       ErrorKind = "persistence"
	ErrorKindUnrecoverable     ErrorKind = "unrecoverable"
)

// ErrorRecord is an entry in the session error log.
type ErrorRecord struct {
	Kind    ErrorKind `json:"kind"`
	Phase   Phase     `json:"phase"`
	Depth   int       `json:"depth"`
	Query   string    `json:"query,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// State is the full research state of one session. Values are never
// modified in place: every step derives a new State from the previous one
// and a Delta. All fields except PendingQueries only grow or stay fixed.
type State struct {
	SessionID string    `json:"session_id"`
	Subject   string    `json:"subject"`
	Context   string    `json:"context,omitempty"`
	MaxDepth  int       `json:"max_depth"`
	StartedAt time.Time `json:"started_at"`

	Phase        Phase `json:"phase"`
	CurrentDepth int   `json:"current_depth"`

	PendingQueries     []string `json:"pending_queries,omitempty"`
	ExecutedQueryCount int      `json:"executed_query_count"`
	ExecutedQueries    []string `json:"executed_queries,omitempty"`

	SearchMemory     []SearchResultRecord `json:"search_memory,omitempty"`
	ReflectionMemory []Reflection         `json:"reflection_memory,omitempty"`

	Entities    map[string]Entity  `json:"entities,omitempty"`
	EntityOrder []string           `json:"entity_order,omitempty"`
	Edges       []RelationshipEdge `json:"edges,omitempty"`
	KeyEntities []KeyEntity        `json:"key_entities,omitempty"`

	RedFlags         []Finding `json:"red_flags,omitempty"`
	NeutralFindings  []Finding `json:"neutral_findings,omitempty"`
	PositiveFindings []Finding `json:"positive_findings,omitempty"`

	ShouldContinue    bool              `json:"should_continue"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
	RoundProgress     []int             `json:"round_progress,omitempty"`

	ErrorLog []ErrorRecord `json:"error_log,omitempty"`
	Failure  string        `json:"failure,omitempty"`
}

// EntityList returns entities in creation order.
func (s State) EntityList() []Entity {
	out := make([]Entity, 0, len(s.EntityOrder))
	for _, id := range s.EntityOrder {
		out = append(out, s.Entities[id])
	}
	return out
}

// LatestReflection returns the most recent reflection, or nil before the
// first analysis step.
func (s State) LatestReflection() *Reflection {
	if len(s.ReflectionMemory) == 0 {
		return nil
	}
	r := s.ReflectionMemory[len(s.ReflectionMemory)-1]
	return &r
}

// RecordsAtDepth returns the search records appended for depth.
func (s State) RecordsAtDepth(depth int) []SearchResultRecord {
	var out []SearchResultRecord
	for _, rec := range s.SearchMemory {
		if rec.Depth == depth {
			out = append(out, rec)
		}
	}
	return out
}

// SourceURLs returns the distinct source URLs seen so far, sorted.
func (s State) SourceURLs() []string {
	seen := make(map[string]struct{})
	for _, rec := range s.SearchMemory {
		for _, src := range rec.Sources {
			if src.URL != "" {
				seen[src.URL] = struct{}{}
			}
		}
	}
	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// FindingCount returns the number of tagged findings of every category.
func (s State) FindingCount() int {
	return len(s.RedFlags) + len(s.NeutralFindings) + len(s.PositiveFindings)
}

// Progress is a compact view of a running session.
type Progress struct {
	SessionID         string            `json:"session_id"`
	Phase             Phase             `json:"phase"`
	CurrentDepth      int               `json:"current_depth"`
	MaxDepth          int               `json:"max_depth"`
	QueriesExecuted   int               `json:"queries_executed"`
	SourcesFound      int               `json:"sources_found"`
	EntitiesFound     int               `json:"entities_found"`
	EdgesFound        int               `json:"edges_found"`
	RedFlags          int               `json:"red_flags"`
	Errors            int               `json:"errors"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
}

// Progress summarizes s.
func (s State) Progress() Progress {
	return Progress{
		SessionID:         s.SessionID,
		Phase:             s.Phase,
		CurrentDepth:      s.CurrentDepth,
		MaxDepth:          s.MaxDepth,
		QueriesExecuted:   s.ExecutedQueryCount,
		SourcesFound:      len(s.SourceURLs()),
		EntitiesFound:     len(s.EntityOrder),
		EdgesFound:        len(s.Edges),
		RedFlags:          len(s.RedFlags),
		Errors:            len(s.ErrorLog),
		TerminationReason: s.TerminationReason,
	}
}
