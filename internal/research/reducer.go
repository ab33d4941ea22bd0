package research

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/helixir/osint-research-service/internal/domain"
)

// Delta is one recorded state change. Apply never modifies its receiver
// state; it returns a new State or an error when the delta is inconsistent
// with the state it is applied to.
type Delta interface {
	// Step names the delta in the audit trail.
	Step() string
	Apply(s State) (State, error)
}

// Audit step names for state-transition events.
const (
	StepSessionInitialized = "session_initialized"
	StepPhaseChanged       = "phase_changed"
	StepQueriesPlanned     = "queries_planned"
	StepSearchCompleted    = "search_completed"
	StepAnalysisApplied    = "analysis_applied"
	StepRoutingDecided     = "routing_decided"
	StepConnectionsMapped  = "connections_mapped"
	StepErrorsRecorded     = "errors_recorded"
	StepSessionFailed      = "session_failed"
)

// InitDelta creates the initial state of a session.
type InitDelta struct {
	SessionID string    `json:"session_id"`
	Subject   string    `json:"subject"`
	Context   string    `json:"context,omitempty"`
	MaxDepth  int       `json:"max_depth"`
	StartedAt time.Time `json:"started_at"`
}

func (InitDelta) Step() string { return StepSessionInitialized }

func (d InitDelta) Apply(s State) (State, error) {
	if s.SessionID != "" {
		return s, fmt.Errorf("session %s already initialized", s.SessionID)
	}
	if d.SessionID == "" || d.MaxDepth < 1 {
		return s, fmt.Errorf("invalid session initialization")
	}
	return State{
		SessionID:      d.SessionID,
		Subject:        d.Subject,
		Context:        d.Context,
		MaxDepth:       d.MaxDepth,
		StartedAt:      d.StartedAt,
		Phase:          PhaseInitializing,
		ShouldContinue: true,
		Entities:       map[string]Entity{},
	}, nil
}

// PhaseDelta moves the state machine.
type PhaseDelta struct {
	From  Phase `json:"from"`
	To    Phase `json:"to"`
	Depth int   `json:"depth"`
}

func (PhaseDelta) Step() string { return StepPhaseChanged }

func (d PhaseDelta) Apply(s State) (State, error) {
	if s.Phase != d.From {
		return s, fmt.Errorf("phase change from %s recorded while in %s", d.From, s.Phase)
	}
	if !d.From.CanTransitionTo(d.To) {
		return s, fmt.Errorf("phase change %s -> %s not allowed", d.From, d.To)
	}
	next := s.clone()
	next.Phase = d.To
	return next, nil
}

// PlanDelta records the queries accepted for a round.
type PlanDelta struct {
	Depth     int           `json:"depth"`
	Goal      string        `json:"goal,omitempty"`
	Queries   []string      `json:"queries,omitempty"`
	Discarded []string      `json:"discarded,omitempty"`
	Errors    []ErrorRecord `json:"errors,omitempty"`
}

func (PlanDelta) Step() string { return StepQueriesPlanned }

func (d PlanDelta) Apply(s State) (State, error) {
	if d.Depth != s.CurrentDepth {
		return s, fmt.Errorf("plan for depth %d applied at depth %d", d.Depth, s.CurrentDepth)
	}
	next := s.clone()
	next.PendingQueries = slices.Clone(d.Queries)
	next.ErrorLog = append(next.ErrorLog, d.Errors...)
	return next, nil
}

// SearchDelta records one executed search batch. Queries lists every query
// that was attempted, including the ones listed in Failures.
type SearchDelta struct {
	Depth        int                  `json:"depth"`
	Goal         string               `json:"goal,omitempty"`
	Queries      []string             `json:"queries"`
	Records      []SearchResultRecord `json:"records,omitempty"`
	Failures     []ErrorRecord        `json:"failures,omitempty"`
	SourcesFound int                  `json:"sources_found"`
}

func (SearchDelta) Step() string { return StepSearchCompleted }

func (d SearchDelta) Apply(s State) (State, error) {
	if d.Depth != s.CurrentDepth {
		return s, fmt.Errorf("search for depth %d applied at depth %d", d.Depth, s.CurrentDepth)
	}
	next := s.clone()
	next.PendingQueries = nil
	next.ExecutedQueryCount += len(d.Queries)
	for _, q := range d.Queries {
		next.ExecutedQueries = append(next.ExecutedQueries, domain.NormalizeQuery(q))
	}
	next.SearchMemory = append(next.SearchMemory, d.Records...)
	next.ErrorLog = append(next.ErrorLog, d.Failures...)
	return next, nil
}

// EntityDecision is the outcome of resolving one entity mention.
type EntityDecision struct {
	Mention   Mention `json:"mention"`
	EntityID  string  `json:"entity_id"`
	Created   bool    `json:"created"`
	Matcher   string  `json:"matcher"`
	Rationale string  `json:"rationale,omitempty"`
}

// AnalysisDelta folds one analysis step into the state and completes the
// current depth.
type AnalysisDelta struct {
	Depth      int                `json:"depth"`
	Reflection Reflection         `json:"reflection"`
	Decisions  []EntityDecision   `json:"decisions,omitempty"`
	Edges      []RelationshipEdge `json:"edges,omitempty"`
	Findings   []Finding          `json:"findings,omitempty"`
	Errors     []ErrorRecord      `json:"errors,omitempty"`
}

func (AnalysisDelta) Step() string { return StepAnalysisApplied }

func (d AnalysisDelta) Apply(s State) (State, error) {
	if d.Depth != s.CurrentDepth {
		return s, fmt.Errorf("analysis for depth %d applied at depth %d", d.Depth, s.CurrentDepth)
	}
	next := s.clone()
	created := 0
	for _, dec := range d.Decisions {
		if dec.Created {
			if _, exists := next.Entities[dec.EntityID]; exists {
				return s, fmt.Errorf("entity %s created twice", dec.EntityID)
			}
			next.Entities[dec.EntityID] = newEntity(dec.EntityID, dec.Mention, d.Depth)
			next.EntityOrder = append(next.EntityOrder, dec.EntityID)
			created++
			continue
		}
		existing, ok := next.Entities[dec.EntityID]
		if !ok {
			return s, fmt.Errorf("mention %q merged into unknown entity %s", dec.Mention.Name, dec.EntityID)
		}
		next.Entities[dec.EntityID] = mergeMention(existing, dec.Mention)
	}
	for _, e := range d.Edges {
		var err error
		if next.Edges, err = addEdge(next.Edges, next.Entities, e); err != nil {
			return s, err
		}
	}
	next.appendFindings(d.Findings)
	reflection := d.Reflection
	reflection.Depth = d.Depth
	reflection.NewEntities = created
	next.ReflectionMemory = append(next.ReflectionMemory, reflection)
	next.RoundProgress = append(next.RoundProgress, created)
	next.ErrorLog = append(next.ErrorLog, d.Errors...)
	next.CurrentDepth++
	return next, nil
}

// RoutingDelta records the termination decision taken after a round.
type RoutingDelta struct {
	Depth    int               `json:"depth"`
	Continue bool              `json:"continue"`
	Reason   TerminationReason `json:"reason,omitempty"`
}

func (RoutingDelta) Step() string { return StepRoutingDecided }

func (d RoutingDelta) Apply(s State) (State, error) {
	if s.TerminationReason != ReasonNone {
		return s, fmt.Errorf("termination reason already set to %s", s.TerminationReason)
	}
	if !d.Continue && d.Reason == ReasonNone {
		return s, fmt.Errorf("stop decision without a reason")
	}
	next := s.clone()
	next.ShouldContinue = d.Continue
	if !d.Continue {
		next.TerminationReason = d.Reason
	}
	return next, nil
}

// ConnectionDelta adds or enriches edges after the loop has finished.
type ConnectionDelta struct {
	Edges       []RelationshipEdge `json:"edges,omitempty"`
	KeyEntities []KeyEntity        `json:"key_entities,omitempty"`
	Findings    []Finding          `json:"findings,omitempty"`
	Errors      []ErrorRecord      `json:"errors,omitempty"`
}

func (ConnectionDelta) Step() string { return StepConnectionsMapped }

func (d ConnectionDelta) Apply(s State) (State, error) {
	next := s.clone()
	for _, e := range d.Edges {
		var err error
		if next.Edges, err = addEdge(next.Edges, next.Entities, e); err != nil {
			return s, err
		}
	}
	for _, k := range d.KeyEntities {
		if _, ok := next.Entities[k.EntityID]; !ok {
			return s, fmt.Errorf("key entity %s is unknown", k.EntityID)
		}
	}
	next.KeyEntities = append(next.KeyEntities, d.KeyEntities...)
	next.appendFindings(d.Findings)
	next.ErrorLog = append(next.ErrorLog, d.Errors...)
	return next, nil
}

// ErrorDelta appends error records that are not tied to another delta.
type ErrorDelta struct {
	Errors []ErrorRecord `json:"errors"`
}

func (ErrorDelta) Step() string { return StepErrorsRecorded }

func (d ErrorDelta) Apply(s State) (State, error) {
	next := s.clone()
	next.ErrorLog = append(next.ErrorLog, d.Errors...)
	return next, nil
}

// FailureDelta moves the session to PhaseFailed.
type FailureDelta struct {
	Error ErrorRecord `json:"error"`
}

func (FailureDelta) Step() string { return StepSessionFailed }

func (d FailureDelta) Apply(s State) (State, error) {
	if s.Phase == PhaseDone || s.Phase == PhaseFailed {
		return s, fmt.Errorf("session already finished in phase %s", s.Phase)
	}
	next := s.clone()
	next.Phase = PhaseFailed
	next.ShouldContinue = false
	next.Failure = d.Error.Message
	next.ErrorLog = append(next.ErrorLog, d.Error)
	return next, nil
}

func (s State) clone() State {
	next := s
	next.PendingQueries = slices.Clone(s.PendingQueries)
	next.ExecutedQueries = slices.Clone(s.ExecutedQueries)
	next.SearchMemory = slices.Clone(s.SearchMemory)
	next.ReflectionMemory = slices.Clone(s.ReflectionMemory)
	next.Entities = maps.Clone(s.Entities)
	if next.Entities == nil {
		next.Entities = map[string]Entity{}
	}
	next.EntityOrder = slices.Clone(s.EntityOrder)
	next.Edges = slices.Clone(s.Edges)
	next.KeyEntities = slices.Clone(s.KeyEntities)
	next.RedFlags = slices.Clone(s.RedFlags)
	next.NeutralFindings = slices.Clone(s.NeutralFindings)
	next.PositiveFindings = slices.Clone(s.PositiveFindings)
	next.RoundProgress = slices.Clone(s.RoundProgress)
	next.ErrorLog = slices.Clone(s.ErrorLog)
	return next
}

func (s *State) appendFindings(findings []Finding) {
	for _, f := range findings {
		switch f.Category {
		case CategoryRedFlag:
			s.RedFlags = append(s.RedFlags, f)
		case CategoryPositive:
			s.PositiveFindings = append(s.PositiveFindings, f)
		default:
			f.Category = CategoryNeutral
			s.NeutralFindings = append(s.NeutralFindings, f)
		}
	}
}

func newEntity(id string, m Mention, depth int) Entity {
	e := Entity{
		ID:             id,
		Name:           strings.TrimSpace(m.Name),
		Kind:           m.Kind,
		FirstSeenDepth: depth,
	}
	return mergeMention(e, m)
}

// mergeMention returns a copy of e with the mention's aliases, sources and
// attributes folded in. Existing attribute values win; a differing value is
// appended so nothing a source reported is lost.
func mergeMention(e Entity, m Mention) Entity {
	names := append([]string{m.Name}, m.Aliases...)
	e.Aliases = unionStrings(e.Aliases, names)
	e.Sources = unionStrings(e.Sources, m.Sources)
	if len(m.Attributes) > 0 {
		attrs := maps.Clone(e.Attributes)
		if attrs == nil {
			attrs = make(map[string]string, len(m.Attributes))
		}
		for _, k := range sortedKeys(m.Attributes) {
			v := strings.TrimSpace(m.Attributes[k])
			if v == "" {
				continue
			}
			cur, ok := attrs[k]
			switch {
			case !ok || cur == "":
				attrs[k] = v
			case !containsFold(strings.Split(cur, "; "), v):
				attrs[k] = cur + "; " + v
			}
		}
		e.Attributes = attrs
	}
	e.Mentions++
	return e
}

// addEdge merges e into edges. An undirected duplicate has its sources
// unioned and its annotation enriched; the suspicion flag is never cleared.
func addEdge(edges []RelationshipEdge, entities map[string]Entity, e RelationshipEdge) ([]RelationshipEdge, error) {
	if _, ok := entities[e.SourceID]; !ok {
		return edges, fmt.Errorf("edge references unknown entity %s", e.SourceID)
	}
	if _, ok := entities[e.TargetID]; !ok {
		return edges, fmt.Errorf("edge references unknown entity %s", e.TargetID)
	}
	k := e.key()
	for i, existing := range edges {
		if existing.key() != k {
			continue
		}
		merged := existing
		merged.Sources = unionStrings(existing.Sources, e.Sources)
		if e.Confidence > merged.Confidence {
			merged.Confidence = e.Confidence
		}
		if merged.Pattern == "" {
			merged.Pattern = e.Pattern
		}
		merged.Suspicious = existing.Suspicious || e.Suspicious
		if e.Rationale != "" && !strings.Contains(merged.Rationale, e.Rationale) {
			if merged.Rationale == "" {
				merged.Rationale = e.Rationale
			} else {
				merged.Rationale += "; " + e.Rationale
			}
		}
		edges[i] = merged
		return edges, nil
	}
	e.Sources = unionStrings(nil, e.Sources)
	return append(edges, e), nil
}

// unionStrings appends the values of add that are not already present in
// base, compared case-insensitively. Order of first appearance is kept.
func unionStrings(base, add []string) []string {
	out := slices.Clone(base)
	for _, v := range add {
		v = strings.TrimSpace(v)
		if v == "" || containsFold(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CheckMonotonic returns an error describing the first field of next that
// shrank or changed relative to prev where only growth is allowed.
func CheckMonotonic(prev, next State) error {
	if prev.SessionID == "" {
		return nil
	}
	switch {
	case prev.SessionID != next.SessionID, prev.Subject != next.Subject,
		prev.Context != next.Context, prev.MaxDepth != next.MaxDepth:
		return fmt.Errorf("immutable session fields changed")
	case next.CurrentDepth < prev.CurrentDepth:
		return fmt.Errorf("current depth decreased from %d to %d", prev.CurrentDepth, next.CurrentDepth)
	case next.ExecutedQueryCount < prev.ExecutedQueryCount:
		return fmt.Errorf("executed query count decreased")
	case len(next.ExecutedQueries) < len(prev.ExecutedQueries):
		return fmt.Errorf("executed queries shrank")
	case len(next.SearchMemory) < len(prev.SearchMemory):
		return fmt.Errorf("search memory shrank")
	case len(next.ReflectionMemory) < len(prev.ReflectionMemory):
		return fmt.Errorf("reflection memory shrank")
	case len(next.Edges) < len(prev.Edges):
		return fmt.Errorf("edges shrank")
	case len(next.RedFlags) < len(prev.RedFlags),
		len(next.NeutralFindings) < len(prev.NeutralFindings),
		len(next.PositiveFindings) < len(prev.PositiveFindings):
		return fmt.Errorf("findings shrank")
	case len(next.ErrorLog) < len(prev.ErrorLog):
		return fmt.Errorf("error log shrank")
	case len(next.RoundProgress) < len(prev.RoundProgress):
		return fmt.Errorf("round progress shrank")
	case prev.TerminationReason != ReasonNone && next.TerminationReason != prev.TerminationReason:
		return fmt.Errorf("termination reason changed after being set")
	}
	for _, id := range prev.EntityOrder {
		before := prev.Entities[id]
		after, ok := next.Entities[id]
		if !ok {
			return fmt.Errorf("entity %s removed", id)
		}
		if len(after.Aliases) < len(before.Aliases) || len(after.Sources) < len(before.Sources) ||
			after.Mentions < before.Mentions {
			return fmt.Errorf("entity %s lost aliases or sources", id)
		}
	}
	for i, e := range prev.Edges {
		if next.Edges[i].key() != e.key() || len(next.Edges[i].Sources) < len(e.Sources) {
			return fmt.Errorf("edge %s-%s changed identity or lost sources", e.SourceID, e.TargetID)
		}
		if e.Suspicious && !next.Edges[i].Suspicious {
			return fmt.Errorf("edge %s-%s lost its suspicion flag", e.SourceID, e.TargetID)
		}
	}
	return nil
}
