package research

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/osint-research-service/internal/domain"
)

const (
	matcherRepeated    = "repeated_mention"
	matcherNoCandidate = "no_candidates"
	matcherCapability  = "matcher"
	matcherFallback    = "fallback"
)

const defaultRelationshipKind = "associated_with"

// entityNamespace scopes derived entity IDs.
var entityNamespace = uuid.MustParse("6f1c3f0e-8a0b-5c4e-9a51-3b8f2d7c1e90")

// EntityID derives the canonical ID of the ordinal-th entity created in a
// session. IDs depend only on the session and creation order, so replaying
// a session reproduces them.
func EntityID(sessionID string, ordinal int) string {
	return uuid.NewSHA1(entityNamespace, []byte(sessionID+"/entity/"+strconv.Itoa(ordinal))).String()
}

// GraphResult is the outcome of resolving one round of mentions.
type GraphResult struct {
	Decisions []EntityDecision
	Edges     []RelationshipEdge
	Errors    []ErrorRecord
	Created   int
	Merged    int

	// MatcherErr holds the last error returned by the matcher, if any.
	MatcherErr error
	// MatcherOK is true when at least one matcher call succeeded.
	MatcherOK bool
}

// GraphBuilder resolves entity mentions into canonical entities.
type GraphBuilder struct {
	matcher Matcher
}

// NewGraphBuilder creates a GraphBuilder using matcher for non-trivial matches.
func NewGraphBuilder(matcher Matcher) *GraphBuilder {
	return &GraphBuilder{matcher: matcher}
}

// graphView tracks entities while a round is being resolved, including
// entities created earlier in the same round.
type graphView struct {
	entities []*Entity
	byID     map[string]*Entity
	byName   map[string]string // normalized name -> first id

	// Only mentions resolved by the current call are remembered. Earlier
	// rounds always go through the matcher, since a shared name is not
	// evidence of a shared identity.
	seen       map[string]string // mention fingerprint -> id
	roundNames map[string]string // normalized name -> id resolved this round
}

func newGraphView(s State) *graphView {
	v := &graphView{
		byID:       make(map[string]*Entity),
		byName:     make(map[string]string),
		seen:       make(map[string]string),
		roundNames: make(map[string]string),
	}
	for _, e := range s.EntityList() {
		v.add(e)
	}
	return v
}

func (v *graphView) add(e Entity) {
	v.entities = append(v.entities, &e)
	v.byID[e.ID] = &e
	v.index(e)
}

func (v *graphView) index(e Entity) {
	for _, name := range append([]string{e.Name}, e.Aliases...) {
		n := domain.NormalizeQuery(name)
		if n == "" {
			continue
		}
		if _, ok := v.byName[n]; !ok {
			v.byName[n] = e.ID
		}
	}
}

// remember records that m resolved to id in the current round.
func (v *graphView) remember(m Mention, id string) {
	v.seen[fingerprint(m)] = id
	for _, name := range append([]string{m.Name}, m.Aliases...) {
		n := domain.NormalizeQuery(name)
		if n == "" {
			continue
		}
		if _, ok := v.roundNames[n]; !ok {
			v.roundNames[n] = id
		}
	}
}

// lookup resolves a relationship endpoint, preferring entities the current
// round's mentions resolved to.
func (v *graphView) lookup(name string) (string, bool) {
	n := domain.NormalizeQuery(name)
	if id, ok := v.roundNames[n]; ok {
		return id, true
	}
	id, ok := v.byName[n]
	return id, ok
}

// fingerprint identifies a mention by kind, normalized names and attributes.
// Sources are left out: the same mention cited twice is still one mention.
func fingerprint(m Mention) string {
	aliases := make([]string, 0, len(m.Aliases))
	for _, a := range m.Aliases {
		if n := domain.NormalizeQuery(a); n != "" {
			aliases = append(aliases, n)
		}
	}
	sort.Strings(aliases)
	attrs := make([]string, 0, len(m.Attributes))
	for k, val := range m.Attributes {
		attrs = append(attrs, strings.ToLower(strings.TrimSpace(k))+"="+domain.NormalizeQuery(val))
	}
	sort.Strings(attrs)
	return strings.Join([]string{
		string(m.Kind),
		domain.NormalizeQuery(m.Name),
		strings.Join(aliases, "\x01"),
		strings.Join(attrs, "\x01"),
	}, "\x00")
}

func (v *graphView) candidates(kind EntityKind) []Entity {
	var out []Entity
	for _, e := range v.entities {
		if e.Kind == kind {
			out = append(out, *e)
		}
	}
	return out
}

// Resolve maps each mention onto an existing entity or a new one and turns
// relationship mentions into edges between resolved IDs. A mention is never
// dropped because matching failed: an unreachable or ambiguous matcher
// yields a new entity and an error record.
func (b *GraphBuilder) Resolve(ctx context.Context, s State, depth int, mentions []Mention, rels []RelationshipMention, now time.Time) GraphResult {
	var res GraphResult
	view := newGraphView(s)
	nextOrdinal := len(s.EntityOrder) + 1

	for _, m := range mentions {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			continue
		}
		if !m.Kind.Valid() {
			res.Errors = append(res.Errors, ErrorRecord{
				Kind: ErrorKindAnalysis, Phase: PhaseAnalyzing, Depth: depth, At: now,
				Message: fmt.Sprintf("mention %q has unknown kind %q", m.Name, m.Kind),
			})
			continue
		}

		if id, ok := view.seen[fingerprint(m)]; ok {
			res.Decisions = append(res.Decisions, EntityDecision{
				Mention: m, EntityID: id, Matcher: matcherRepeated,
				Rationale: "identical mention earlier in this round",
			})
			view.merge(id, m)
			res.Merged++
			continue
		}

		candidates := view.candidates(m.Kind)
		if len(candidates) == 0 {
			id := EntityID(s.SessionID, nextOrdinal)
			nextOrdinal++
			res.Decisions = append(res.Decisions, EntityDecision{
				Mention: m, EntityID: id, Created: true, Matcher: matcherNoCandidate,
				Rationale: "no existing " + string(m.Kind) + " entities",
			})
			view.add(newEntity(id, m, depth))
			view.remember(m, id)
			res.Created++
			continue
		}

		decision, err := b.matcher.Match(ctx, MatchRequest{
			SessionID:  s.SessionID,
			Subject:    s.Subject,
			Mention:    m,
			Candidates: candidates,
		})
		if err != nil {
			res.MatcherErr = err
			if ctx.Err() != nil || errors.Is(err, ErrUnrecoverable) {
				return res
			}
		} else {
			res.MatcherOK = true
		}

		var ambiguity *MergeAmbiguityError
		switch {
		case err != nil:
			ambiguity = &MergeAmbiguityError{Mention: m.Name, Reason: "matcher failed", Err: err}
		case decision.Outcome == OutcomeMatched:
			if target, known := view.byID[decision.EntityID]; !known || target.Kind != m.Kind {
				ambiguity = &MergeAmbiguityError{
					Mention: m.Name,
					Reason:  fmt.Sprintf("matched entity %q is not a %s candidate", decision.EntityID, m.Kind),
				}
				break
			}
			res.Decisions = append(res.Decisions, EntityDecision{
				Mention: m, EntityID: decision.EntityID, Matcher: matcherCapability,
				Rationale: decision.Rationale,
			})
			view.merge(decision.EntityID, m)
			view.remember(m, decision.EntityID)
			res.Merged++
			continue
		case decision.Outcome != OutcomeUnmatched:
			ambiguity = &MergeAmbiguityError{Mention: m.Name, Reason: fmt.Sprintf("unknown outcome %q", decision.Outcome)}
		}

		id := EntityID(s.SessionID, nextOrdinal)
		nextOrdinal++
		dec := EntityDecision{Mention: m, EntityID: id, Created: true, Matcher: matcherCapability, Rationale: decision.Rationale}
		if ambiguity != nil {
			dec.Matcher = matcherFallback
			dec.Rationale = ambiguity.Error()
			res.Errors = append(res.Errors, ErrorRecord{
				Kind: ErrorKindMergeAmbiguity, Phase: PhaseAnalyzing, Depth: depth, At: now,
				Message: ambiguity.Error(),
			})
		}
		res.Decisions = append(res.Decisions, dec)
		view.add(newEntity(id, m, depth))
		view.remember(m, id)
		res.Created++
	}

	for _, r := range rels {
		src, okSrc := view.lookup(r.Source)
		dst, okDst := view.lookup(r.Target)
		if !okSrc || !okDst {
			res.Errors = append(res.Errors, ErrorRecord{
				Kind: ErrorKindAnalysis, Phase: PhaseAnalyzing, Depth: depth, At: now,
				Message: fmt.Sprintf("relationship %q -> %q references an unresolved entity", r.Source, r.Target),
			})
			continue
		}
		if src == dst {
			continue
		}
		kind := strings.TrimSpace(r.Kind)
		if kind == "" {
			kind = defaultRelationshipKind
		}
		res.Edges = append(res.Edges, RelationshipEdge{
			SourceID:   src,
			TargetID:   dst,
			Kind:       kind,
			Sources:    r.Sources,
			Confidence: r.Confidence,
		})
	}
	return res
}

func (v *graphView) merge(id string, m Mention) {
	e := v.byID[id]
	*e = mergeMention(*e, m)
	v.index(*e)
}
