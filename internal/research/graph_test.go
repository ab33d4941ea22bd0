package research

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const graphSession = "sess-graph"

func initState(t *testing.T) State {
	t.Helper()
	s, err := InitDelta{SessionID: graphSession, Subject: "Jane Roe", MaxDepth: 3, StartedAt: testNow}.Apply(State{})
	require.NoError(t, err)
	return s
}

// seed resolves mentions at depth 0 without a matcher and applies them.
func seed(t *testing.T, mentions ...Mention) State {
	t.Helper()
	s := initState(t)
	res := NewGraphBuilder(&funcMatcher{}).Resolve(context.Background(), s, 0, mentions, nil, testNow)
	s, err := AnalysisDelta{Depth: 0, Decisions: res.Decisions, Edges: res.Edges}.Apply(s)
	require.NoError(t, err)
	return s
}

func TestEntityID(t *testing.T) {
	assert.Equal(t, EntityID("s1", 1), EntityID("s1", 1))
	assert.NotEqual(t, EntityID("s1", 1), EntityID("s1", 2))
	assert.NotEqual(t, EntityID("s1", 1), EntityID("s2", 1))
}

func TestGraphBuilder_PriorRoundAliasGoesToMatcher(t *testing.T) {
	s := seed(t, person("Jane Roe", "Janet Roe"))
	janeID := EntityID(graphSession, 1)
	var got MatchRequest
	matcher := &funcMatcher{fn: func(req MatchRequest) (MatchDecision, error) {
		got = req
		return Matched(janeID, "same employer"), nil
	}}

	res := NewGraphBuilder(matcher).Resolve(context.Background(), s, 1,
		[]Mention{{Name: "  JANET   roe", Kind: EntityPerson}}, nil, testNow)

	require.Len(t, res.Decisions, 1)
	assert.Equal(t, 1, matcher.calls)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, janeID, got.Candidates[0].ID)
	assert.False(t, res.Decisions[0].Created)
	assert.Equal(t, janeID, res.Decisions[0].EntityID)
	assert.Equal(t, matcherCapability, res.Decisions[0].Matcher)
	assert.Equal(t, 1, res.Merged)
}

func TestGraphBuilder_SameNameInLaterRoundCanBeDistinct(t *testing.T) {
	s := initState(t)
	builder := NewGraphBuilder(&funcMatcher{fn: func(MatchRequest) (MatchDecision, error) {
		return Unmatched("different employer and birth year"), nil
	}})

	first := Mention{Name: "John Smith", Kind: EntityPerson,
		Attributes: map[string]string{"employer": "Roe Trading Ltd", "born": "1971"}}
	res := builder.Resolve(context.Background(), s, 0, []Mention{first}, nil, testNow)
	s, err := AnalysisDelta{Depth: 0, Decisions: res.Decisions}.Apply(s)
	require.NoError(t, err)

	second := Mention{Name: "John Smith", Kind: EntityPerson,
		Attributes: map[string]string{"employer": "Harbor Freight Co", "born": "1988"}}
	res = builder.Resolve(context.Background(), s, 1, []Mention{second}, nil, testNow)
	s, err = AnalysisDelta{Depth: 1, Decisions: res.Decisions}.Apply(s)
	require.NoError(t, err)

	require.Len(t, res.Decisions, 1)
	assert.True(t, res.Decisions[0].Created)
	assert.Equal(t, matcherCapability, res.Decisions[0].Matcher)
	assert.Len(t, s.EntityOrder, 2)
	assert.Equal(t, "Roe Trading Ltd", s.Entities[EntityID(graphSession, 1)].Attributes["employer"])
	assert.Equal(t, "Harbor Freight Co", s.Entities[EntityID(graphSession, 2)].Attributes["employer"])
}

func TestGraphBuilder_SameNameDifferentAttributesInOneRound(t *testing.T) {
	s := initState(t)
	matcher := &funcMatcher{}

	res := NewGraphBuilder(matcher).Resolve(context.Background(), s, 0, []Mention{
		{Name: "John Smith", Kind: EntityPerson, Attributes: map[string]string{"born": "1971"}},
		{Name: "john  SMITH", Kind: EntityPerson, Attributes: map[string]string{"born": "1988"}},
		{Name: "John Smith", Kind: EntityPerson, Attributes: map[string]string{"born": "1971"}},
	}, nil, testNow)

	assert.Equal(t, 1, matcher.calls, "only the differing mention is sent to the matcher")
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Merged)
	require.Len(t, res.Decisions, 3)
	assert.Equal(t, matcherRepeated, res.Decisions[2].Matcher)
	assert.Equal(t, res.Decisions[0].EntityID, res.Decisions[2].EntityID)
}

func TestGraphBuilder_RepeatedMentionIsIdempotent(t *testing.T) {
	s := initState(t)
	m := person("Jane Roe")

	res := NewGraphBuilder(&funcMatcher{}).Resolve(context.Background(), s, 0, []Mention{m, m}, nil, testNow)
	require.Equal(t, 1, res.Created)
	require.Equal(t, 1, res.Merged)

	next, err := AnalysisDelta{Depth: 0, Decisions: res.Decisions}.Apply(s)
	require.NoError(t, err)
	require.Len(t, next.EntityOrder, 1)
	jane := next.Entities[next.EntityOrder[0]]
	assert.Equal(t, 2, jane.Mentions)
	assert.Equal(t, []string{"Jane Roe"}, jane.Aliases)
	assert.Len(t, jane.Sources, 1)
}

func TestGraphBuilder_KindSeparatesEntities(t *testing.T) {
	s := seed(t, person("Roe"))
	matcher := &funcMatcher{}

	res := NewGraphBuilder(matcher).Resolve(context.Background(), s, 1, []Mention{org("Roe")}, nil, testNow)

	require.Len(t, res.Decisions, 1)
	assert.True(t, res.Decisions[0].Created)
	assert.Equal(t, matcherNoCandidate, res.Decisions[0].Matcher)
	assert.Equal(t, EntityID(graphSession, 2), res.Decisions[0].EntityID)
	assert.Zero(t, matcher.calls)
}

func TestGraphBuilder_MatcherDecisions(t *testing.T) {
	janeID := EntityID(graphSession, 1)
	orgID := EntityID(graphSession, 2)

	tests := []struct {
		name        string
		decide      func(MatchRequest) (MatchDecision, error)
		wantCreated bool
		wantID      string
		wantErrors  int
	}{
		{
			name:   "matched",
			decide: func(MatchRequest) (MatchDecision, error) { return Matched(janeID, "same employer"), nil },
			wantID: janeID,
		},
		{
			name:        "unmatched",
			decide:      func(MatchRequest) (MatchDecision, error) { return Unmatched("different person"), nil },
			wantCreated: true,
			wantID:      EntityID(graphSession, 3),
		},
		{
			name:        "matcher error",
			decide:      func(MatchRequest) (MatchDecision, error) { return MatchDecision{}, errors.New("timeout") },
			wantCreated: true,
			wantID:      EntityID(graphSession, 3),
			wantErrors:  1,
		},
		{
			name:        "unknown entity",
			decide:      func(MatchRequest) (MatchDecision, error) { return Matched("not-an-entity", ""), nil },
			wantCreated: true,
			wantID:      EntityID(graphSession, 3),
			wantErrors:  1,
		},
		{
			name:        "entity of another kind",
			decide:      func(MatchRequest) (MatchDecision, error) { return Matched(orgID, ""), nil },
			wantCreated: true,
			wantID:      EntityID(graphSession, 3),
			wantErrors:  1,
		},
		{
			name:        "unknown outcome",
			decide:      func(MatchRequest) (MatchDecision, error) { return MatchDecision{Outcome: "maybe"}, nil },
			wantCreated: true,
			wantID:      EntityID(graphSession, 3),
			wantErrors:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seed(t, person("Jane Roe"), org("Roe Holdings"))
			matcher := &funcMatcher{fn: tt.decide}

			res := NewGraphBuilder(matcher).Resolve(context.Background(), s, 1,
				[]Mention{person("J. Roe")}, nil, testNow)

			assert.Equal(t, 1, matcher.calls)
			require.Len(t, res.Decisions, 1)
			assert.Equal(t, tt.wantCreated, res.Decisions[0].Created)
			assert.Equal(t, tt.wantID, res.Decisions[0].EntityID)
			require.Len(t, res.Errors, tt.wantErrors)
			for _, e := range res.Errors {
				assert.Equal(t, ErrorKindMergeAmbiguity, e.Kind)
			}

			next, err := AnalysisDelta{Depth: 1, Decisions: res.Decisions, Errors: res.Errors}.Apply(s)
			require.NoError(t, err)
			assert.Contains(t, next.Entities[tt.wantID].Aliases, "J. Roe")
		})
	}
}

func TestGraphBuilder_MatcherSeesEntitiesFromSameRound(t *testing.T) {
	s := initState(t)
	var seen []int
	matcher := &funcMatcher{fn: func(req MatchRequest) (MatchDecision, error) {
		seen = append(seen, len(req.Candidates))
		return Unmatched(""), nil
	}}

	res := NewGraphBuilder(matcher).Resolve(context.Background(), s, 0,
		[]Mention{person("Jane Roe"), person("John Smith"), person("Ann Lee")}, nil, testNow)

	assert.Equal(t, 3, res.Created)
	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, EntityID(graphSession, 3), res.Decisions[2].EntityID)
}

func TestGraphBuilder_InvalidMentions(t *testing.T) {
	s := initState(t)
	res := NewGraphBuilder(&funcMatcher{}).Resolve(context.Background(), s, 0,
		[]Mention{{Name: "  ", Kind: EntityPerson}, {Name: "Acme", Kind: "vehicle"}}, nil, testNow)

	assert.Empty(t, res.Decisions)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ErrorKindAnalysis, res.Errors[0].Kind)
}

func TestGraphBuilder_RelationshipsPreferCurrentRound(t *testing.T) {
	s := seed(t, person("John Smith"), org("Roe Trading Ltd"))
	orgID := EntityID(graphSession, 2)

	res := NewGraphBuilder(&funcMatcher{}).Resolve(context.Background(), s, 1,
		[]Mention{{Name: "John Smith", Kind: EntityPerson, Attributes: map[string]string{"born": "1988"}}},
		[]RelationshipMention{{Source: "John Smith", Target: "Roe Trading Ltd", Kind: "director_of"}},
		testNow)

	require.Len(t, res.Decisions, 1)
	newID := res.Decisions[0].EntityID
	assert.Equal(t, EntityID(graphSession, 3), newID)
	require.Len(t, res.Edges, 1)
	assert.Equal(t, newID, res.Edges[0].SourceID)
	assert.Equal(t, orgID, res.Edges[0].TargetID)
}

func TestGraphBuilder_Relationships(t *testing.T) {
	s := seed(t, person("Jane Roe"), org("Roe Holdings"))
	janeID, orgID := EntityID(graphSession, 1), EntityID(graphSession, 2)

	res := NewGraphBuilder(&funcMatcher{}).Resolve(context.Background(), s, 1, nil, []RelationshipMention{
		{Source: "jane roe", Target: "Roe Holdings", Sources: []string{"https://registry.example.com/a"}},
		{Source: "Jane Roe", Target: "Jane Roe", Kind: "self"},
		{Source: "Jane Roe", Target: "Unknown Trust", Kind: "beneficiary_of"},
	}, testNow)

	require.Len(t, res.Edges, 1)
	assert.Equal(t, janeID, res.Edges[0].SourceID)
	assert.Equal(t, orgID, res.Edges[0].TargetID)
	assert.Equal(t, defaultRelationshipKind, res.Edges[0].Kind)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "Unknown Trust")
}

func TestGraphBuilder_CancelledMatcherStops(t *testing.T) {
	s := seed(t, person("Jane Roe"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	matcher := &funcMatcher{fn: func(MatchRequest) (MatchDecision, error) {
		return MatchDecision{}, context.Canceled
	}}

	res := NewGraphBuilder(matcher).Resolve(ctx, s, 1, []Mention{person("J. Roe"), person("Ann Lee")}, nil, testNow)

	assert.ErrorIs(t, res.MatcherErr, context.Canceled)
	assert.Empty(t, res.Decisions)
	assert.Equal(t, 1, matcher.calls)
}
