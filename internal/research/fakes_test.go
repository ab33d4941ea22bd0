package research

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/helixir/osint-research-service/internal/domain"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type scriptedPlanner struct {
	mu    sync.Mutex
	plans map[int]*Plan
	errs  map[int]error
	calls []PlanRequest
}

func (p *scriptedPlanner) Plan(_ context.Context, req PlanRequest) (*Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if err := p.errs[req.Depth]; err != nil {
		return nil, err
	}
	if plan, ok := p.plans[req.Depth]; ok {
		return plan, nil
	}
	return &Plan{
		Goal:    fmt.Sprintf("round %d", req.Depth),
		Queries: []string{fmt.Sprintf("%s background %d", req.Subject, req.Depth)},
	}, nil
}

func (p *scriptedPlanner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// stubSearcher answers every query with one source unless configured otherwise.
type stubSearcher struct {
	mu      sync.Mutex
	errs    map[string]error
	empty   map[string]bool
	delay   time.Duration
	block   chan struct{}
	queries []string
}

func (s *stubSearcher) Name() string { return "stub" }

func (s *stubSearcher) Search(ctx context.Context, query string) ([]Source, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	err := s.errs[query]
	empty := s.empty[query]
	s.mu.Unlock()

	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, nil
	}
	return []Source{{
		URL:     "https://news.example.com/" + domain.NormalizeQuery(query),
		Title:   "Result for " + query,
		Snippet: "snippet about " + query,
	}}, nil
}

type scriptedAnalyzer struct {
	mu       sync.Mutex
	byDepth  map[int]*Analysis
	errs     map[int]error
	fallback *Analysis
	calls    []AnalysisRequest
}

func (a *scriptedAnalyzer) Analyze(_ context.Context, req AnalysisRequest) (*Analysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, req)
	if err := a.errs[req.Depth]; err != nil {
		return nil, err
	}
	if an, ok := a.byDepth[req.Depth]; ok {
		return an, nil
	}
	if a.fallback != nil {
		return a.fallback, nil
	}
	return &Analysis{Summary: "nothing new", ShouldContinue: true}, nil
}

func (a *scriptedAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type funcMatcher struct {
	mu    sync.Mutex
	fn    func(MatchRequest) (MatchDecision, error)
	calls int
}

func (m *funcMatcher) Match(_ context.Context, req MatchRequest) (MatchDecision, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.fn == nil {
		return Unmatched("different entity"), nil
	}
	return m.fn(req)
}

type staticMapper struct {
	result *ConnectionMap
	err    error
	calls  int
}

func (m *staticMapper) MapConnections(_ context.Context, req ConnectionRequest) (*ConnectionMap, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &ConnectionMap{}, nil
	}
	return m.result, nil
}

type staticNarrator struct {
	result *Narrative
	err    error
	calls  int
}

func (n *staticNarrator) Narrate(_ context.Context, req NarrationRequest) (*Narrative, error) {
	n.calls++
	if n.err != nil {
		return nil, n.err
	}
	if n.result == nil {
		return &Narrative{ExecutiveSummary: "Narrated summary for " + req.Subject}, nil
	}
	return n.result, nil
}

type failingSink struct {
	failAfter int
	appended  int
}

func (s *failingSink) Append(_ context.Context, _ AuditEvent) error {
	if s.appended >= s.failAfter {
		return fmt.Errorf("sink offline")
	}
	s.appended++
	return nil
}

type memoryReports struct {
	saved []*Report
	err   error
}

func (m *memoryReports) SaveReport(_ context.Context, r *Report) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.saved = append(m.saved, r)
	return "memory://" + r.SessionID, nil
}

// harness wires fakes into a Runtime.
type harness struct {
	planner  *scriptedPlanner
	searcher *stubSearcher
	analyzer *scriptedAnalyzer
	matcher  *funcMatcher
	mapper   *staticMapper
	narrator *staticNarrator
	sink     *MemorySink
	reports  *memoryReports
	states   []State
}

func newHarness() *harness {
	return &harness{
		planner:  &scriptedPlanner{plans: map[int]*Plan{}, errs: map[int]error{}},
		searcher: &stubSearcher{errs: map[string]error{}, empty: map[string]bool{}},
		analyzer: &scriptedAnalyzer{byDepth: map[int]*Analysis{}, errs: map[int]error{}},
		matcher:  &funcMatcher{},
		mapper:   &staticMapper{},
		narrator: &staticNarrator{},
		sink:     NewMemorySink(),
		reports:  &memoryReports{},
	}
}

func (h *harness) runtime(maxConcurrent int) Runtime {
	return Runtime{
		Clock:    fixedClock{t: testNow},
		Planner:  h.planner,
		Searcher: NewFanout(h.searcher, maxConcurrent, time.Second, WithFanoutClock(fixedClock{t: testNow})),
		Analyzer: h.analyzer,
		Matcher:  h.matcher,
		Mapper:   h.mapper,
		Narrator: h.narrator,
		Audit:    h.sink,
		Reports:  h.reports,
	}
}

func (h *harness) engine(cfg domain.ResearchConfig) (*Engine, error) {
	return NewEngine(h.runtime(cfg.WithDefaults().MaxConcurrentSearches), cfg, WithObserver(func(s State) {
		h.states = append(h.states, s)
	}))
}

func (h *harness) events(sessionID string) []AuditEvent {
	evs, _ := h.sink.ListEvents(context.Background(), sessionID)
	return evs
}

func person(name string, aliases ...string) Mention {
	return Mention{Name: name, Kind: EntityPerson, Aliases: aliases, Sources: []string{"https://news.example.com/" + domain.NormalizeQuery(name)}}
}

func org(name string, aliases ...string) Mention {
	return Mention{Name: name, Kind: EntityOrganization, Aliases: aliases, Sources: []string{"https://registry.example.com/" + domain.NormalizeQuery(name)}}
}
