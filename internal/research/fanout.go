package research

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/osint-research-service/internal/observability"
)

// WebSearcher runs a single query against a search provider.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]Source, error)
	Name() string
}

// Fanout runs a round's queries concurrently with a fixed upper bound and
// reassembles the results by query. A failed query never fails the batch;
// only cancellation of the caller's context does.
type Fanout struct {
	searcher      WebSearcher
	maxConcurrent int
	timeout       time.Duration
	clock         Clock
	logger        zerolog.Logger
	metrics       *observability.Metrics
}

// FanoutOption configures a Fanout.
type FanoutOption func(*Fanout)

// WithFanoutLogger sets the logger.
func WithFanoutLogger(logger zerolog.Logger) FanoutOption {
	return func(f *Fanout) { f.logger = logger }
}

// WithFanoutMetrics records per-query metrics.
func WithFanoutMetrics(m *observability.Metrics) FanoutOption {
	return func(f *Fanout) { f.metrics = m }
}

// WithFanoutClock overrides the clock used for retrieval timestamps.
func WithFanoutClock(c Clock) FanoutOption {
	return func(f *Fanout) { f.clock = c }
}

// NewFanout creates a Fanout. maxConcurrent below 1 is treated as 1 and a
// non-positive timeout disables the per-query deadline.
func NewFanout(searcher WebSearcher, maxConcurrent int, timeout time.Duration, opts ...FanoutOption) *Fanout {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	f := &Fanout{
		searcher:      searcher,
		maxConcurrent: maxConcurrent,
		timeout:       timeout,
		clock:         SystemClock{},
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type queryOutcome struct {
	sources []Source
	failure *QueryFailure
}

// SearchBatch executes queries with at most maxConcurrent in flight.
// Records keep the order of queries. If ctx is cancelled before every query
// finished, the partial batch is discarded and ctx's error is returned.
func (f *Fanout) SearchBatch(ctx context.Context, depth int, queries []string) (*SearchBatch, error) {
	outcomes := make([]queryOutcome, len(queries))

	var g errgroup.Group
	g.SetLimit(f.maxConcurrent)
	for i, q := range queries {
		g.Go(func() error {
			outcomes[i] = f.searchOne(ctx, q)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search batch at depth %d abandoned: %w", depth, err)
	}

	batch := &SearchBatch{}
	for i, q := range queries {
		if o := outcomes[i]; o.failure != nil {
			batch.Failures = append(batch.Failures, *o.failure)
			continue
		}
		batch.Records = append(batch.Records, SearchResultRecord{
			Query:   q,
			Depth:   depth,
			Sources: outcomes[i].sources,
		})
	}
	f.logger.Debug().
		Int("depth", depth).
		Int("queries", len(queries)).
		Int("succeeded", len(batch.Records)).
		Int("failed", len(batch.Failures)).
		Msg("search batch completed")
	return batch, nil
}

func (f *Fanout) searchOne(ctx context.Context, query string) queryOutcome {
	qctx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	sources, err := f.searcher.Search(qctx, query)
	elapsed := time.Since(start).Seconds()

	var serr *SearchError
	switch {
	case err != nil && ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || qctx.Err() != nil):
		serr = &SearchError{Query: query, Kind: SearchFailureTimeout, Err: err}
	case err != nil:
		serr = &SearchError{Query: query, Kind: SearchFailureProvider, Err: err}
	case len(sources) == 0:
		serr = &SearchError{Query: query, Kind: SearchFailureEmpty}
	}

	if serr != nil {
		if f.metrics != nil {
			f.metrics.RecordSearchFailed(f.searcher.Name(), string(serr.Kind), elapsed)
		}
		log := observability.WithSearchContext(f.logger, query, f.searcher.Name())
		log.Warn().
			Err(serr).
			Msg("search query failed")
		return queryOutcome{failure: &QueryFailure{Query: query, Kind: serr.Kind, Message: serr.Error()}}
	}

	now := normalizeTime(f.clock.Now())
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		if s.RetrievedAt.IsZero() {
			s.RetrievedAt = now
		} else {
			s.RetrievedAt = normalizeTime(s.RetrievedAt)
		}
		out = append(out, s)
	}
	if f.metrics != nil {
		f.metrics.RecordSearchCompleted(f.searcher.Name(), len(out), elapsed)
	}
	return queryOutcome{sources: out}
}
