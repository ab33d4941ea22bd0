package activities

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"

	"github.com/helixir/osint-research-service/internal/observability"
	"github.com/helixir/osint-research-service/internal/research"
	"github.com/helixir/osint-research-service/internal/temporal/resilience"
)

// searchBreaker is the circuit breaker guarding the web search providers.
const searchBreaker = "search"

// SearchActivities provides Temporal activities for web search operations.
// Methods on this struct are registered as Temporal activities via the worker.
type SearchActivities struct {
	searcher research.WebSearcher
	breakers *resilience.BreakerRegistry
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// SearchActivitiesOption configures optional SearchActivities dependencies.
type SearchActivitiesOption func(*SearchActivities)

// WithSearchBreakers replaces the default circuit breaker registry.
func WithSearchBreakers(r *resilience.BreakerRegistry) SearchActivitiesOption {
	return func(a *SearchActivities) { a.breakers = r }
}

// WithSearchLogger sets the logger handed to the fan-out.
func WithSearchLogger(logger zerolog.Logger) SearchActivitiesOption {
	return func(a *SearchActivities) { a.logger = logger }
}

// NewSearchActivities creates a new SearchActivities instance with the given dependencies.
// The metrics parameter may be nil (metrics recording will be skipped).
func NewSearchActivities(searcher research.WebSearcher, metrics *observability.Metrics, opts ...SearchActivitiesOption) *SearchActivities {
	a := &SearchActivities{
		searcher: searcher,
		metrics:  metrics,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.breakers == nil {
		a.breakers = resilience.NewBreakerRegistry()
	}
	return a
}

// ExecuteSearchBatch runs every query of a research round with bounded
// parallelism and returns the reassembled batch.
//
// Individual query failures are part of the batch, not activity errors. The
// activity only fails when the batch as a whole is abandoned, which happens
// when the activity is cancelled; a retry then runs the whole batch again.
// A heartbeat is recorded as each query completes.
func (a *SearchActivities) ExecuteSearchBatch(ctx context.Context, input SearchBatchInput) (*research.SearchBatch, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("starting search batch",
		"sessionID", input.SessionID,
		"depth", input.Depth,
		"queries", len(input.Queries),
		"maxConcurrent", input.MaxConcurrent,
		"timeoutSeconds", input.TimeoutSeconds,
	)

	searcher := &heartbeatSearcher{
		WebSearcher: &breakerSearcher{
			WebSearcher: a.searcher,
			breaker:     a.breakers.Get(searchBreaker),
		},
		total: len(input.Queries),
	}
	fanout := research.NewFanout(searcher, input.MaxConcurrent,
		time.Duration(input.TimeoutSeconds)*time.Second,
		research.WithFanoutLogger(a.logger),
		research.WithFanoutMetrics(a.metrics),
	)

	start := time.Now()
	batch, err := fanout.SearchBatch(ctx, input.Depth, input.Queries)
	if err != nil {
		logger.Warn("search batch abandoned", "error", err)
		return nil, resilience.ToApplicationError(research.OpSearch, err)
	}

	if a.metrics != nil && activity.GetInfo(ctx).Attempt == 1 {
		a.metrics.RecordRound(len(input.Queries))
	}

	logger.Info("search batch completed",
		"succeeded", len(batch.Records),
		"failed", len(batch.Failures),
		"duration", time.Since(start).Seconds(),
	)
	return batch, nil
}

// breakerSearcher routes every query through the search circuit breaker,
// so an outage fails queries fast instead of waiting for timeouts.
type breakerSearcher struct {
	research.WebSearcher
	breaker *resilience.CircuitBreaker
}

func (s *breakerSearcher) Search(ctx context.Context, query string) ([]research.Source, error) {
	var sources []research.Source
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		sources, err = s.WebSearcher.Search(ctx, query)
		return err
	})
	return sources, err
}

// heartbeatSearcher records an activity heartbeat after every query.
type heartbeatSearcher struct {
	research.WebSearcher
	total int
	done  atomic.Int64
}

func (s *heartbeatSearcher) Search(ctx context.Context, query string) ([]research.Source, error) {
	sources, err := s.WebSearcher.Search(ctx, query)
	n := s.done.Add(1)
	activity.RecordHeartbeat(ctx, fmt.Sprintf("searched %d/%d", n, s.total))
	return sources, err
}
