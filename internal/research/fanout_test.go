package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gaugeSearcher records the highest number of concurrent searches.
type gaugeSearcher struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (g *gaugeSearcher) Name() string { return "gauge" }

func (g *gaugeSearcher) Search(ctx context.Context, query string) ([]Source, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(15 * time.Millisecond)
	return []Source{{URL: "https://example.com/" + query}}, nil
}

func TestFanout_PartialFailuresKeepOrder(t *testing.T) {
	s := &stubSearcher{
		errs:  map[string]error{"q2": errors.New("rate limited"), "q4": errors.New("rate limited")},
		empty: map[string]bool{},
	}
	f := NewFanout(s, 5, time.Second, WithFanoutClock(fixedClock{t: testNow}))

	batch, err := f.SearchBatch(context.Background(), 0, []string{"q1", "q2", "q3", "q4", "q5"})
	require.NoError(t, err)

	require.Len(t, batch.Records, 3)
	assert.Equal(t, "q1", batch.Records[0].Query)
	assert.Equal(t, "q3", batch.Records[1].Query)
	assert.Equal(t, "q5", batch.Records[2].Query)
	require.Len(t, batch.Failures, 2)
	assert.Equal(t, "q2", batch.Failures[0].Query)
	assert.Equal(t, SearchFailureProvider, batch.Failures[0].Kind)
	assert.Contains(t, batch.Failures[0].Message, "rate limited")

	for _, rec := range batch.Records {
		require.Len(t, rec.Sources, 1)
		assert.True(t, testNow.Equal(rec.Sources[0].RetrievedAt))
	}
}

func TestFanout_BoundsConcurrency(t *testing.T) {
	g := &gaugeSearcher{}
	f := NewFanout(g, 2, time.Second)

	batch, err := f.SearchBatch(context.Background(), 1, []string{"a", "b", "c", "d", "e", "f"})
	require.NoError(t, err)
	assert.Len(t, batch.Records, 6)
	assert.LessOrEqual(t, g.peak.Load(), int32(2))
	assert.GreaterOrEqual(t, g.peak.Load(), int32(1))
}

func TestFanout_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name     string
		searcher *stubSearcher
		timeout  time.Duration
		want     SearchFailure
	}{
		{
			name:     "timeout",
			searcher: &stubSearcher{delay: time.Second},
			timeout:  20 * time.Millisecond,
			want:     SearchFailureTimeout,
		},
		{
			name:     "empty result",
			searcher: &stubSearcher{empty: map[string]bool{"q": true}},
			timeout:  time.Second,
			want:     SearchFailureEmpty,
		},
		{
			name:     "provider error",
			searcher: &stubSearcher{errs: map[string]error{"q": errors.New("HTTP 500")}},
			timeout:  time.Second,
			want:     SearchFailureProvider,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFanout(tt.searcher, 1, tt.timeout)
			batch, err := f.SearchBatch(context.Background(), 0, []string{"q"})
			require.NoError(t, err)
			assert.Empty(t, batch.Records)
			require.Len(t, batch.Failures, 1)
			assert.Equal(t, tt.want, batch.Failures[0].Kind)
		})
	}
}

func TestFanout_CancellationDiscardsBatch(t *testing.T) {
	s := &stubSearcher{block: make(chan struct{})}
	f := NewFanout(s, 3, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	batch, err := f.SearchBatch(ctx, 0, []string{"a", "b", "c", "d"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, batch)
}

func TestNewFanout_ClampsConcurrency(t *testing.T) {
	f := NewFanout(&stubSearcher{}, 0, 0)
	assert.Equal(t, 1, f.maxConcurrent)
}

func TestFanout_LogsFailedQueryWithSearchFields(t *testing.T) {
	var buf bytes.Buffer
	s := &stubSearcher{errs: map[string]error{"q2": errors.New("upstream 503")}}
	f := NewFanout(s, 2, time.Second, WithFanoutLogger(zerolog.New(&buf).Level(zerolog.WarnLevel)))

	batch, err := f.SearchBatch(context.Background(), 0, []string{"q1", "q2"})
	require.NoError(t, err)
	require.Len(t, batch.Failures, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "q2", entry["query"])
	assert.Equal(t, "stub", entry["provider"])
	assert.Equal(t, "search query failed", entry["message"])
	assert.Contains(t, entry["error"], "upstream 503")
}
