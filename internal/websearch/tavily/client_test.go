package tavily

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/websearch"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	httpClient := websearch.NewHTTPClient(websearch.HTTPClientConfig{
		RateLimit:    1000,
		BurstSize:    1000,
		RetryDelay:   time.Millisecond,
		APIKey:       "tvly-test",
		APIKeyHeader: "Authorization",
	})
	return NewClient(Config{BaseURL: server.URL, APIKey: "tvly-test", Enabled: true}, httpClient)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{}, nil)

	assert.Equal(t, DefaultBaseURL, c.config.BaseURL)
	assert.Equal(t, "advanced", c.config.SearchDepth)
	assert.Equal(t, DefaultMaxResults, c.config.MaxResults)
	assert.Equal(t, DefaultTimeout, c.config.Timeout)
	assert.Equal(t, ProviderName, c.Name())
}

func TestClient_IsEnabled(t *testing.T) {
	assert.False(t, NewClient(Config{Enabled: true}, nil).IsEnabled())
	assert.False(t, NewClient(Config{APIKey: "k"}, nil).IsEnabled())
	assert.True(t, NewClient(Config{APIKey: "k", Enabled: true}, nil).IsEnabled())
}

func TestClient_Search(t *testing.T) {
	t.Run("sends query and maps results", func(t *testing.T) {
		var got searchRequest
		var auth, path string
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			auth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"query": "jane roe director",
				"results": [
					{"title": "Registry entry", "url": "https://example.com/a", "content": "Jane Roe is a director of Roe Holdings.", "score": 0.9},
					{"title": "No link", "url": "", "content": "dropped"},
					{"title": "News", "url": "https://example.com/b", "content": "Roe Holdings fined.", "score": 0.7}
				]
			}`))
		})

		sources, err := c.Search(context.Background(), "jane roe director")
		require.NoError(t, err)

		assert.Equal(t, "/search", path)
		assert.Equal(t, "Bearer tvly-test", auth)
		assert.Equal(t, "jane roe director", got.Query)
		assert.Equal(t, "advanced", got.SearchDepth)
		assert.Equal(t, DefaultMaxResults, got.MaxResults)

		require.Len(t, sources, 2)
		assert.Equal(t, "https://example.com/a", sources[0].URL)
		assert.Equal(t, "Registry entry", sources[0].Title)
		assert.Equal(t, "Jane Roe is a director of Roe Holdings.", sources[0].Snippet)
		assert.Equal(t, "https://example.com/b", sources[1].URL)
	})

	t.Run("empty result set", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"results": []}`))
		})

		sources, err := c.Search(context.Background(), "nothing")
		require.NoError(t, err)
		assert.Empty(t, sources)
	})

	t.Run("unauthorized returns external API error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail": "invalid api key"}`))
		})

		_, err := c.Search(context.Background(), "q")
		require.Error(t, err)

		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, ProviderName, apiErr.Source)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Contains(t, apiErr.Message, "invalid api key")
	})

	t.Run("server errors are retried then reported unavailable", func(t *testing.T) {
		calls := 0
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			calls++
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := c.Search(context.Background(), "q")
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrServiceUnavailable))
		assert.Equal(t, 3, calls)
	})

	t.Run("malformed body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"results": [`))
		})

		_, err := c.Search(context.Background(), "q")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding response")
	})
}
