// Package tavily implements web search against the Tavily search API.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/helixir/osint-research-service/internal/research"
	"github.com/helixir/osint-research-service/internal/websearch"
)

const (
	// DefaultBaseURL is the default base URL for the Tavily API.
	DefaultBaseURL = "https://api.tavily.com"

	// DefaultRateLimit is the default rate limit in requests per second.
	DefaultRateLimit = 5.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 5

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default number of results per query.
	DefaultMaxResults = 8

	// ProviderName identifies the provider in metrics and audit records.
	ProviderName = "tavily"
)

// Config contains configuration options for the Tavily client.
type Config struct {
	// BaseURL is the base URL for the API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the Tavily API key.
	APIKey string

	// SearchDepth is "basic" or "advanced" (default "advanced").
	SearchDepth string

	// Timeout is the HTTP request timeout.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	// Defaults to DefaultRateLimit if zero.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	// Defaults to DefaultBurstSize if zero.
	BurstSize int

	// MaxResults is the number of results to request per query.
	// Defaults to DefaultMaxResults if zero.
	MaxResults int

	// Enabled indicates whether this provider is enabled.
	Enabled bool
}

type searchRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type searchResponse struct {
	Query   string         `json:"query"`
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Client implements websearch.Provider for Tavily.
type Client struct {
	httpClient *websearch.HTTPClient
	config     Config
}

// Compile-time check that Client implements websearch.Provider.
var _ websearch.Provider = (*Client)(nil)

// NewClient creates a new Tavily client with the given configuration.
// If httpClient is nil, a new one will be created with the configuration settings.
func NewClient(cfg Config, httpClient *websearch.HTTPClient) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SearchDepth == "" {
		cfg.SearchDepth = "advanced"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = DefaultBurstSize
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = DefaultMaxResults
	}

	if httpClient == nil {
		httpClient = websearch.NewHTTPClient(websearch.HTTPClientConfig{
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			BurstSize:    cfg.BurstSize,
			APIKey:       cfg.APIKey,
			APIKeyHeader: "Authorization",
		})
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
	}
}

// Search runs query and returns the hits in the order Tavily ranked them.
// Hits without a URL are dropped.
func (c *Client) Search(ctx context.Context, query string) ([]research.Source, error) {
	body, err := json.Marshal(searchRequest{
		Query:       query,
		SearchDepth: c.config.SearchDepth,
		MaxResults:  c.config.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.config.BaseURL, "/")+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := websearch.ReadError(ProviderName, resp); err != nil {
		return nil, err
	}

	// Limit body to 10MB to prevent resource exhaustion.
	var searchResp searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	sources := make([]research.Source, 0, len(searchResp.Results))
	for _, r := range searchResp.Results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		sources = append(sources, research.Source{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: r.Content,
		})
	}
	return sources, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// IsEnabled returns whether this provider is currently enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled && c.config.APIKey != ""
}
