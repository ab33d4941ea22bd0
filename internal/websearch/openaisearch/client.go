// Package openaisearch implements web search with the OpenAI Responses API
// web_search tool. The model's answer is discarded; the cited pages become
// the sources and the sentence each citation supports becomes the snippet.
package openaisearch

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
	// DefaultBaseURL is the default base URL for the OpenAI API.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is the default model used for web search.
	DefaultModel = "gpt-4o"

	// DefaultRateLimit is the default rate limit in requests per second.
	DefaultRateLimit = 2.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 2

	// DefaultTimeout is the default HTTP request timeout. Web search calls
	// browse before answering and are much slower than plain completions.
	DefaultTimeout = 90 * time.Second

	// ProviderName identifies the provider in metrics and audit records.
	ProviderName = "openai_web_search"

	instructions = "You are a due diligence researcher. Search the web for the query and report the facts you find, citing every source."
)

// Config contains configuration options for the OpenAI web search client.
type Config struct {
	// BaseURL is the base URL for the API.
	BaseURL string

	// APIKey is the OpenAI API key.
	APIKey string

	// Model is the model that runs the web_search tool.
	Model string

	// ContextSize is the tool's search_context_size ("low", "medium", "high").
	ContextSize string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// Enabled indicates whether this provider is enabled.
	Enabled bool
}

type responsesRequest struct {
	Model        string `json:"model"`
	Instructions string `json:"instructions,omitempty"`
	Input        string `json:"input"`
	Tools        []tool `json:"tools"`
}

type tool struct {
	Type              string `json:"type"`
	SearchContextSize string `json:"search_context_size,omitempty"`
}

type responsesResponse struct {
	ID     string       `json:"id"`
	Model  string       `json:"model"`
	Output []outputItem `json:"output"`
}

type outputItem struct {
	Type    string          `json:"type"`
	Content []outputContent `json:"content,omitempty"`
}

type outputContent struct {
	Type        string       `json:"type"`
	Text        string       `json:"text"`
	Annotations []annotation `json:"annotations,omitempty"`
}

type annotation struct {
	Type       string `json:"type"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// Client implements websearch.Provider with the Responses API.
type Client struct {
	httpClient *websearch.HTTPClient
	config     Config
}

// Compile-time check that Client implements websearch.Provider.
var _ websearch.Provider = (*Client)(nil)

// NewClient creates a new client. If httpClient is nil, a new one will be
// created with the configuration settings.
func NewClient(cfg Config, httpClient *websearch.HTTPClient) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ContextSize == "" {
		cfg.ContextSize = "low"
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

	if httpClient == nil {
		httpClient = websearch.NewHTTPClient(websearch.HTTPClientConfig{
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			BurstSize:    cfg.BurstSize,
			APIKey:       cfg.APIKey,
			APIKeyHeader: "Authorization",
		})
	}

	return &Client{httpClient: httpClient, config: cfg}
}

// Search runs query through the web_search tool and returns one source per
// cited URL, in citation order.
func (c *Client) Search(ctx context.Context, query string) ([]research.Source, error) {
	body, err := json.Marshal(responsesRequest{
		Model:        c.config.Model,
		Instructions: instructions,
		Input:        query,
		Tools:        []tool{{Type: "web_search", SearchContextSize: c.config.ContextSize}},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.config.BaseURL, "/")+"/responses", bytes.NewReader(body))
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

	var out responsesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return citedSources(out), nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// IsEnabled returns whether this provider is currently enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled && c.config.APIKey != ""
}

func citedSources(resp responsesResponse) []research.Source {
	seen := make(map[string]int)
	var sources []research.Source
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, content := range item.Content {
			if content.Type != "output_text" {
				continue
			}
			text := []rune(content.Text)
			for _, a := range content.Annotations {
				if a.Type != "url_citation" || a.URL == "" {
					continue
				}
				snippet := sentenceBefore(text, a.StartIndex)
				if i, ok := seen[a.URL]; ok {
					if sources[i].Snippet == "" {
						sources[i].Snippet = snippet
					}
					continue
				}
				seen[a.URL] = len(sources)
				sources = append(sources, research.Source{URL: a.URL, Title: a.Title, Snippet: snippet})
			}
		}
	}
	return sources
}

// sentenceBefore returns the sentence that ends at rune offset end.
func sentenceBefore(text []rune, end int) string {
	if end <= 0 || end > len(text) {
		return ""
	}
	start := 0
	for i := end - 2; i >= 0; i-- {
		if text[i] == '\n' || ((text[i] == '.' || text[i] == '!' || text[i] == '?') && i+1 < end && text[i+1] == ' ') {
			start = i + 1
			break
		}
	}
	return strings.TrimSpace(string(text[start:end]))
}
