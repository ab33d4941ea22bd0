// Package websearch provides the web search providers behind a research
// session's search fan-out.
//
// Each provider implements research.WebSearcher: it runs one query and
// returns the sources it found. Providers share HTTPClient, which applies a
// per-provider token bucket and retries rate limited and failed requests.
//
// Example usage:
//
//	client := tavily.NewClient(tavily.Config{APIKey: key}, nil)
//	sources, err := client.Search(ctx, "Jane Roe Roe Holdings director")
package websearch

import (
	"github.com/helixir/osint-research-service/internal/research"
)

// Provider is a web search backend that can be switched off by configuration.
type Provider interface {
	research.WebSearcher

	// IsEnabled reports whether the provider may be used.
	IsEnabled() bool
}
