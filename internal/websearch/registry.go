package websearch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/osint-research-service/internal/research"
)

// Registry manages web search providers. It provides thread-safe
// registration and retrieval and builds the fallback chain used by the
// search fan-out.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry creates a new provider registry with an empty provider map.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry.
// If a provider with the same name already exists, it will be replaced
// and keeps its original position.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Get returns a provider by name, or nil if not found.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// EnabledProviders returns the enabled providers in registration order.
// The returned slice is a snapshot.
func (r *Registry) EnabledProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		if p := r.providers[name]; p.IsEnabled() {
			out = append(out, p)
		}
	}
	return out
}

// Searcher returns a searcher that tries primary first and then every other
// enabled provider in registration order.
func (r *Registry) Searcher(primary string, logger zerolog.Logger) (research.WebSearcher, error) {
	enabled := r.EnabledProviders()

	chain := &Chain{logger: logger}
	for _, p := range enabled {
		if p.Name() == primary {
			chain.providers = append([]Provider{p}, chain.providers...)
		} else {
			chain.providers = append(chain.providers, p)
		}
	}
	if len(chain.providers) == 0 {
		return nil, errors.New("websearch: no search provider is enabled")
	}
	if chain.providers[0].Name() != primary {
		return nil, fmt.Errorf("websearch: primary provider %q is not enabled", primary)
	}
	return chain, nil
}

// Chain tries providers in order until one returns sources.
type Chain struct {
	providers []Provider
	logger    zerolog.Logger
}

// Search returns the first non-empty result. An empty success from every
// provider yields no sources and no error; otherwise the last error is
// returned.
func (c *Chain) Search(ctx context.Context, query string) ([]research.Source, error) {
	var lastErr error
	succeeded := false
	for _, p := range c.providers {
		sources, err := p.Search(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn().Err(err).Str("provider", p.Name()).Str("query", query).Msg("search provider failed")
			lastErr = fmt.Errorf("%s: %w", p.Name(), err)
			continue
		}
		if len(sources) > 0 {
			return sources, nil
		}
		succeeded = true
	}
	if succeeded {
		return nil, nil
	}
	return nil, lastErr
}

// Name returns the primary provider's name.
func (c *Chain) Name() string {
	return c.providers[0].Name()
}
