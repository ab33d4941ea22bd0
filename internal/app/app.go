// Package app builds the research collaborators and stores from configuration.
// The worker and the osint CLI share it so both run sessions against the
// same providers and models.
package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/osint-research-service/internal/agents"
	"github.com/helixir/osint-research-service/internal/config"
	"github.com/helixir/osint-research-service/internal/llm"
	"github.com/helixir/osint-research-service/internal/observability"
	"github.com/helixir/osint-research-service/internal/reportstore"
	"github.com/helixir/osint-research-service/internal/research"
	"github.com/helixir/osint-research-service/internal/websearch"
	"github.com/helixir/osint-research-service/internal/websearch/openaisearch"
	"github.com/helixir/osint-research-service/internal/websearch/tavily"
)

// Collaborators are the LLM-backed research roles plus the web searcher.
type Collaborators struct {
	Planner  research.Planner
	Analyzer research.Analyzer
	Matcher  research.Matcher
	Mapper   research.ConnectionMapper
	Narrator research.Narrator
	Searcher research.WebSearcher

	// Models maps each operation to "provider/model" for report metadata.
	Models map[string]string
}

// NewLogger creates the service logger from the logging section.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	return observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		AddSource:  cfg.AddSource,
		TimeFormat: cfg.TimeFormat,
	})
}

// NewCollaborators creates an LLM client per provider with a key, routes
// every operation to its configured model and chains the enabled search
// providers. metrics may be nil.
func NewCollaborators(cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) (*Collaborators, error) {
	router, err := NewRouter(cfg.LLM, metrics, logger)
	if err != nil {
		return nil, err
	}

	searcher, err := NewSearcher(cfg.Search, cfg.LLM.OpenAI.APIKey, logger)
	if err != nil {
		return nil, err
	}

	return &Collaborators{
		Planner:  agents.NewPlanner(router),
		Analyzer: agents.NewAnalyzer(router),
		Matcher:  agents.NewMatcher(router),
		Mapper:   agents.NewMapper(router),
		Narrator: agents.NewNarrator(router),
		Searcher: searcher,
		Models:   router.ModelsUsed(),
	}, nil
}

// NewRouter creates one client per provider that has an API key and routes
// the research operations across them.
func NewRouter(cfg config.LLMConfig, metrics *observability.Metrics, logger zerolog.Logger) (*agents.Router, error) {
	providers := cfg.Providers()
	if len(providers) == 0 {
		return nil, fmt.Errorf("no LLM provider has an API key")
	}

	clients := make(map[string]llm.Client, len(providers))
	for _, name := range providers {
		client, err := llm.NewClient(llm.FactoryConfig{
			Provider:          name,
			Temperature:       cfg.Temperature,
			Timeout:           cfg.Timeout,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			OpenAI: llm.OpenAIConfig{
				APIKey:  cfg.OpenAI.APIKey,
				Model:   cfg.OpenAI.Model,
				BaseURL: cfg.OpenAI.BaseURL,
			},
			Anthropic: llm.AnthropicConfig{
				APIKey:  cfg.Anthropic.APIKey,
				Model:   cfg.Anthropic.Model,
				BaseURL: cfg.Anthropic.BaseURL,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("create %s client: %w", name, err)
		}
		clients[name] = client
	}

	specs := make(map[string]agents.ModelSpec, len(cfg.Operations))
	for op, m := range cfg.Operations {
		specs[op] = agents.ModelSpec{
			Provider:    m.Provider,
			Model:       m.Model,
			Temperature: m.Temperature,
			MaxTokens:   m.MaxTokens,
		}
	}

	opts := []agents.RouterOption{agents.WithLogger(logger)}
	if metrics != nil {
		opts = append(opts, agents.WithMetrics(metrics))
	}
	router, err := agents.NewRouter(clients, cfg.Provider, specs, opts...)
	if err != nil {
		return nil, fmt.Errorf("create model router: %w", err)
	}
	return router, nil
}

// NewSearcher registers the enabled search providers and returns a chain
// that tries the configured primary first. The OpenAI web search provider
// shares the OpenAI LLM key.
func NewSearcher(cfg config.SearchConfig, openAIKey string, logger zerolog.Logger) (research.WebSearcher, error) {
	registry := websearch.NewRegistry()

	if cfg.Tavily.Enabled {
		t := cfg.Tavily
		registry.Register(tavily.NewClient(tavily.Config{
			BaseURL:     t.BaseURL,
			APIKey:      t.APIKey,
			SearchDepth: t.SearchDepth,
			Timeout:     t.Timeout,
			RateLimit:   t.RateLimit,
			BurstSize:   t.BurstSize,
			MaxResults:  t.MaxResults,
			Enabled:     true,
		}, websearch.NewHTTPClient(websearch.HTTPClientConfig{
			Timeout:      t.Timeout,
			RateLimit:    t.RateLimit,
			BurstSize:    t.BurstSize,
			MaxRetries:   cfg.MaxRetries,
			APIKey:       t.APIKey,
			APIKeyHeader: "Authorization",
		})))
		logger.Info().Msg("registered search provider: Tavily")
	}

	if cfg.OpenAI.Enabled {
		o := cfg.OpenAI
		registry.Register(openaisearch.NewClient(openaisearch.Config{
			BaseURL:     o.BaseURL,
			APIKey:      openAIKey,
			Model:       o.Model,
			ContextSize: o.ContextSize,
			Timeout:     o.Timeout,
			RateLimit:   o.RateLimit,
			BurstSize:   o.BurstSize,
			Enabled:     true,
		}, websearch.NewHTTPClient(websearch.HTTPClientConfig{
			Timeout:      o.Timeout,
			RateLimit:    o.RateLimit,
			BurstSize:    o.BurstSize,
			MaxRetries:   cfg.MaxRetries,
			APIKey:       openAIKey,
			APIKeyHeader: "Authorization",
		})))
		logger.Info().Msg("registered search provider: OpenAI web search")
	}

	searcher, err := registry.Searcher(cfg.Provider, logger)
	if err != nil {
		return nil, fmt.Errorf("create searcher: %w", err)
	}
	return searcher, nil
}

// NewReportStore wraps primary with a file mirror when a reports directory
// is configured. Mirror failures are logged and do not fail the save.
func NewReportStore(cfg config.ResearchConfig, primary research.ReportStore, logger zerolog.Logger) (research.ReportStore, error) {
	if cfg.ReportsDir == "" {
		return primary, nil
	}

	files, err := reportstore.NewFileStore(cfg.ReportsDir, cfg.ReportFormats...)
	if err != nil {
		return nil, fmt.Errorf("create report file store: %w", err)
	}
	if primary == nil {
		return files, nil
	}

	return &reportstore.MultiStore{
		Primary: primary,
		Mirrors: []research.ReportStore{files},
		OnError: func(report *research.Report, err error) {
			logger.Warn().Err(err).
				Str("session_id", report.SessionID).
				Str("dir", cfg.ReportsDir).
				Msg("failed to write report file")
		},
	}, nil
}

// NewAuditSink tees audit events from primary to the secondary sinks.
// Secondary failures are logged. With no secondaries primary is returned.
func NewAuditSink(primary research.AuditSink, logger zerolog.Logger, secondary ...research.AuditSink) research.AuditSink {
	if len(secondary) == 0 {
		return primary
	}
	return &research.TeeSink{
		Primary:   primary,
		Secondary: secondary,
		OnError: func(ev research.AuditEvent, err error) {
			logger.Warn().Err(err).
				Str("session_id", ev.SessionID).
				Int64("sequence", ev.Sequence).
				Str("kind", string(ev.Kind)).
				Msg("failed to stream audit event")
		},
	}
}
