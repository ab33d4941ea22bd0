// Package agents implements the research collaborators (planner, analyzer,
// entity matcher, connection mapper and report narrator) on top of LLM
// chat completions.
//
// Every collaborator sends one JSON-mode request through a Router, which
// picks the provider, model and sampling parameters configured for the
// operation and records call and token metrics.
package agents

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/osint-research-service/internal/llm"
	"github.com/helixir/osint-research-service/internal/observability"
	"github.com/helixir/osint-research-service/internal/research"
)

// Operations a Router can serve.
var Operations = []string{
	research.OpPlanning,
	research.OpAnalysis,
	research.OpEntityMatch,
	research.OpConnectionMapping,
	research.OpSynthesis,
}

// ModelSpec selects the model for one operation. Zero fields fall back to
// the provider client's defaults.
type ModelSpec struct {
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Router dispatches completions to the client configured per operation.
type Router struct {
	clients         map[string]llm.Client
	defaultProvider string
	specs           map[string]ModelSpec
	metrics         *observability.Metrics
	logger          zerolog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithMetrics records collaborator call and token metrics.
func WithMetrics(m *observability.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithLogger sets the router logger.
func WithLogger(logger zerolog.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

// NewRouter creates a Router. clients is keyed by provider name; operations
// without a spec, or whose spec names no provider, use defaultProvider.
func NewRouter(clients map[string]llm.Client, defaultProvider string, specs map[string]ModelSpec, opts ...RouterOption) (*Router, error) {
	if _, ok := clients[defaultProvider]; !ok {
		return nil, fmt.Errorf("agents: no client for default provider %q", defaultProvider)
	}
	r := &Router{
		clients:         clients,
		defaultProvider: defaultProvider,
		specs:           make(map[string]ModelSpec, len(specs)),
		logger:          zerolog.Nop(),
	}
	for op, spec := range specs {
		if spec.Provider == "" {
			spec.Provider = defaultProvider
		}
		if _, ok := clients[spec.Provider]; !ok {
			return nil, fmt.Errorf("agents: operation %s uses provider %q which is not configured", op, spec.Provider)
		}
		r.specs[op] = spec
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Router) route(op string) (llm.Client, ModelSpec) {
	spec, ok := r.specs[op]
	if !ok {
		spec = ModelSpec{Provider: r.defaultProvider}
	}
	return r.clients[spec.Provider], spec
}

// ModelsUsed returns "provider/model" for every operation, in the form the
// report metadata records.
func (r *Router) ModelsUsed() map[string]string {
	out := make(map[string]string, len(Operations))
	for _, op := range Operations {
		client, spec := r.route(op)
		model := spec.Model
		if model == "" {
			model = client.Model()
		}
		out[op] = client.Provider() + "/" + model
	}
	return out
}

// Providers returns the configured provider names in sorted order.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// completeJSON sends a JSON-mode request for op and decodes the answer into out.
func (r *Router) completeJSON(ctx context.Context, op, system, user string, out any) error {
	client, spec := r.route(op)
	start := time.Now()

	resp, err := client.Complete(ctx, llm.Request{
		System:      system,
		User:        user,
		Model:       spec.Model,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
		JSON:        true,
	})
	if err == nil {
		if decodeErr := llm.DecodeJSON(resp.Content, out); decodeErr != nil {
			err = fmt.Errorf("%s: %w", op, decodeErr)
		}
	}

	elapsed := time.Since(start).Seconds()
	if r.metrics != nil {
		r.metrics.RecordCollaboratorCall(op, err, elapsed)
		if resp != nil {
			r.metrics.RecordLLMTokens(op, resp.Model, resp.InputTokens, resp.OutputTokens)
		}
	}

	event := r.logger.Debug()
	if err != nil {
		event = r.logger.Warn().Err(err)
	}
	event.
		Str("operation", op).
		Str("provider", client.Provider()).
		Float64("duration_seconds", elapsed).
		Msg("llm completion")

	return err
}
