package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/helixir/osint-research-service/internal/domain"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState is the state of a CircuitBreaker.
type CircuitState = gobreaker.State

const (
	CircuitClosed   = gobreaker.StateClosed
	CircuitHalfOpen = gobreaker.StateHalfOpen
	CircuitOpen     = gobreaker.StateOpen
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// ConsecutiveThreshold is the number of consecutive transient failures
	// that opens the breaker.
	ConsecutiveThreshold int
	// Cooldown is how long the breaker stays open before admitting a trial call.
	Cooldown time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.ConsecutiveThreshold <= 0 {
		c.ConsecutiveThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	return c
}

// CircuitBreaker stops calling a collaborator after repeated outages.
// Only transient failures count; a permanent error means the service
// answered. It is safe for concurrent use.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	cb     *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	cfg = cfg.withDefaults()
	threshold := uint32(cfg.ConsecutiveThreshold)
	return &CircuitBreaker{
		name:   name,
		config: cfg,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cfg.Cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			IsSuccessful: countsAsSuccess,
		}),
	}
}

// countsAsSuccess reports whether err leaves the breaker's failure count
// untouched by an outage. Cancellation and permanent errors both do.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	return Classify(err) != Transient
}

// Name returns the dependency name the breaker guards.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state, moving an expired open breaker to half-open.
func (cb *CircuitBreaker) State() CircuitState { return cb.cb.State() }

// Execute runs fn if the breaker admits it and records the outcome. While
// the breaker is open, or a half-open trial call is in flight, fn is not
// run and the error wraps both ErrCircuitOpen and
// domain.ErrServiceUnavailable.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := cb.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w: %w", cb.name, ErrCircuitOpen, domain.ErrServiceUnavailable)
	}
	return err
}

// Default circuit breaker configurations for external dependencies.
var defaultBreakerConfigs = map[string]BreakerConfig{
	"llm": {
		ConsecutiveThreshold: 3,
		Cooldown:             30 * time.Second,
	},
	"search": {
		ConsecutiveThreshold: 5,
		Cooldown:             60 * time.Second,
	},
}

// BreakerRegistry provides named circuit breakers for external dependencies.
// It is safe for concurrent use and lazily creates breakers on first access.
//
// Circuit breakers live in activities (not workflows) because they keep
// wall-clock state, which would violate Temporal's workflow determinism
// requirements. The workflow sees circuit-open errors as unavailable
// collaborators.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	configs  map[string]BreakerConfig
}

// NewBreakerRegistry creates a BreakerRegistry with default configurations
// for all known external dependencies.
func NewBreakerRegistry() *BreakerRegistry {
	return NewBreakerRegistryWithConfigs(nil)
}

// NewBreakerRegistryWithConfigs creates a BreakerRegistry with custom configurations.
// Any name not in the provided map falls back to a sensible default.
func NewBreakerRegistryWithConfigs(configs map[string]BreakerConfig) *BreakerRegistry {
	merged := make(map[string]BreakerConfig, len(defaultBreakerConfigs)+len(configs))
	for k, v := range defaultBreakerConfigs {
		merged[k] = v
	}
	for k, v := range configs {
		merged[k] = v
	}
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		configs:  merged,
	}
}

// Get returns the circuit breaker for the given dependency name.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, r.configs[name])
	r.breakers[name] = cb
	return cb
}

// State returns the current state of the named breaker, or CircuitClosed
// if the breaker has not been created yet.
func (r *BreakerRegistry) State(name string) CircuitState {
	r.mu.Lock()
	cb, ok := r.breakers[name]
	r.mu.Unlock()

	if !ok {
		return CircuitClosed
	}
	return cb.State()
}
