// Package domain holds the persisted records and shared errors of the OSINT
// research service.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a research session record.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled:
		return true
	default:
		return false
	}
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPending: {
		SessionStatusRunning,
		SessionStatusFailed,
		SessionStatusCancelled,
	},
	SessionStatusRunning: {
		SessionStatusCompleted,
		SessionStatusFailed,
		SessionStatusCancelled,
	},
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Re-asserting the current non-terminal status is allowed so status updates
// stay idempotent under activity retries.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if s == next {
		return !s.IsTerminal()
	}
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Bounds applied to ResearchConfig.
const (
	MinResearchDepth          = 1
	MaxResearchDepth          = 10
	MinQueriesPerDepth        = 1
	MaxQueriesPerDepth        = 20
	MinConcurrentSearches     = 1
	MaxConcurrentSearches     = 5
	MinStagnationIterations   = 1
	MaxStagnationIterations   = 5
	DefaultSearchTimeoutSecs  = 30
	defaultResearchDepth      = 4
	defaultQueriesPerDepth    = 5
	defaultConcurrentSearches = 5
	defaultStagnationChecks   = 2
)

// ResearchConfig tunes one research session. It is stored as JSONB next to
// the session so a run can be audited against the limits it ran with.
type ResearchConfig struct {
	MaxDepth                  int `json:"max_depth"`
	MaxQueriesPerDepth        int `json:"max_queries_per_depth"`
	MaxConcurrentSearches     int `json:"max_concurrent_searches"`
	StagnationCheckIterations int `json:"stagnation_check_iterations"`
	SearchTimeoutSeconds      int `json:"search_timeout_seconds"`
}

// DefaultResearchConfig returns the limits used when a request leaves them unset.
func DefaultResearchConfig() ResearchConfig {
	return ResearchConfig{
		MaxDepth:                  defaultResearchDepth,
		MaxQueriesPerDepth:        defaultQueriesPerDepth,
		MaxConcurrentSearches:     defaultConcurrentSearches,
		StagnationCheckIterations: defaultStagnationChecks,
		SearchTimeoutSeconds:      DefaultSearchTimeoutSecs,
	}
}

// WithDefaults fills zero fields from DefaultResearchConfig.
func (c ResearchConfig) WithDefaults() ResearchConfig {
	d := DefaultResearchConfig()
	if c.MaxDepth == 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.MaxQueriesPerDepth == 0 {
		c.MaxQueriesPerDepth = d.MaxQueriesPerDepth
	}
	if c.MaxConcurrentSearches == 0 {
		c.MaxConcurrentSearches = d.MaxConcurrentSearches
	}
	if c.StagnationCheckIterations == 0 {
		c.StagnationCheckIterations = d.StagnationCheckIterations
	}
	if c.SearchTimeoutSeconds == 0 {
		c.SearchTimeoutSeconds = d.SearchTimeoutSeconds
	}
	return c
}

// SearchTimeout returns the per-query search timeout.
func (c ResearchConfig) SearchTimeout() time.Duration {
	return time.Duration(c.SearchTimeoutSeconds) * time.Second
}

// Validate checks every limit against its allowed range.
func (c ResearchConfig) Validate() error {
	checks := []struct {
		field    string
		value    int
		min, max int
	}{
		{"max_depth", c.MaxDepth, MinResearchDepth, MaxResearchDepth},
		{"max_queries_per_depth", c.MaxQueriesPerDepth, MinQueriesPerDepth, MaxQueriesPerDepth},
		{"max_concurrent_searches", c.MaxConcurrentSearches, MinConcurrentSearches, MaxConcurrentSearches},
		{"stagnation_check_iterations", c.StagnationCheckIterations, MinStagnationIterations, MaxStagnationIterations},
	}
	for _, chk := range checks {
		if chk.value < chk.min || chk.value > chk.max {
			return NewValidationError(chk.field, rangeMessage(chk.min, chk.max))
		}
	}
	if c.SearchTimeoutSeconds <= 0 {
		return NewValidationError("search_timeout_seconds", "must be positive")
	}
	return nil
}

func rangeMessage(min, max int) string {
	return fmt.Sprintf("must be between %d and %d", min, max)
}

// Session is the persisted record of one research session.
type Session struct {
	ID      uuid.UUID `json:"id"`
	Subject string    `json:"subject"`
	Context string    `json:"context,omitempty"`
	Tags    []string  `json:"tags,omitempty"`

	Config ResearchConfig `json:"config"`

	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`

	Status            SessionStatus `json:"status"`
	TerminationReason string        `json:"termination_reason,omitempty"`
	RiskLevel         string        `json:"risk_level,omitempty"`
	ErrorMessage      string        `json:"error_message,omitempty"`
	ReportLocation    string        `json:"report_location,omitempty"`

	Depth           int `json:"depth"`
	QueriesExecuted int `json:"queries_executed"`
	EntitiesFound   int `json:"entities_found"`
	ErrorCount      int `json:"error_count"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewSession creates a pending session with a fresh id.
func NewSession(subject, context string, cfg ResearchConfig) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New(),
		Subject:   subject,
		Context:   context,
		Config:    cfg.WithDefaults(),
		Status:    SessionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Duration returns elapsed time since start, or total time once completed.
func (s *Session) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	if s.CompletedAt != nil {
		return s.CompletedAt.Sub(*s.StartedAt)
	}
	return time.Since(*s.StartedAt)
}

// IsActive reports whether the session is still in progress.
func (s *Session) IsActive() bool {
	return !s.Status.IsTerminal()
}

// SessionOutcome carries the counters written when a session finishes.
type SessionOutcome struct {
	Status            SessionStatus
	TerminationReason string
	RiskLevel         string
	ErrorMessage      string
	ReportLocation    string
	Depth             int
	QueriesExecuted   int
	EntitiesFound     int
	ErrorCount        int
}
