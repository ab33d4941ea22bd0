// Package sessions creates research sessions and drives their workflows.
//
// Both the HTTP API and the Kafka intake listener start sessions through
// Service, so a session is always persisted before its workflow starts and
// is marked failed when the workflow cannot be started.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/events"
	"github.com/helixir/osint-research-service/internal/repository"
	"github.com/helixir/osint-research-service/internal/temporal"
)

// ErrSessionFinished is returned when cancelling a session that already reached
// a terminal status.
var ErrSessionFinished = errors.New("session already finished")

// WorkflowStarter starts and signals research workflows.
type WorkflowStarter interface {
	StartResearchWorkflow(ctx context.Context, input temporal.ResearchWorkflowInput) (workflowID, runID string, err error)
	CancelSession(ctx context.Context, workflowID, reason string) error
}

// EventPublisher publishes session lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, params events.EmitParams) error
}

// StartRequest describes a new research session.
type StartRequest struct {
	// SessionID is optional; a random ID is assigned when empty.
	SessionID string   `json:"session_id,omitempty" validate:"omitempty,uuid"`
	Subject   string   `json:"subject" validate:"required,min=2,max=500"`
	Context   string   `json:"context,omitempty" validate:"max=10000"`
	Tags      []string `json:"tags,omitempty" validate:"max=20,dive,min=1,max=64"`

	MaxDepth                  *int `json:"max_depth,omitempty" validate:"omitempty,min=1,max=10"`
	MaxQueriesPerDepth        *int `json:"max_queries_per_depth,omitempty" validate:"omitempty,min=1,max=20"`
	MaxConcurrentSearches     *int `json:"max_concurrent_searches,omitempty" validate:"omitempty,min=1,max=5"`
	StagnationCheckIterations *int `json:"stagnation_check_iterations,omitempty" validate:"omitempty,min=1,max=5"`
	SearchTimeoutSeconds      *int `json:"search_timeout_seconds,omitempty" validate:"omitempty,min=1,max=600"`

	// CorrelationID is carried into the created event.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Service creates sessions and starts or cancels their workflows.
type Service struct {
	repo      repository.SessionRepository
	workflows WorkflowStarter
	publisher EventPublisher
	defaults  domain.ResearchConfig
	validate  *validator.Validate
	logger    zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher publishes a created event for every new session.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithDefaults sets the limits applied when a request leaves them unset.
func WithDefaults(cfg domain.ResearchConfig) Option {
	return func(s *Service) { s.defaults = cfg.WithDefaults() }
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger.With().Str("component", "sessions").Logger() }
}

// NewService creates a Service.
func NewService(repo repository.SessionRepository, workflows WorkflowStarter, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		workflows: workflows,
		defaults:  domain.DefaultResearchConfig(),
		validate:  validator.New(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates the request, persists a pending session and starts its
// workflow. When the workflow cannot be started the session is marked failed
// and the start error is returned.
func (s *Service) Start(ctx context.Context, req StartRequest) (*domain.Session, error) {
	req.Subject = strings.TrimSpace(req.Subject)
	req.Context = strings.TrimSpace(req.Context)
	if err := s.validate.Struct(req); err != nil {
		return nil, toValidationError(err)
	}

	cfg := s.configFor(req)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	session := domain.NewSession(req.Subject, req.Context, cfg)
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			return nil, domain.NewValidationError("session_id", "must be a valid UUID")
		}
		session.ID = id
	}
	session.Tags = req.Tags

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	log := s.logger.With().Str("session_id", session.ID.String()).Logger()

	workflowID, runID, err := s.workflows.StartResearchWorkflow(ctx, temporal.ResearchWorkflowInput{
		SessionID: session.ID,
		Subject:   session.Subject,
		Context:   session.Context,
		Tags:      session.Tags,
		Config:    session.Config,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to start research workflow")
		if updErr := s.repo.UpdateStatus(ctx, session.ID, domain.SessionStatusFailed,
			fmt.Sprintf("start workflow: %v", err)); updErr != nil {
			log.Error().Err(updErr).Msg("failed to mark session failed")
		}
		return nil, fmt.Errorf("start research workflow: %w", err)
	}

	session.WorkflowID = workflowID
	session.RunID = runID
	if err := s.repo.Update(ctx, session.ID, func(stored *domain.Session) error {
		stored.WorkflowID = workflowID
		stored.RunID = runID
		return nil
	}); err != nil {
		log.Warn().Err(err).Msg("failed to record workflow IDs")
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events.EmitParams{
			SessionID:     session.ID.String(),
			EventType:     events.EventTypeSessionCreated,
			CorrelationID: req.CorrelationID,
			Payload: map[string]interface{}{
				"subject":     session.Subject,
				"tags":        session.Tags,
				"workflow_id": workflowID,
				"max_depth":   session.Config.MaxDepth,
			},
		}); err != nil {
			log.Warn().Err(err).Msg("failed to publish session created event")
		}
	}

	log.Info().
		Str("workflow_id", workflowID).
		Str("run_id", runID).
		Int("max_depth", session.Config.MaxDepth).
		Msg("research session started")

	return session, nil
}

// Get returns a session by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return s.repo.Get(ctx, id)
}

// Cancel asks the session's workflow to stop. A pending session that never got
// a workflow is cancelled directly. Returns ErrSessionFinished when the session
// is already terminal.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Session, error) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return session, ErrSessionFinished
	}

	if session.WorkflowID == "" {
		if err := s.repo.UpdateStatus(ctx, id, domain.SessionStatusCancelled, reason); err != nil {
			return nil, err
		}
		session.Status = domain.SessionStatusCancelled
		return session, nil
	}

	if err := s.workflows.CancelSession(ctx, session.WorkflowID, reason); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("session_id", id.String()).
		Str("workflow_id", session.WorkflowID).
		Str("reason", reason).
		Msg("cancellation requested")
	return session, nil
}

func (s *Service) configFor(req StartRequest) domain.ResearchConfig {
	cfg := s.defaults
	set := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	set(&cfg.MaxDepth, req.MaxDepth)
	set(&cfg.MaxQueriesPerDepth, req.MaxQueriesPerDepth)
	set(&cfg.MaxConcurrentSearches, req.MaxConcurrentSearches)
	set(&cfg.StagnationCheckIterations, req.StagnationCheckIterations)
	set(&cfg.SearchTimeoutSeconds, req.SearchTimeoutSeconds)
	return cfg.WithDefaults()
}

// toValidationError reports the first failing field as a domain.ValidationError.
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewValidationError("request", err.Error())
	}
	fe := verrs[0]
	field := toSnakeCase(fe.Field())
	switch fe.Tag() {
	case "required":
		return domain.NewValidationError(field, "is required")
	case "min":
		return domain.NewValidationError(field, "must be at least "+fe.Param())
	case "max":
		return domain.NewValidationError(field, "must be at most "+fe.Param())
	case "uuid":
		return domain.NewValidationError(field, "must be a valid UUID")
	default:
		return domain.NewValidationError(field, "failed "+fe.Tag()+" check")
	}
}

func toSnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(name[i-1] >= 'A' && name[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
