package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/osint-research-service/internal/domain"
)

// SessionRepository handles research session persistence and lifecycle management.
type SessionRepository interface {
	// Create inserts a new research session.
	// Returns domain.ErrAlreadyExists if a session with the same ID already exists.
	// Returns domain.ErrInvalidInput if required fields are missing.
	Create(ctx context.Context, session *domain.Session) error

	// Get retrieves a research session by its ID.
	// Returns domain.ErrNotFound if no matching session exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.Session, error)

	// GetByWorkflowID retrieves a session by its Temporal workflow ID.
	// Returns domain.ErrNotFound if no matching session exists.
	GetByWorkflowID(ctx context.Context, workflowID string) (*domain.Session, error)

	// Update applies fn to the locked session row and persists the result.
	// If fn returns an error, nothing is written and that error is returned.
	// Returns domain.ErrNotFound if no matching session exists.
	Update(ctx context.Context, id uuid.UUID, fn func(*domain.Session) error) error

	// UpdateStatus moves a session to status, recording errorMsg when the
	// session fails. Returns domain.ErrInvalidTransition when the move is
	// not allowed.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SessionStatus, errorMsg string) error

	// MarkRunning records the workflow execution and moves the session to
	// running. Calling it again for a running session is a no-op apart from
	// refreshing the run ID.
	MarkRunning(ctx context.Context, id uuid.UUID, workflowID, runID string) error

	// Complete writes the session's outcome and moves it to the outcome's
	// terminal status. Completing twice with the same status is a no-op.
	Complete(ctx context.Context, id uuid.UUID, outcome domain.SessionOutcome) error

	// List retrieves sessions matching the filter criteria together with the
	// total number of matches.
	List(ctx context.Context, filter SessionFilter) ([]*domain.Session, int64, error)
}

// SessionFilter specifies criteria for listing research sessions.
type SessionFilter struct {
	// Status filters by one or more statuses (optional).
	Status []domain.SessionStatus

	// Subject filters by a case-insensitive substring of the subject (optional).
	Subject string

	// CreatedAfter filters to sessions created after this timestamp (optional).
	CreatedAfter *time.Time

	// CreatedBefore filters to sessions created before this timestamp (optional).
	CreatedBefore *time.Time

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks the filter and applies pagination defaults.
func (f *SessionFilter) Validate() error {
	for _, s := range f.Status {
		switch s {
		case domain.SessionStatusPending, domain.SessionStatusRunning, domain.SessionStatusCompleted,
			domain.SessionStatusFailed, domain.SessionStatusCancelled:
		default:
			return domain.NewValidationError("status", "unknown session status "+string(s))
		}
	}
	if f.CreatedAfter != nil && f.CreatedBefore != nil && !f.CreatedAfter.Before(*f.CreatedBefore) {
		return domain.NewValidationError("created_after", "must be before created_before")
	}
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
