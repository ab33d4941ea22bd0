package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/observability"
	"github.com/helixir/osint-research-service/internal/repository"
	"github.com/helixir/osint-research-service/internal/temporal/resilience"
)

// ErrTypeInvalidTransition is the ApplicationError type of a rejected
// session status change. It is never retried.
const ErrTypeInvalidTransition = "InvalidTransition"

// StatusActivities provides Temporal activities for research session
// lifecycle updates.
// Methods on this struct are registered as Temporal activities via the worker.
type StatusActivities struct {
	sessionRepo repository.SessionRepository
	metrics     *observability.Metrics
}

// NewStatusActivities creates a new StatusActivities instance with the given dependencies.
// The metrics parameter may be nil (metrics recording will be skipped).
func NewStatusActivities(sessionRepo repository.SessionRepository, metrics *observability.Metrics) *StatusActivities {
	return &StatusActivities{
		sessionRepo: sessionRepo,
		metrics:     metrics,
	}
}

// MarkSessionRunning records the workflow execution on the session and moves
// it to running. Retries after a successful attempt are harmless.
func (a *StatusActivities) MarkSessionRunning(ctx context.Context, input MarkSessionRunningInput) error {
	logger := activity.GetLogger(ctx)
	logger.Info("marking session running",
		"sessionID", input.SessionID,
		"workflowID", input.WorkflowID,
		"runID", input.RunID,
	)

	err := a.sessionRepo.MarkRunning(ctx, input.SessionID, input.WorkflowID, input.RunID)
	if err != nil {
		logger.Error("failed to mark session running",
			"sessionID", input.SessionID,
			"error", err,
		)
		return statusError("mark session running", err)
	}

	if a.metrics != nil && activity.GetInfo(ctx).Attempt == 1 {
		a.metrics.RecordSessionStarted()
	}
	return nil
}

// CompleteSession writes the outcome of a finished session.
//
// Completing a session that already holds the same terminal status is a
// no-op, so the activity can be retried after a lost response.
func (a *StatusActivities) CompleteSession(ctx context.Context, input CompleteSessionInput) error {
	logger := activity.GetLogger(ctx)
	logger.Info("completing session",
		"sessionID", input.SessionID,
		"status", input.Outcome.Status,
		"terminationReason", input.Outcome.TerminationReason,
		"riskLevel", input.Outcome.RiskLevel,
	)

	if !input.Outcome.Status.IsTerminal() {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("complete session: status %q is not terminal", input.Outcome.Status),
			ErrTypeInvalidTransition, nil)
	}

	err := a.sessionRepo.Complete(ctx, input.SessionID, input.Outcome)
	if err != nil {
		logger.Error("failed to complete session",
			"sessionID", input.SessionID,
			"status", input.Outcome.Status,
			"error", err,
		)
		return statusError("complete session", err)
	}

	if a.metrics != nil {
		var duration float64
		if session, getErr := a.sessionRepo.Get(ctx, input.SessionID); getErr == nil && session.StartedAt != nil {
			duration = time.Since(*session.StartedAt).Seconds()
		}
		a.metrics.RecordSessionFinished(string(input.Outcome.Status), input.Outcome.TerminationReason, duration)
	}

	logger.Info("session completed",
		"sessionID", input.SessionID,
		"status", input.Outcome.Status,
	)
	return nil
}

// statusError marks errors that a retry cannot fix as non-retryable.
func statusError(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		return temporal.NewNonRetryableApplicationError(fmt.Sprintf("%s: %v", op, err), ErrTypeInvalidTransition, err)
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidInput):
		return temporal.NewNonRetryableApplicationError(fmt.Sprintf("%s: %v", op, err), resilience.ErrTypePermanent, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
