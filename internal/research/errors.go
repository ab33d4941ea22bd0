package research

import (
	"context"
	"errors"
	"fmt"

	"github.com/helixir/osint-research-service/internal/domain"
)

var (
	// ErrCollaboratorUnavailable marks a collaborator that could not be reached.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrUnrecoverable matches every UnrecoverableError.
	ErrUnrecoverable = errors.New("unrecoverable")
)

// PlanningError reports that no usable queries could be produced for a round.
type PlanningError struct {
	Depth  int
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning failed at depth %d: %s: %v", e.Depth, e.Reason, e.Err)
	}
	return fmt.Sprintf("planning failed at depth %d: %s", e.Depth, e.Reason)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// SearchFailure classifies a failed query.
type SearchFailure string

const (
	SearchFailureTimeout  SearchFailure = "timeout"
	SearchFailureProvider SearchFailure = "provider_error"
	SearchFailureEmpty    SearchFailure = "empty_result"
)

// SearchError reports a single failed query.
type SearchError struct {
	Query string
	Kind  SearchFailure
	Err   error
}

func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search %q failed (%s): %v", e.Query, e.Kind, e.Err)
	}
	return fmt.Sprintf("search %q failed (%s)", e.Query, e.Kind)
}

func (e *SearchError) Unwrap() error { return e.Err }

// AnalysisError reports that a round's results could not be analyzed.
type AnalysisError struct {
	Depth int
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed at depth %d: %v", e.Depth, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// MergeAmbiguityError reports a mention whose match could not be decided.
// The mention is kept as a new entity.
type MergeAmbiguityError struct {
	Mention string
	Reason  string
	Err     error
}

func (e *MergeAmbiguityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ambiguous match for %q: %s: %v", e.Mention, e.Reason, e.Err)
	}
	return fmt.Sprintf("ambiguous match for %q: %s", e.Mention, e.Reason)
}

func (e *MergeAmbiguityError) Unwrap() error { return e.Err }

// UnrecoverableError aborts a session.
type UnrecoverableError struct {
	Reason string
	Err    error
}

func (e *UnrecoverableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unrecoverable: %s: %v", e.Reason, e.Err)
	}
	return "unrecoverable: " + e.Reason
}

func (e *UnrecoverableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnrecoverable) true for every UnrecoverableError.
func (e *UnrecoverableError) Is(target error) bool {
	return target == ErrUnrecoverable
}

// IsUnavailable reports whether err means the collaborator could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrCollaboratorUnavailable) || errors.Is(err, domain.ErrServiceUnavailable)
}

// isAbort reports whether err or ctx signal that the session must stop now.
func isAbort(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrCancelled) ||
		errors.Is(err, ErrUnrecoverable)
}

// capability groups collaborators that share a backing service. The session
// is unrecoverable only when every capability is down at once.
type capability string

const (
	capabilityReasoning  capability = "reasoning"
	capabilityExtraction capability = "extraction"
)

type capabilityTracker struct {
	down map[capability]error
}

func newCapabilityTracker() *capabilityTracker {
	return &capabilityTracker{down: make(map[capability]error)}
}

// observe records the outcome of a call. Only unavailability marks a
// capability down; any success marks it up again.
func (t *capabilityTracker) observe(c capability, err error) {
	switch {
	case err == nil:
		delete(t.down, c)
	case IsUnavailable(err):
		t.down[c] = err
	}
}

func (t *capabilityTracker) isDown(c capability) bool {
	_, ok := t.down[c]
	return ok
}

func (t *capabilityTracker) exhausted() error {
	reasoning, rOK := t.down[capabilityReasoning]
	_, eOK := t.down[capabilityExtraction]
	if rOK && eOK {
		return &UnrecoverableError{Reason: "all core collaborators unreachable", Err: reasoning}
	}
	return nil
}
