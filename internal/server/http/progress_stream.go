package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/research"
)

const (
	// sseQueryInterval is how often the session and its workflow are polled.
	sseQueryInterval = 2 * time.Second
	// sseMaxDuration is the maximum time an SSE stream may remain open.
	sseMaxDuration = 4 * time.Hour
)

// sseEvent represents an event sent via SSE.
type sseEvent struct {
	EventType string             `json:"event_type"`
	SessionID string             `json:"session_id"`
	Status    string             `json:"status"`
	Progress  *research.Progress `json:"progress,omitempty"`
	Message   string             `json:"message"`
	Timestamp time.Time          `json:"timestamp"`
}

// streamProgress handles GET /api/v1/sessions/{sessionID}/progress (SSE).
// The stream sends a progress_update whenever the workflow's progress
// changes and closes with a completed event once the session is terminal.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseUUID(w, chi.URLParam(r, "sessionID"), "session_id")
	if !ok {
		return
	}

	session, err := s.deps.Store.Get(r.Context(), sessionID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if session.Status.IsTerminal() {
		sendSSEEvent(w, flusher, terminalEvent(session))
		return
	}

	sendSSEEvent(w, flusher, sseEvent{
		EventType: "stream_started",
		SessionID: sessionID.String(),
		Status:    string(session.Status),
		Message:   "progress stream started",
		Timestamp: time.Now(),
	})

	ctx := r.Context()
	deadlineTimer := time.NewTimer(sseMaxDuration)
	defer deadlineTimer.Stop()
	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	var last *research.Progress
	for {
		select {
		case <-ctx.Done():
			return

		case <-deadlineTimer.C:
			sendSSEEvent(w, flusher, sseEvent{
				EventType: "timeout",
				SessionID: sessionID.String(),
				Message:   "stream max duration exceeded",
				Timestamp: time.Now(),
			})
			return

		case <-ticker.C:
			current, pollErr := s.deps.Store.Get(ctx, sessionID)
			if pollErr != nil {
				s.logger.Error().Err(pollErr).Str("session_id", sessionID.String()).Msg("failed to poll session status")
				continue
			}
			if current.Status.IsTerminal() {
				sendSSEEvent(w, flusher, terminalEvent(current))
				return
			}
			if current.WorkflowID == "" || s.deps.Progress == nil {
				continue
			}

			progress, qErr := s.deps.Progress.QueryProgress(ctx, current.WorkflowID)
			if qErr != nil {
				s.logger.Debug().Err(qErr).Str("session_id", sessionID.String()).Msg("progress query failed")
				continue
			}
			if last != nil && *last == progress.Progress {
				continue
			}
			snapshot := progress.Progress
			last = &snapshot
			sendSSEEvent(w, flusher, sseEvent{
				EventType: "progress_update",
				SessionID: sessionID.String(),
				Status:    string(progress.Status),
				Progress:  &snapshot,
				Message:   "phase: " + string(snapshot.Phase),
				Timestamp: time.Now(),
			})
		}
	}
}

func terminalEvent(s *domain.Session) sseEvent {
	return sseEvent{
		EventType: "completed",
		SessionID: s.ID.String(),
		Status:    string(s.Status),
		Message:   "session finished with status: " + string(s.Status),
		Timestamp: time.Now(),
	}
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event sseEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
	flusher.Flush()
}
