package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/observability"
	"github.com/helixir/osint-research-service/internal/reportstore"
	"github.com/helixir/osint-research-service/internal/repository"
	"github.com/helixir/osint-research-service/internal/research"
	"github.com/helixir/osint-research-service/internal/sessions"
	"github.com/helixir/osint-research-service/internal/temporal"
)

// Pagination and request limits.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// cancelSessionRequest is the optional JSON body of POST /cancel.
type cancelSessionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// startSession handles POST /api/v1/sessions.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req sessions.StartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = observability.CorrelationIDFromContext(ctx)
	}

	session, err := s.deps.Sessions.Start(ctx, req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, startSessionResponse{
		SessionID:  session.ID.String(),
		WorkflowID: session.WorkflowID,
		Status:     string(session.Status),
		CreatedAt:  session.CreatedAt,
		Message:    "research session started",
	})
}

// getSession handles GET /api/v1/sessions/{sessionID}. Running sessions
// include live progress from their workflow when it can be queried.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, ok := parseUUID(w, chi.URLParam(r, "sessionID"), "session_id")
	if !ok {
		return
	}

	session, err := s.deps.Store.Get(ctx, sessionID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := domainSessionToResponse(session)
	if session.Status == domain.SessionStatusRunning && session.WorkflowID != "" && s.deps.Progress != nil {
		progress, qErr := s.deps.Progress.QueryProgress(ctx, session.WorkflowID)
		if qErr != nil {
			s.logger.Debug().Err(qErr).Str("session_id", sessionID.String()).Msg("progress query failed")
		} else {
			resp.Progress = &progress.Progress
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// listSessions handles GET /api/v1/sessions.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset := parsePaginationParams(r)

	filter := repository.SessionFilter{
		Subject: r.URL.Query().Get("subject"),
		Limit:   limit,
		Offset:  offset,
	}
	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		filter.Status = []domain.SessionStatus{domain.SessionStatus(statusParam)}
	}
	if createdAfter := r.URL.Query().Get("created_after"); createdAfter != "" {
		t, parseErr := time.Parse(time.RFC3339, createdAfter)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_after format: expected RFC3339")
			return
		}
		filter.CreatedAfter = &t
	}
	if createdBefore := r.URL.Query().Get("created_before"); createdBefore != "" {
		t, parseErr := time.Parse(time.RFC3339, createdBefore)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_before format: expected RFC3339")
			return
		}
		filter.CreatedBefore = &t
	}
	if err := filter.Validate(); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	list, totalCount, err := s.deps.Store.List(ctx, filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	summaries := make([]sessionSummaryResponse, len(list))
	for i, session := range list {
		summaries[i] = domainSessionToSummary(session)
	}

	writeJSON(w, http.StatusOK, listSessionsResponse{
		Sessions:      summaries,
		NextPageToken: encodeHTTPPageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// getReport handles GET /api/v1/sessions/{sessionID}/report. The format
// query parameter selects json (default) or yaml.
func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseUUID(w, chi.URLParam(r, "sessionID"), "session_id")
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = reportstore.FormatJSON
	}

	report, err := s.deps.Reports.GetReport(r.Context(), sessionID.String())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	body, err := reportstore.Render(report, format)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if format == reportstore.FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "application/yaml")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// getAuditTrail handles GET /api/v1/sessions/{sessionID}/audit. With
// replay=true the trail is also folded back into a state summary.
func (s *Server) getAuditTrail(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseUUID(w, chi.URLParam(r, "sessionID"), "session_id")
	if !ok {
		return
	}

	if _, err := s.deps.Store.Get(r.Context(), sessionID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	trail, err := s.deps.Audit.ListEvents(r.Context(), sessionID.String())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if trail == nil {
		trail = []research.AuditEvent{}
	}

	resp := auditTrailResponse{
		SessionID: sessionID.String(),
		Count:     len(trail),
		Events:    trail,
	}

	if replay, _ := strconv.ParseBool(r.URL.Query().Get("replay")); replay && len(trail) > 0 {
		state, replayErr := research.Replay(trail)
		if replayErr != nil {
			s.logger.Error().Err(replayErr).Str("session_id", sessionID.String()).Msg("audit trail replay failed")
			writeError(w, http.StatusUnprocessableEntity, "audit trail cannot be replayed")
			return
		}
		progress := state.Progress()
		resp.Replayed = &progress
	}

	writeJSON(w, http.StatusOK, resp)
}

// cancelSession handles POST /api/v1/sessions/{sessionID}/cancel.
func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseUUID(w, chi.URLParam(r, "sessionID"), "session_id")
	if !ok {
		return
	}

	var cancelReq cancelSessionRequest
	if r.Body != nil {
		defer r.Body.Close()
		if r.ContentLength != 0 {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
			if err == nil && len(body) > 0 {
				_ = json.Unmarshal(body, &cancelReq)
			}
		}
	}

	session, err := s.deps.Sessions.Cancel(r.Context(), sessionID, cancelReq.Reason)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionFinished) {
			writeError(w, http.StatusConflict, "session is already in terminal state")
			return
		}
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, cancelSessionResponse{
		Success: true,
		Message: "cancellation requested",
		Status:  string(session.Status),
	})
}

// writeDomainError maps domain and temporal errors to HTTP status codes and
// writes a JSON error response. Internal error details are not leaked to
// clients.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid status transition")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable), errors.Is(err, temporal.ErrConnectionFailed):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, "operation cancelled")
	case errors.Is(err, temporal.ErrWorkflowNotFound):
		writeError(w, http.StatusNotFound, "workflow not found")
	case errors.Is(err, temporal.ErrWorkflowAlreadyStarted):
		writeError(w, http.StatusConflict, "workflow already started")
	default:
		log := observability.LoggerFromContext(r.Context(), s.logger)
		log.Error().Err(err).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and page_token from query parameters.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
