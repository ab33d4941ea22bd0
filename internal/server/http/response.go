package httpserver

import (
	"time"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/research"
)

// Session response types for JSON serialization.

type startSessionResponse struct {
	SessionID  string    `json:"session_id"`
	WorkflowID string    `json:"workflow_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	Message    string    `json:"message"`
}

type sessionResponse struct {
	SessionID         string             `json:"session_id"`
	Subject           string             `json:"subject"`
	Context           string             `json:"context,omitempty"`
	Tags              []string           `json:"tags,omitempty"`
	Status            string             `json:"status"`
	WorkflowID        string             `json:"workflow_id,omitempty"`
	TerminationReason string             `json:"termination_reason,omitempty"`
	RiskLevel         string             `json:"risk_level,omitempty"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	ReportLocation    string             `json:"report_location,omitempty"`
	Counters          countersResponse   `json:"counters"`
	Progress          *research.Progress `json:"progress,omitempty"`
	Config            configResponse     `json:"configuration"`
	CreatedAt         time.Time          `json:"created_at"`
	StartedAt         *time.Time         `json:"started_at,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	Duration          string             `json:"duration,omitempty"`
}

type countersResponse struct {
	Depth           int `json:"depth"`
	QueriesExecuted int `json:"queries_executed"`
	EntitiesFound   int `json:"entities_found"`
	ErrorCount      int `json:"error_count"`
}

type configResponse struct {
	MaxDepth                  int `json:"max_depth"`
	MaxQueriesPerDepth        int `json:"max_queries_per_depth"`
	MaxConcurrentSearches     int `json:"max_concurrent_searches"`
	StagnationCheckIterations int `json:"stagnation_check_iterations"`
	SearchTimeoutSeconds      int `json:"search_timeout_seconds"`
}

type sessionSummaryResponse struct {
	SessionID   string     `json:"session_id"`
	Subject     string     `json:"subject"`
	Status      string     `json:"status"`
	RiskLevel   string     `json:"risk_level,omitempty"`
	Depth       int        `json:"depth"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
}

type listSessionsResponse struct {
	Sessions      []sessionSummaryResponse `json:"sessions"`
	NextPageToken string                   `json:"next_page_token,omitempty"`
	TotalCount    int                      `json:"total_count"`
}

type cancelSessionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type auditTrailResponse struct {
	SessionID string                `json:"session_id"`
	Count     int                   `json:"count"`
	Events    []research.AuditEvent `json:"events"`
	Replayed  *research.Progress    `json:"replayed,omitempty"`
}

// Converter functions

func domainSessionToResponse(s *domain.Session) sessionResponse {
	resp := sessionResponse{
		SessionID:         s.ID.String(),
		Subject:           s.Subject,
		Context:           s.Context,
		Tags:              s.Tags,
		Status:            string(s.Status),
		WorkflowID:        s.WorkflowID,
		TerminationReason: s.TerminationReason,
		RiskLevel:         s.RiskLevel,
		ErrorMessage:      s.ErrorMessage,
		ReportLocation:    s.ReportLocation,
		Counters: countersResponse{
			Depth:           s.Depth,
			QueriesExecuted: s.QueriesExecuted,
			EntitiesFound:   s.EntitiesFound,
			ErrorCount:      s.ErrorCount,
		},
		Config: configResponse{
			MaxDepth:                  s.Config.MaxDepth,
			MaxQueriesPerDepth:        s.Config.MaxQueriesPerDepth,
			MaxConcurrentSearches:     s.Config.MaxConcurrentSearches,
			StagnationCheckIterations: s.Config.StagnationCheckIterations,
			SearchTimeoutSeconds:      s.Config.SearchTimeoutSeconds,
		},
		CreatedAt:   s.CreatedAt,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
	}
	if d := s.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	return resp
}

func domainSessionToSummary(s *domain.Session) sessionSummaryResponse {
	resp := sessionSummaryResponse{
		SessionID:   s.ID.String(),
		Subject:     s.Subject,
		Status:      string(s.Status),
		RiskLevel:   s.RiskLevel,
		Depth:       s.Depth,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
	}
	if d := s.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	return resp
}
