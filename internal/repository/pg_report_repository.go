package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/research"
)

// ReportLocationPrefix prefixes the location returned by SaveReport.
const ReportLocationPrefix = "postgres://research_reports/"

// Compile-time interface verification.
var _ research.ReportStore = (*PgReportRepository)(nil)

// PgReportRepository stores final research reports as JSONB, one per session.
type PgReportRepository struct {
	db DBTX
}

// NewPgReportRepository creates a new PostgreSQL report repository.
func NewPgReportRepository(db DBTX) *PgReportRepository {
	return &PgReportRepository{db: db}
}

// SaveReport upserts the report for its session and returns its location.
func (r *PgReportRepository) SaveReport(ctx context.Context, report *research.Report) (string, error) {
	if report == nil {
		return "", domain.NewValidationError("report", "report cannot be nil")
	}
	if report.SessionID == "" {
		return "", domain.NewValidationError("session_id", "session ID is required")
	}

	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	generatedAt := report.Metadata.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO research_reports (session_id, subject, risk_level, report, generated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			subject = EXCLUDED.subject,
			risk_level = EXCLUDED.risk_level,
			report = EXCLUDED.report,
			generated_at = EXCLUDED.generated_at,
			updated_at = NOW()`

	if _, err := r.db.Exec(ctx, query,
		report.SessionID, report.Subject, string(report.RiskLevel), body, generatedAt,
	); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	return ReportLocationPrefix + report.SessionID, nil
}

// GetReport retrieves the report of a session.
// Returns domain.ErrNotFound if the session has no report.
func (r *PgReportRepository) GetReport(ctx context.Context, sessionID string) (*research.Report, error) {
	var body []byte
	err := r.db.QueryRow(ctx,
		`SELECT report FROM research_reports WHERE session_id = $1`,
		sessionID,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("report", sessionID)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var report research.Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}
