package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/osint-research-service/internal/domain"
)

// txBeginner is an interface for types that can begin a transaction (e.g., *pgxpool.Pool, *database.DB).
// Used by Update to automatically wrap SELECT FOR UPDATE + UPDATE in a transaction
// when the underlying DBTX is a pool rather than an existing transaction.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation = "23505" // unique_violation
)

const sessionColumns = `id, subject, context, tags, config_snapshot,
			temporal_workflow_id, temporal_run_id, status,
			termination_reason, risk_level, error_message, report_location,
			depth, queries_executed, entities_found, error_count,
			created_at, updated_at, started_at, completed_at`

// Compile-time interface verification.
var _ SessionRepository = (*PgSessionRepository)(nil)

// PgSessionRepository is a PostgreSQL implementation of SessionRepository.
type PgSessionRepository struct {
	db DBTX
}

// NewPgSessionRepository creates a new PostgreSQL session repository.
func NewPgSessionRepository(db DBTX) *PgSessionRepository {
	return &PgSessionRepository{db: db}
}

// Create inserts a new research session.
func (r *PgSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if session == nil {
		return domain.NewValidationError("session", "session cannot be nil")
	}
	if session.ID == uuid.Nil {
		return domain.NewValidationError("id", "session ID is required")
	}
	if strings.TrimSpace(session.Subject) == "" {
		return domain.NewValidationError("subject", "subject is required")
	}
	if session.Status == "" {
		session.Status = domain.SessionStatusPending
	}

	configJSON, err := json.Marshal(session.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tags := session.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO research_sessions (
			id, subject, context, tags, config_snapshot,
			temporal_workflow_id, temporal_run_id, status,
			termination_reason, risk_level, error_message, report_location,
			depth, queries_executed, entities_found, error_count,
			created_at, updated_at, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20
		)`

	_, err = r.db.Exec(ctx, query,
		session.ID, session.Subject, session.Context, tags, configJSON,
		nullString(session.WorkflowID), nullString(session.RunID), session.Status,
		nullString(session.TerminationReason), nullString(session.RiskLevel), nullString(session.ErrorMessage), nullString(session.ReportLocation),
		session.Depth, session.QueriesExecuted, session.EntitiesFound, session.ErrorCount,
		session.CreatedAt, session.UpdatedAt, session.StartedAt, session.CompletedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("session", session.ID.String())
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// Get retrieves a research session by its ID.
func (r *PgSessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM research_sessions
		WHERE id = $1`

	session, err := scanSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("session", id.String())
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// GetByWorkflowID retrieves a research session by its Temporal workflow ID.
func (r *PgSessionRepository) GetByWorkflowID(ctx context.Context, workflowID string) (*domain.Session, error) {
	if workflowID == "" {
		return nil, domain.NewValidationError("workflow_id", "workflow ID is required")
	}

	query := `SELECT ` + sessionColumns + `
		FROM research_sessions
		WHERE temporal_workflow_id = $1`

	session, err := scanSession(r.db.QueryRow(ctx, query, workflowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("session", workflowID)
		}
		return nil, fmt.Errorf("failed to get session by workflow ID: %w", err)
	}

	return session, nil
}

// Update performs a locked read-modify-write of a session using SELECT FOR UPDATE.
//
// If the underlying DBTX is a connection pool (supports Begin), the method
// wraps the SELECT FOR UPDATE + UPDATE in its own transaction. If it is
// already a transaction, it runs within that transaction:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    repo := repository.NewPgSessionRepository(tx)
//	    return repo.Update(ctx, id, func(s *domain.Session) error {
//	        s.Tags = append(s.Tags, "priority")
//	        return nil
//	    })
//	})
func (r *PgSessionRepository) Update(ctx context.Context, id uuid.UUID, fn func(*domain.Session) error) error {
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for update: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgSessionRepository{db: tx}
		if err := txRepo.updateInTx(ctx, id, fn); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	return r.updateInTx(ctx, id, fn)
}

// updateInTx performs the actual SELECT FOR UPDATE + UPDATE within the current DBTX.
func (r *PgSessionRepository) updateInTx(ctx context.Context, id uuid.UUID, fn func(*domain.Session) error) error {
	selectQuery := `SELECT ` + sessionColumns + `
		FROM research_sessions
		WHERE id = $1
		FOR UPDATE`

	rows, err := r.db.Query(ctx, selectQuery, id)
	if err != nil {
		return fmt.Errorf("failed to query session for update: %w", err)
	}

	session, err := scanSessionRows(rows)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("session", id.String())
		}
		return fmt.Errorf("failed to scan session: %w", err)
	}

	if err := fn(session); err != nil {
		return err
	}

	session.UpdatedAt = time.Now().UTC()

	configJSON, err := json.Marshal(session.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	tags := session.Tags
	if tags == nil {
		tags = []string{}
	}

	updateQuery := `
		UPDATE research_sessions SET
			context = $1,
			tags = $2,
			config_snapshot = $3,
			temporal_workflow_id = $4,
			temporal_run_id = $5,
			status = $6,
			termination_reason = $7,
			risk_level = $8,
			error_message = $9,
			report_location = $10,
			depth = $11,
			queries_executed = $12,
			entities_found = $13,
			error_count = $14,
			updated_at = $15,
			started_at = $16,
			completed_at = $17
		WHERE id = $18`

	_, err = r.db.Exec(ctx, updateQuery,
		session.Context,
		tags,
		configJSON,
		nullString(session.WorkflowID),
		nullString(session.RunID),
		session.Status,
		nullString(session.TerminationReason),
		nullString(session.RiskLevel),
		nullString(session.ErrorMessage),
		nullString(session.ReportLocation),
		session.Depth,
		session.QueriesExecuted,
		session.EntitiesFound,
		session.ErrorCount,
		session.UpdatedAt,
		session.StartedAt,
		session.CompletedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	return nil
}

// UpdateStatus updates the status of a session with an optional error message.
func (r *PgSessionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SessionStatus, errorMsg string) error {
	return r.Update(ctx, id, func(s *domain.Session) error {
		if !s.Status.CanTransitionTo(status) {
			return &domain.TransitionError{From: s.Status, To: status}
		}
		s.Status = status

		now := time.Now().UTC()
		if status == domain.SessionStatusRunning && s.StartedAt == nil {
			s.StartedAt = &now
		}
		if status.IsTerminal() && s.CompletedAt == nil {
			s.CompletedAt = &now
		}
		if status == domain.SessionStatusFailed && errorMsg != "" {
			s.ErrorMessage = errorMsg
		}
		return nil
	})
}

// MarkRunning records the workflow execution and moves the session to running.
func (r *PgSessionRepository) MarkRunning(ctx context.Context, id uuid.UUID, workflowID, runID string) error {
	return r.Update(ctx, id, func(s *domain.Session) error {
		if !s.Status.CanTransitionTo(domain.SessionStatusRunning) {
			return &domain.TransitionError{From: s.Status, To: domain.SessionStatusRunning}
		}
		s.Status = domain.SessionStatusRunning
		if workflowID != "" {
			s.WorkflowID = workflowID
		}
		if runID != "" {
			s.RunID = runID
		}
		if s.StartedAt == nil {
			now := time.Now().UTC()
			s.StartedAt = &now
		}
		return nil
	})
}

// errAlreadyComplete aborts the update when the outcome was already written.
var errAlreadyComplete = errors.New("session already complete")

// Complete writes the outcome of a finished session.
func (r *PgSessionRepository) Complete(ctx context.Context, id uuid.UUID, outcome domain.SessionOutcome) error {
	if !outcome.Status.IsTerminal() {
		return domain.NewValidationError("status", "outcome status must be terminal")
	}

	err := r.Update(ctx, id, func(s *domain.Session) error {
		if s.Status == outcome.Status {
			return errAlreadyComplete
		}
		if !s.Status.CanTransitionTo(outcome.Status) {
			return &domain.TransitionError{From: s.Status, To: outcome.Status}
		}

		now := time.Now().UTC()
		s.Status = outcome.Status
		s.TerminationReason = outcome.TerminationReason
		s.RiskLevel = outcome.RiskLevel
		s.ErrorMessage = outcome.ErrorMessage
		s.ReportLocation = outcome.ReportLocation
		s.Depth = outcome.Depth
		s.QueriesExecuted = outcome.QueriesExecuted
		s.EntitiesFound = outcome.EntitiesFound
		s.ErrorCount = outcome.ErrorCount
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
		s.CompletedAt = &now
		return nil
	})
	if errors.Is(err, errAlreadyComplete) {
		return nil
	}
	return err
}

// List retrieves research sessions matching the filter criteria.
func (r *PgSessionRepository) List(ctx context.Context, filter SessionFilter) ([]*domain.Session, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	conditions := []string{"TRUE"}
	var args []interface{}
	argIndex := 1

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.Subject != "" {
		conditions = append(conditions, fmt.Sprintf("subject ILIKE $%d", argIndex))
		args = append(args, "%"+escapeLike(filter.Subject)+"%")
		argIndex++
	}

	if filter.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIndex))
		args = append(args, *filter.CreatedAfter)
		argIndex++
	}

	if filter.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, *filter.CreatedBefore)
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM research_sessions WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	selectQuery := fmt.Sprintf(`SELECT %s
		FROM research_sessions
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		sessionColumns, whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*domain.Session, 0, filter.Limit)
	for rows.Next() {
		session, err := scanSessionFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, totalCount, nil
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// sessionScanDest holds the destination pointers for scanning a session row.
type sessionScanDest struct {
	session           domain.Session
	configJSON        []byte
	workflowID        *string
	runID             *string
	terminationReason *string
	riskLevel         *string
	errorMessage      *string
	reportLocation    *string
}

// destinations returns the slice of pointers for Scan operations.
func (d *sessionScanDest) destinations() []interface{} {
	return []interface{}{
		&d.session.ID, &d.session.Subject, &d.session.Context, &d.session.Tags, &d.configJSON,
		&d.workflowID, &d.runID, &d.session.Status,
		&d.terminationReason, &d.riskLevel, &d.errorMessage, &d.reportLocation,
		&d.session.Depth, &d.session.QueriesExecuted, &d.session.EntitiesFound, &d.session.ErrorCount,
		&d.session.CreatedAt, &d.session.UpdatedAt, &d.session.StartedAt, &d.session.CompletedAt,
	}
}

// finalize sets nullable string fields and unmarshals the config snapshot.
func (d *sessionScanDest) finalize() (*domain.Session, error) {
	d.session.WorkflowID = derefString(d.workflowID)
	d.session.RunID = derefString(d.runID)
	d.session.TerminationReason = derefString(d.terminationReason)
	d.session.RiskLevel = derefString(d.riskLevel)
	d.session.ErrorMessage = derefString(d.errorMessage)
	d.session.ReportLocation = derefString(d.reportLocation)

	if len(d.configJSON) > 0 {
		if err := json.Unmarshal(d.configJSON, &d.session.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	return &d.session, nil
}

// scanSession scans a single row into a Session.
func scanSession(row pgx.Row) (*domain.Session, error) {
	var dest sessionScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanSessionRows scans the first row of rows. Used with SELECT FOR UPDATE,
// which returns Rows instead of Row.
func scanSessionRows(rows pgx.Rows) (*domain.Session, error) {
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	return scanSessionFromRows(rows)
}

// scanSessionFromRows scans the current row from pgx.Rows into a Session.
func scanSessionFromRows(rows pgx.Rows) (*domain.Session, error) {
	var dest sessionScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// nullString returns a pointer to the string if non-empty, otherwise nil.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// escapeLike escapes LIKE wildcards in s.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
