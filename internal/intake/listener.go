// Package intake provides a Kafka listener that turns session requests from
// other services into research sessions.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/sessions"
)

// Request actions.
const (
	ActionStart  = "start"
	ActionCancel = "cancel"
)

// SessionRequest is the message consumed from the intake topic. Action
// defaults to start.
type SessionRequest struct {
	Action string `json:"action,omitempty"`
	sessions.StartRequest
	// Reason is used by cancel requests.
	Reason string `json:"reason,omitempty"`
}

// SessionService starts and cancels research sessions.
type SessionService interface {
	Start(ctx context.Context, req sessions.StartRequest) (*domain.Session, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Session, error)
}

// MessageReader reads committed messages from a consumer group.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Config holds configuration for the intake listener.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic carrying session requests.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// NewReader creates the consumer group reader for the intake topic.
func NewReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
}

// Listener consumes session requests and hands them to the session service.
type Listener struct {
	reader   MessageReader
	sessions SessionService
	logger   zerolog.Logger
}

// NewListener creates a new intake listener.
func NewListener(reader MessageReader, svc SessionService, logger zerolog.Logger) *Listener {
	return &Listener{
		reader:   reader,
		sessions: svc,
		logger:   logger.With().Str("component", "intake_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting intake listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("intake listener stopped via context cancellation")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				l.logger.Info().Msg("intake reader closed")
				return nil
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received session request")

		var req SessionRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			l.logger.Error().Err(err).
				Int64("offset", msg.Offset).
				Msg("failed to unmarshal session request")
			continue
		}
		if req.CorrelationID == "" {
			req.CorrelationID = headerValue(msg, "correlation_id")
		}

		if err := l.handle(ctx, req); err != nil {
			l.logger.Error().Err(err).
				Str("action", req.Action).
				Str("session_id", req.SessionID).
				Msg("failed to handle session request")
		}
	}
}

// handle applies one session request. Redelivered start requests that carry a
// session ID are skipped once the session exists.
func (l *Listener) handle(ctx context.Context, req SessionRequest) error {
	switch req.Action {
	case "", ActionStart:
		session, err := l.sessions.Start(ctx, req.StartRequest)
		if err != nil {
			if req.SessionID != "" && errors.Is(err, domain.ErrAlreadyExists) {
				l.logger.Debug().
					Str("session_id", req.SessionID).
					Msg("session already exists, skipping redelivered request")
				return nil
			}
			return fmt.Errorf("start session: %w", err)
		}
		l.logger.Info().
			Str("session_id", session.ID.String()).
			Str("workflow_id", session.WorkflowID).
			Msg("session started from intake")
		return nil

	case ActionCancel:
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			return domain.NewValidationError("session_id", "must be a valid UUID")
		}
		if _, err := l.sessions.Cancel(ctx, id, req.Reason); err != nil {
			if errors.Is(err, sessions.ErrSessionFinished) {
				return nil
			}
			return fmt.Errorf("cancel session: %w", err)
		}
		return nil

	default:
		return domain.NewValidationError("action", "unknown action "+req.Action)
	}
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing intake listener")
	return l.reader.Close()
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
