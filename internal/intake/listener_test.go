package intake

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/sessions"
)

type mockSessionService struct {
	mock.Mock
}

func (m *mockSessionService) Start(ctx context.Context, req sessions.StartRequest) (*domain.Session, error) {
	args := m.Called(ctx, req)
	if s := args.Get(0); s != nil {
		return s.(*domain.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionService) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Session, error) {
	args := m.Called(ctx, id, reason)
	if s := args.Get(0); s != nil {
		return s.(*domain.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

// scriptedReader returns its messages in order, then io.EOF.
type scriptedReader struct {
	messages []kafka.Message
	errs     []error
	closed   bool
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

func message(t *testing.T, v interface{}) kafka.Message {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{Value: body}
}

func TestListener_Run(t *testing.T) {
	t.Run("starts sessions from requests", func(t *testing.T) {
		svc := new(mockSessionService)
		reader := &scriptedReader{messages: []kafka.Message{
			message(t, map[string]interface{}{"subject": "Jane Roe", "tags": []string{"kyc"}, "max_depth": 2}),
		}}
		reader.messages[0].Headers = []kafka.Header{{Key: "correlation_id", Value: []byte("corr-1")}}

		svc.On("Start", mock.Anything, mock.MatchedBy(func(req sessions.StartRequest) bool {
			return req.Subject == "Jane Roe" &&
				req.MaxDepth != nil && *req.MaxDepth == 2 &&
				req.CorrelationID == "corr-1"
		})).Return(&domain.Session{ID: uuid.New(), WorkflowID: "wf"}, nil).Once()

		err := NewListener(reader, svc, zerolog.Nop()).Run(context.Background())
		require.NoError(t, err)
		svc.AssertExpectations(t)
	})

	t.Run("skips malformed messages and read errors", func(t *testing.T) {
		svc := new(mockSessionService)
		reader := &scriptedReader{
			errs: []error{errors.New("broker unreachable")},
			messages: []kafka.Message{
				{Value: []byte("{not json")},
				message(t, map[string]interface{}{"subject": "Acme Ltd"}),
			},
		}
		svc.On("Start", mock.Anything, mock.Anything).Return(&domain.Session{ID: uuid.New()}, nil).Once()

		require.NoError(t, NewListener(reader, svc, zerolog.Nop()).Run(context.Background()))
		svc.AssertNumberOfCalls(t, "Start", 1)
	})

	t.Run("continues after handler failure", func(t *testing.T) {
		svc := new(mockSessionService)
		reader := &scriptedReader{messages: []kafka.Message{
			message(t, map[string]interface{}{"subject": "First"}),
			message(t, map[string]interface{}{"subject": "Second"}),
		}}
		svc.On("Start", mock.Anything, mock.MatchedBy(func(req sessions.StartRequest) bool { return req.Subject == "First" })).
			Return(nil, errors.New("temporal unavailable")).Once()
		svc.On("Start", mock.Anything, mock.MatchedBy(func(req sessions.StartRequest) bool { return req.Subject == "Second" })).
			Return(&domain.Session{ID: uuid.New()}, nil).Once()

		require.NoError(t, NewListener(reader, svc, zerolog.Nop()).Run(context.Background()))
		svc.AssertExpectations(t)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		reader := &scriptedReader{errs: []error{context.Canceled}}

		err := NewListener(reader, new(mockSessionService), zerolog.Nop()).Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestListener_Handle(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("redelivered start with known session id is skipped", func(t *testing.T) {
		svc := new(mockSessionService)
		svc.On("Start", ctx, mock.Anything).Return(nil, &domain.AlreadyExistsError{Entity: "session", ID: id.String()})

		l := NewListener(&scriptedReader{}, svc, zerolog.Nop())
		err := l.handle(ctx, SessionRequest{StartRequest: sessions.StartRequest{SessionID: id.String(), Subject: "Jane Roe"}})
		assert.NoError(t, err)
	})

	t.Run("duplicate without session id is an error", func(t *testing.T) {
		svc := new(mockSessionService)
		svc.On("Start", ctx, mock.Anything).Return(nil, domain.ErrAlreadyExists)

		l := NewListener(&scriptedReader{}, svc, zerolog.Nop())
		err := l.handle(ctx, SessionRequest{StartRequest: sessions.StartRequest{Subject: "Jane Roe"}})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("cancel request signals session", func(t *testing.T) {
		svc := new(mockSessionService)
		svc.On("Cancel", ctx, id, "case closed").Return(&domain.Session{ID: id}, nil)

		l := NewListener(&scriptedReader{}, svc, zerolog.Nop())
		err := l.handle(ctx, SessionRequest{
			Action:       ActionCancel,
			StartRequest: sessions.StartRequest{SessionID: id.String()},
			Reason:       "case closed",
		})
		require.NoError(t, err)
		svc.AssertExpectations(t)
	})

	t.Run("cancel of finished session is not an error", func(t *testing.T) {
		svc := new(mockSessionService)
		svc.On("Cancel", ctx, id, "").Return(&domain.Session{ID: id}, sessions.ErrSessionFinished)

		l := NewListener(&scriptedReader{}, svc, zerolog.Nop())
		err := l.handle(ctx, SessionRequest{Action: ActionCancel, StartRequest: sessions.StartRequest{SessionID: id.String()}})
		assert.NoError(t, err)
	})

	t.Run("rejects bad cancel id and unknown action", func(t *testing.T) {
		l := NewListener(&scriptedReader{}, new(mockSessionService), zerolog.Nop())

		err := l.handle(ctx, SessionRequest{Action: ActionCancel, StartRequest: sessions.StartRequest{SessionID: "x"}})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))

		err = l.handle(ctx, SessionRequest{Action: "pause"})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestListener_Close(t *testing.T) {
	reader := &scriptedReader{}
	require.NoError(t, NewListener(reader, new(mockSessionService), zerolog.Nop()).Close())
	assert.True(t, reader.closed)
}
