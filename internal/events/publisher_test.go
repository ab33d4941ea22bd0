package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/osint-research-service/internal/research"
)

// MockWriter is a mock implementation of the MessageWriter interface.
type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	return m.Called().Error(0)
}

func TestNewWriter(t *testing.T) {
	w := NewWriter([]string{"localhost:9092"}, "events", WriterConfig{})
	assert.Equal(t, "events", w.Topic)
	assert.Equal(t, 100, w.BatchSize)
	assert.Equal(t, 10*time.Millisecond, w.BatchTimeout)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}

func TestPublisher_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("writes envelope keyed by session", func(t *testing.T) {
		writer := new(MockWriter)
		var written []kafka.Message
		writer.On("WriteMessages", ctx, mock.Anything).
			Run(func(args mock.Arguments) { written = args.Get(1).([]kafka.Message) }).
			Return(nil)

		pub := NewPublisher(writer, NewEmitter(EmitterConfig{}))
		err := pub.Publish(ctx, EmitParams{
			SessionID: "session-1",
			EventType: EventTypeSessionCompleted,
			Payload:   map[string]interface{}{"risk_level": "HIGH"},
		})
		require.NoError(t, err)
		require.Len(t, written, 1)

		msg := written[0]
		assert.Equal(t, "session-1", string(msg.Key))
		assert.Equal(t, "event_type", msg.Headers[0].Key)
		assert.Equal(t, EventTypeSessionCompleted, string(msg.Headers[0].Value))

		var envelope Envelope
		require.NoError(t, json.Unmarshal(msg.Value, &envelope))
		assert.Equal(t, "session-1", envelope.AggregateID)
		assert.JSONEq(t, `{"risk_level":"HIGH"}`, string(envelope.Payload))
		writer.AssertExpectations(t)
	})

	t.Run("rejects invalid params without writing", func(t *testing.T) {
		writer := new(MockWriter)
		pub := NewPublisher(writer, NewEmitter(EmitterConfig{}))

		err := pub.Publish(ctx, EmitParams{EventType: EventTypeSessionStarted})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "emit event")
		writer.AssertNotCalled(t, "WriteMessages", mock.Anything, mock.Anything)
	})

	t.Run("wraps writer error", func(t *testing.T) {
		writer := new(MockWriter)
		writeErr := errors.New("broker down")
		writer.On("WriteMessages", ctx, mock.Anything).Return(writeErr)

		pub := NewPublisher(writer, NewEmitter(EmitterConfig{}))
		err := pub.Publish(ctx, EmitParams{SessionID: "s", EventType: EventTypeSessionFailed})
		assert.ErrorIs(t, err, writeErr)
		assert.Contains(t, err.Error(), "write event research.session.failed")
	})
}

func TestAuditStream_Append(t *testing.T) {
	ctx := context.Background()
	ev := research.AuditEvent{
		SessionID: "session-1",
		Sequence:  3,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Kind:      research.EventCallAttempt,
		Step:      research.OpSearch,
		Payload:   json.RawMessage(`{"operation":"search"}`),
	}

	t.Run("writes event keyed by session", func(t *testing.T) {
		writer := new(MockWriter)
		var written []kafka.Message
		writer.On("WriteMessages", ctx, mock.Anything).
			Run(func(args mock.Arguments) { written = args.Get(1).([]kafka.Message) }).
			Return(nil)

		require.NoError(t, NewAuditStream(writer).Append(ctx, ev))
		require.Len(t, written, 1)
		assert.Equal(t, "session-1", string(written[0].Key))
		assert.Equal(t, "3", string(written[0].Headers[1].Value))

		var decoded research.AuditEvent
		require.NoError(t, json.Unmarshal(written[0].Value, &decoded))
		assert.Equal(t, ev, decoded)
	})

	t.Run("returns writer error", func(t *testing.T) {
		writer := new(MockWriter)
		writer.On("WriteMessages", ctx, mock.Anything).Return(errors.New("timeout"))

		err := NewAuditStream(writer).Append(ctx, ev)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stream audit event 3")
	})

	t.Run("is a secondary tee sink", func(t *testing.T) {
		writer := new(MockWriter)
		writer.On("WriteMessages", ctx, mock.Anything).Return(errors.New("timeout"))

		var streamErr error
		primary := research.NewMemorySink()
		tee := &research.TeeSink{
			Primary:   primary,
			Secondary: []research.AuditSink{NewAuditStream(writer)},
			OnError:   func(_ research.AuditEvent, err error) { streamErr = err },
		}

		ev := ev
		ev.Sequence = 1
		require.NoError(t, tee.Append(ctx, ev))
		assert.Error(t, streamErr)
	})
}
