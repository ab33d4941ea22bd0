package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by the publishers.
// This interface allows for easy mocking in tests.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// WriterConfig tunes the Kafka writer.
type WriterConfig struct {
	// BatchSize is the maximum number of messages per batch (default: 100).
	BatchSize int
	// BatchTimeout bounds how long a partial batch waits (default: 10ms).
	BatchTimeout time.Duration
}

// NewWriter creates a Kafka writer for topic. Messages are partitioned by
// key and a write succeeds only once every in-sync replica has it.
func NewWriter(brokers []string, topic string, cfg WriterConfig) *kafka.Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: false,
	}
}

// Publisher emits lifecycle events and writes them to Kafka.
type Publisher struct {
	writer  MessageWriter
	emitter *Emitter
}

// NewPublisher creates a new Publisher with the given writer and emitter.
func NewPublisher(writer MessageWriter, emitter *Emitter) *Publisher {
	return &Publisher{
		writer:  writer,
		emitter: emitter,
	}
}

// Publish emits an event and writes it keyed by session ID.
func (p *Publisher) Publish(ctx context.Context, params EmitParams) error {
	envelope, err := p.emitter.Emit(params)
	if err != nil {
		return fmt.Errorf("emit event: %w", err)
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(envelope.AggregateID),
		Value: value,
		Time:  envelope.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(envelope.EventType)},
			{Key: "event_id", Value: []byte(envelope.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event %s: %w", envelope.EventType, err)
	}
	return nil
}

// Emitter returns the underlying emitter for direct event creation.
func (p *Publisher) Emitter() *Emitter {
	return p.emitter
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
