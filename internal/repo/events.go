package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// MessageWriter is the subset of *kafka.Writer used by the event log.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEventLogConfig addresses the events topic.
type KafkaEventLogConfig struct {
	Brokers []string
	Topic   string
}

// KafkaEventLog publishes engine events as JSON, keyed so that all events of one incident or
// anomaly land on the same partition.
type KafkaEventLog struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewKafkaEventLog constructs an event log backed by a kafka-go writer.
func NewKafkaEventLog(cfg KafkaEventLogConfig, logger *slog.Logger) (*KafkaEventLog, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka events topic not configured")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return NewKafkaEventLogWithWriter(writer, logger), nil
}

// NewKafkaEventLogWithWriter wraps an existing writer.
func NewKafkaEventLogWithWriter(writer MessageWriter, logger *slog.Logger) *KafkaEventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaEventLog{writer: writer, logger: logger}
}

// Publish writes event to the topic.
func (l *KafkaEventLog) Publish(ctx context.Context, event models.EngineEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Key()),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := l.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (l *KafkaEventLog) Close() error {
	return l.writer.Close()
}

// NoopEventLog discards events.
type NoopEventLog struct{}

// Publish implements the event log interface.
func (NoopEventLog) Publish(context.Context, models.EngineEvent) error { return nil }

// LogEventLog writes event summaries to the logger instead of a broker.
type LogEventLog struct {
	Logger *slog.Logger
}

// Publish implements the event log interface.
func (l LogEventLog) Publish(_ context.Context, event models.EngineEvent) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("engine event", slog.String("type", string(event.Type)), slog.String("key", event.Key()))
	return nil
}
