package telemetry

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

// MessageReader is the subset of *kafka.Reader used by KafkaSource.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSource consumes JSON-encoded TelemetryRecords from a topic.
type KafkaSource struct {
	reader MessageReader
	logger *slog.Logger
}

// KafkaSourceConfig configures the consumer group reader.
type KafkaSourceConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaSource constructs a consumer-group reader for cfg.Topic.
func NewKafkaSource(cfg KafkaSourceConfig, logger *slog.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka telemetry topic is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
		MaxWait:        time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
	})
	return NewKafkaSourceWithReader(reader, logger), nil
}

// NewKafkaSourceWithReader wraps an existing reader.
func NewKafkaSourceWithReader(reader MessageReader, logger *slog.Logger) *KafkaSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSource{reader: reader, logger: logger}
}

// Run reads messages until ctx is done. Undecodable or untagged messages are logged and skipped.
func (s *KafkaSource) Run(ctx context.Context, sink Sink) error {
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read telemetry message: %w", err)
		}

		rec, err := DecodeRecord(msg.Value)
		if err != nil {
			s.logger.Warn("skipping telemetry message",
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
				slog.Any("error", err),
			)
			continue
		}
		sink(ctx, rec)
	}
}

// Close releases the reader.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

// DecodeRecord parses a JSON TelemetryRecord and checks that tag and payload agree.
func DecodeRecord(data []byte) (models.TelemetryRecord, error) {
	var rec models.TelemetryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.TelemetryRecord{}, fmt.Errorf("decode telemetry: %w", err)
	}
	if !rec.Valid() {
		return models.TelemetryRecord{}, fmt.Errorf("telemetry kind %q has no matching payload", rec.Kind)
	}
	return rec, nil
}
