package output

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/PlainsightAI/filter-stub-application/internal/logger"
	"github.com/PlainsightAI/filter-stub-application/internal/metrics"
)

const (
	kafkaDialTimeout  = 10 * time.Second
	kafkaWriteTimeout = 10 * time.Second
	kafkaBatchTimeout = 10 * time.Millisecond
)

// MessageWriter is the subset of *kafka.Writer the mirror uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a KafkaMirror.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// FilterID is sent as the "filter_id" header.
	FilterID string
}

// KafkaMirror publishes every event to a Kafka topic.
type KafkaMirror struct {
	writer   MessageWriter
	topic    string
	filterID string
	metrics  *metrics.Metrics
	closed   bool
}

// NewKafkaMirror creates a mirror backed by a kafka.Writer.
// Connections are established lazily on the first publish.
func NewKafkaMirror(cfg KafkaConfig, m *metrics.Metrics) (*KafkaMirror, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka mirror requires brokers and a topic")
	}

	dialer := &kafka.Dialer{
		Timeout:   kafkaDialTimeout,
		DualStack: true,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: kafkaBatchTimeout,
		WriteTimeout: kafkaWriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}

	logger.WithModule("output", "kafka").Info("Kafka mirror initialized",
		slog.Any("brokers", cfg.Brokers),
		slog.String("topic", cfg.Topic))

	return NewKafkaMirrorWithWriter(writer, cfg, m), nil
}

// NewKafkaMirrorWithWriter creates a mirror around an existing writer.
func NewKafkaMirrorWithWriter(w MessageWriter, cfg KafkaConfig, m *metrics.Metrics) *KafkaMirror {
	if m == nil {
		m = metrics.New(nil)
	}
	return &KafkaMirror{writer: w, topic: cfg.Topic, filterID: cfg.FilterID, metrics: m}
}

// Send publishes one event. The message key is the event's string "id"
// field when present and a random UUID otherwise.
func (k *KafkaMirror) Send(ctx context.Context, event interface{}) error {
	if k.closed {
		return fmt.Errorf("kafka mirror is closed")
	}
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event for kafka: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(messageKey(event)),
		Value: payload,
		Time:  start,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "filter_id", Value: []byte(k.filterID)},
		},
	}

	err = k.writer.WriteMessages(ctx, msg)
	k.metrics.RecordKafkaPublish(k.topic, err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("publish to kafka topic %s: %w", k.topic, err)
	}
	return nil
}

func messageKey(event interface{}) string {
	if m, ok := event.(map[string]interface{}); ok {
		if id, ok := m["id"].(string); ok && id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// Close flushes pending messages and closes the writer.
func (k *KafkaMirror) Close() error {
	if k.closed {
		return nil
	}
	k.closed = true
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

var _ Module = (*KafkaMirror)(nil)
