// Package kafka publishes audit events to a Kafka topic.
//
// Each event is JSON-encoded and keyed by user id, so the events of one
// user land on one partition in order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/MrEthical07/twofactor"
)

// DefaultTopic is used when Config.Topic is empty.
const DefaultTopic = "security.two_factor.events"

// Config configures the producer.
type Config struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"security.two_factor.events"`
}

// Sink is a twofactor.AuditSink publishing through a sarama.SyncProducer.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

var _ twofactor.AuditSink = (*Sink)(nil)

// NewProducerConfig returns the sarama settings the sink expects.
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// Dial connects a SyncProducer to cfg.Brokers and wraps it in a Sink.
func Dial(cfg Config, logger *slog.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka: create producer: %w", err)
	}
	return New(producer, cfg.Topic, logger), nil
}

// New wraps an existing producer. The sink owns it from here on.
func New(producer sarama.SyncProducer, topic string, logger *slog.Logger) *Sink {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{producer: producer, topic: topic, logger: logger}
}

// Emit implements twofactor.AuditSink. Failures are logged and dropped.
func (s *Sink) Emit(ctx context.Context, event twofactor.AuditEvent) {
	if s == nil || s.producer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.WarnContext(ctx, "kafka: audit event marshal failed",
			slog.String("event_id", event.ID),
			slog.Any("error", err),
		)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(event.UserID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
		},
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		s.logger.WarnContext(ctx, "kafka: audit event publish failed",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.EventType),
			slog.Any("error", err),
		)
	}
}

// Close closes the producer.
func (s *Sink) Close() error {
	return s.producer.Close()
}
