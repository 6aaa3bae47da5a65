package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tripledger/commission/internal/domain"
)

// KafkaProducer wraps a kafka-go writer for publishing outbox events.
type KafkaProducer struct {
	writer      *kafka.Writer
	topicPrefix string
	logger      *slog.Logger
	enabled     bool
}

// NewKafkaProducer creates a Kafka producer. If brokers is empty or disabled, writes are no-ops.
func NewKafkaProducer(brokers, topicPrefix string, enabled bool, logger *slog.Logger) *KafkaProducer {
	if !enabled || brokers == "" {
		logger.Info("kafka producer disabled")
		return &KafkaProducer{topicPrefix: topicPrefix, enabled: false, logger: logger}
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}

	logger.Info("kafka producer initialized", "brokers", brokers, "topic_prefix", topicPrefix)
	return &KafkaProducer{writer: w, topicPrefix: topicPrefix, logger: logger, enabled: true}
}

// TopicFor returns "<prefix>.<aggregate>.<event>", e.g. commission.payout.payout.completed.
func (p *KafkaProducer) TopicFor(e domain.OutboxDraft) string {
	return p.topicPrefix + "." + string(e.AggregateType) + "." + string(e.EventType)
}

// EventEnvelope is the message value published for every outbox event.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// PublishEvent sends an outbox event keyed by its partition key, so all
// events of one owner land on the same partition in order.
func (p *KafkaProducer) PublishEvent(ctx context.Context, e domain.OutboxDraft) error {
	msg, err := json.Marshal(EventEnvelope{
		EventID:       e.EventID.String(),
		AggregateType: string(e.AggregateType),
		AggregateID:   e.AggregateID,
		EventType:     string(e.EventType),
		Payload:       e.Payload,
		OccurredAt:    e.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.EventID, err)
	}
	return p.Publish(ctx, p.TopicFor(e), []byte(e.PartitionKey), msg)
}

// Publish sends a message to the given topic. No-op if disabled.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if !p.enabled {
		return nil
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
}

// Close shuts down the Kafka writer.
func (p *KafkaProducer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
