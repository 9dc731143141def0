package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Kafka topics for user lifecycle events.
const (
	TopicUserProvisioned = "ctrlhome.users.provisioned"
	TopicEmailVerified   = "ctrlhome.users.email_verified"
)

const eventSource = "ctrlhome-api"

// Event is the envelope written to every topic.
type Event struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Source      string          `json:"source"`
	Data        json.RawMessage `json:"data"`
}

// UserProvisionedData is the payload of a users.provisioned event.
type UserProvisionedData struct {
	UserID     string `json:"user_id"`
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Source     string `json:"source"`
}

// EmailVerifiedData is the payload of a users.email_verified event.
type EmailVerifiedData struct {
	UserID     string `json:"user_id"`
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
}

// EventPublisher emits domain events after the originating write committed.
type EventPublisher interface {
	Publish(ctx context.Context, topic, aggregateID string, data any) error
}

// NewEvent builds an envelope with a fresh id and timestamp.
func NewEvent(topic, aggregateID string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		EventID:     uuid.NewString(),
		EventType:   topic,
		AggregateID: aggregateID,
		Timestamp:   time.Now().UTC(),
		Source:      eventSource,
		Data:        raw,
	}, nil
}

// KafkaPublisher writes events with kafka-go, keyed by aggregate id.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher creates a synchronous writer for the given brokers.
func NewKafkaPublisher(brokers []string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, aggregateID string, data any) error {
	event, err := NewEvent(topic, aggregateID, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(aggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(topic)},
			{Key: "source", Value: []byte(eventSource)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event to %s: %w", topic, err)
	}

	p.logger.Debug("event published",
		zap.String("topic", topic),
		zap.String("aggregate_id", aggregateID),
		zap.String("event_id", event.EventID),
	)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops events; used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, string, any) error { return nil }

// publishEvent never fails the caller: the write it describes already committed.
func publishEvent(ctx context.Context, events EventPublisher, logger *zap.Logger, topic, aggregateID string, data any) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, topic, aggregateID, data); err != nil {
		logger.Warn("failed to publish event",
			zap.String("topic", topic),
			zap.String("aggregate_id", aggregateID),
			zap.Error(err),
		)
	}
}
