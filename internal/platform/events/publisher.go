// Package events publishes domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Message is one event on the bus.
type Message struct {
	ID      string
	Key     string
	Type    string
	Payload any
}

// Publisher wraps a synchronous Kafka producer bound to one topic.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewProducerConfig returns the producer settings used by NewPublisher.
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 3
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.MaxMessageBytes = 1000000
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// NewPublisher dials brokers and returns a Publisher for topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("platform/events: brokers required")
	}
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("platform/events: new producer: %w", err)
	}
	logger.Info("kafka publisher initialised", slog.Any("brokers", brokers), slog.String("topic", topic))
	return NewPublisherWithProducer(producer, topic, logger), nil
}

// NewPublisherWithProducer wraps an existing producer.
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{producer: producer, topic: topic, logger: logger}
}

type envelope struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Publish sends msg synchronously. Messages sharing a key land on the same partition.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	if p == nil || p.producer == nil {
		return errors.New("platform/events: publisher not initialised")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	body, err := json.Marshal(envelope{EventID: msg.ID, EventType: msg.Type, Timestamp: time.Now().UTC(), Data: msg.Payload})
	if err != nil {
		return fmt.Errorf("platform/events: marshal %s: %w", msg.Type, err)
	}
	record := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(msg.Type)},
			{Key: []byte("event_id"), Value: []byte(msg.ID)},
		},
	}
	if msg.Key != "" {
		record.Key = sarama.StringEncoder(msg.Key)
	}
	partition, offset, err := p.producer.SendMessage(record)
	if err != nil {
		p.logger.Error("kafka publish failed", slog.String("topic", p.topic), slog.String("event_type", msg.Type), slog.Any("error", err))
		return fmt.Errorf("platform/events: send: %w", err)
	}
	p.logger.Debug("kafka event published",
		slog.String("event_id", msg.ID),
		slog.String("event_type", msg.Type),
		slog.Int("partition", int(partition)),
		slog.Int64("offset", offset))
	return nil
}

// Close closes the producer.
func (p *Publisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
