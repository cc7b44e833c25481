// Package kafka streams domain events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"tally/internal/events"
	applog "tally/internal/log"
)

// DefaultTopic receives every event; the event type travels as a header.
const DefaultTopic = "tally.events"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer messageWriter
	logger *applog.Logger
}

func NewPublisher(brokers []string, topic string, logger *applog.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return newPublisher(&kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}, logger)
}

func newPublisher(w messageWriter, logger *applog.Logger) *Publisher {
	if logger == nil {
		logger = applog.Nop()
	}
	return &Publisher{writer: w, logger: logger.WithComponent(applog.ComponentEvents)}
}

// Publish writes one event keyed by user so a user's events stay ordered
// within a partition.
func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(e.UserID),
		Value:   data,
		Headers: []kafka.Header{{Key: "type", Value: []byte(e.Type)}},
	})
	if err != nil {
		return fmt.Errorf("write %s event: %w", e.Type, err)
	}

	p.logger.DebugContext(ctx, "Published event", "type", e.Type, applog.FieldUserID, e.UserID)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ events.Publisher = (*Publisher)(nil)
