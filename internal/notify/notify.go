// Package notify publishes event changes to the change feed.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cyclecal/internal/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Kind string

const (
	KindSubmitted Kind = "submitted"
	KindUpdated   Kind = "updated"
	KindDeleted   Kind = "deleted"
)

// Change describes one persisted mutation of an event.
type Change struct {
	Kind      Kind                   `json:"kind"`
	EventType model.Discipline       `json:"eventType"`
	EventID   string                 `json:"eventId"`
	Patch     *model.UpdateEventData `json:"patch,omitempty"`
	At        time.Time              `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, c Change) error
	Close() error
}

// Nop drops every change. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Change) error { return nil }
func (Nop) Close() error                          { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes changes to a topic keyed by event, so all changes of one
// event land on the same partition in order.
type Kafka struct {
	writer messageWriter
	logger *zap.Logger
}

func NewKafka(brokers []string, topic string, logger *zap.Logger) *Kafka {
	return newKafka(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}, logger)
}

func newKafka(w messageWriter, logger *zap.Logger) *Kafka {
	return &Kafka{writer: w, logger: logger}
}

func (k *Kafka) Publish(ctx context.Context, c Change) error {
	value, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(model.EventKey(c.EventType, c.EventID)),
		Value: value,
		Time:  c.At,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	k.logger.Debug("change published",
		zap.String("kind", string(c.Kind)),
		zap.String("event", model.EventKey(c.EventType, c.EventID)))
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
