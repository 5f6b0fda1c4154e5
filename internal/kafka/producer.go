package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/orders/ports"
	"github.com/segmentio/kafka-go"
)

const (
	EventOrderCreated      = "order.created"
	EventOrderStateChanged = "order.state_changed"
	EventPaymentReconciled = "payment.reconciled"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON envelope written to every topic.
type Event struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Reference  string    `json:"reference,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventBus publishes order lifecycle events. Messages are keyed by order id, or by provider
// reference for reconciliation events, so one key always lands on the same partition.
type EventBus struct {
	writer      messageWriter
	topicPrefix string
	now         func() time.Time
}

// NewEventBus creates a synchronous producer writing to "<topicPrefix><event type>" topics.
func NewEventBus(brokers []string, topicPrefix string) *EventBus {
	return newEventBus(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}, topicPrefix, time.Now)
}

func newEventBus(writer messageWriter, topicPrefix string, now func() time.Time) *EventBus {
	return &EventBus{writer: writer, topicPrefix: topicPrefix, now: now}
}

func (b *EventBus) PublishOrderCreated(ctx context.Context, orderID string) error {
	return b.publish(ctx, orderID, Event{Type: EventOrderCreated, OrderID: orderID})
}

func (b *EventBus) PublishOrderStateChanged(ctx context.Context, change ports.StateChange) error {
	return b.publish(ctx, change.OrderID, Event{
		Type:       EventOrderStateChanged,
		OrderID:    change.OrderID,
		From:       string(change.From),
		To:         string(change.To),
		Reason:     change.Reason,
		OccurredAt: change.At,
	})
}

func (b *EventBus) PublishPaymentReconciled(ctx context.Context, reference, outcome string) error {
	return b.publish(ctx, reference, Event{Type: EventPaymentReconciled, Reference: reference, Outcome: outcome})
}

func (b *EventBus) publish(ctx context.Context, key string, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = b.now().UTC()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}

	msg := kafka.Message{
		Topic: b.Topic(event.Type),
		Key:   []byte(key),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// Topic returns the topic an event type is written to.
func (b *EventBus) Topic(eventType string) string {
	return b.topicPrefix + eventType
}

// Close flushes pending messages and closes the writer.
func (b *EventBus) Close() error {
	return b.writer.Close()
}
