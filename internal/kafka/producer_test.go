package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func fixedNow() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }

func TestEventBus(t *testing.T) {
	t.Run("state changes are keyed by order id", func(t *testing.T) {
		writer := &recordingWriter{}
		bus := newEventBus(writer, "checkout.", fixedNow)
		at := fixedNow().Add(time.Minute)

		err := bus.PublishOrderStateChanged(context.Background(), ports.StateChange{
			OrderID: "order-1",
			From:    domain.StatePaymentPending,
			To:      domain.StatePaymentSettled,
			At:      at,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(writer.messages) != 1 {
			t.Fatalf("expected one message, got %d", len(writer.messages))
		}
		msg := writer.messages[0]
		if msg.Topic != "checkout.order.state_changed" || string(msg.Key) != "order-1" {
			t.Errorf("unexpected topic/key: %s %s", msg.Topic, msg.Key)
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			t.Fatalf("invalid payload: %v", err)
		}
		if event.From != "PAYMENT_PENDING" || event.To != "PAYMENT_SETTLED" || !event.OccurredAt.Equal(at) {
			t.Errorf("unexpected event: %+v", event)
		}
	})

	t.Run("created event is stamped with the clock", func(t *testing.T) {
		writer := &recordingWriter{}
		bus := newEventBus(writer, "", fixedNow)

		if err := bus.PublishOrderCreated(context.Background(), "order-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var event Event
		_ = json.Unmarshal(writer.messages[0].Value, &event)
		if event.Type != EventOrderCreated || !event.OccurredAt.Equal(fixedNow()) {
			t.Errorf("unexpected event: %+v", event)
		}
	})

	t.Run("reconciliation events are keyed by reference", func(t *testing.T) {
		writer := &recordingWriter{}
		bus := newEventBus(writer, "checkout.", fixedNow)

		if err := bus.PublishPaymentReconciled(context.Background(), "cs_1", "settled"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(writer.messages[0].Key) != "cs_1" {
			t.Errorf("expected reference key, got %s", writer.messages[0].Key)
		}
	})

	t.Run("writer errors are wrapped", func(t *testing.T) {
		boom := errors.New("leader not available")
		bus := newEventBus(&recordingWriter{err: boom}, "", fixedNow)

		err := bus.PublishOrderCreated(context.Background(), "order-1")
		if !errors.Is(err, boom) {
			t.Fatalf("expected wrapped writer error, got %v", err)
		}
	})

	t.Run("close closes the writer", func(t *testing.T) {
		writer := &recordingWriter{}
		_ = newEventBus(writer, "", fixedNow).Close()
		if !writer.closed {
			t.Error("expected writer to be closed")
		}
	})
}
