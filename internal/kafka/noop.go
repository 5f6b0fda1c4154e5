package kafka

import (
	"context"
	"log/slog"

	"github.com/dejobratic/checkout/internal/orders/ports"
)

// NoopEventBus logs events without sending them to Kafka. Used when no brokers are configured.
type NoopEventBus struct{}

// NewNoopEventBus returns a new no-op event publisher.
func NewNoopEventBus() *NoopEventBus {
	return &NoopEventBus{}
}

func (n *NoopEventBus) PublishOrderCreated(ctx context.Context, orderID string) error {
	slog.DebugContext(ctx, "event::order_created", "order_id", orderID)
	return nil
}

func (n *NoopEventBus) PublishOrderStateChanged(ctx context.Context, change ports.StateChange) error {
	slog.DebugContext(ctx, "event::order_state_changed", "order_id", change.OrderID, "from", change.From, "to", change.To)
	return nil
}

func (n *NoopEventBus) PublishPaymentReconciled(ctx context.Context, reference, outcome string) error {
	slog.DebugContext(ctx, "event::payment_reconciled", "reference", reference, "outcome", outcome)
	return nil
}
