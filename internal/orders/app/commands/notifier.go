package commands

import (
	"context"
	"log/slog"

	"github.com/dejobratic/checkout/internal/orders/app/statemachine"
	"github.com/dejobratic/checkout/internal/orders/metrics"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

// Notifier publishes events and records counters once a transaction has committed.
// Publish failures are logged; the committed state is authoritative.
type Notifier struct {
	events  ports.EventBus
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewNotifier builds a Notifier. m may be nil.
func NewNotifier(events ports.EventBus, logger *slog.Logger, m *metrics.Metrics) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{events: events, logger: logger, metrics: m}
}

func (n *Notifier) orderCreated(ctx context.Context, orderID string) {
	if err := n.events.PublishOrderCreated(ctx, orderID); err != nil {
		n.logger.WarnContext(ctx, "failed to publish order created event", "order_id", orderID, "error", err)
	}
}

func (n *Notifier) transitioned(ctx context.Context, orderID string, result statemachine.Result, reason string) {
	if !result.Applied {
		return
	}
	change := ports.StateChange{
		OrderID: orderID,
		From:    result.From,
		To:      result.Order.State,
		Reason:  reason,
		At:      result.Order.UpdatedAt,
	}

	n.logger.InfoContext(ctx, "order state changed",
		"order_id", orderID,
		"from", change.From,
		"to", change.To,
		"committed_reservations", result.Committed,
		"released_reservations", result.Released,
	)
	if n.metrics != nil {
		n.metrics.RecordTransition(ctx, string(change.From), string(change.To))
		n.metrics.RecordReservationsReleased(ctx, releaseReason(reason), result.Released)
	}
	if err := n.events.PublishOrderStateChanged(ctx, change); err != nil {
		n.logger.WarnContext(ctx, "failed to publish state change event", "order_id", orderID, "error", err)
	}
}

func (n *Notifier) released(ctx context.Context, reason string, count int) {
	if n.metrics != nil {
		n.metrics.RecordReservationsReleased(ctx, releaseReason(reason), count)
	}
}

func (n *Notifier) reconciled(ctx context.Context, reference string, outcome Outcome) {
	if err := n.events.PublishPaymentReconciled(ctx, reference, string(outcome)); err != nil {
		n.logger.WarnContext(ctx, "failed to publish reconciliation event", "reference", reference, "error", err)
	}
}

func releaseReason(reason string) string {
	if reason == "" {
		return "cancelled"
	}
	return reason
}
