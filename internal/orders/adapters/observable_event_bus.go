package adapters

import (
	"context"
	"time"

	"github.com/dejobratic/checkout/internal/kafka"
	"github.com/dejobratic/checkout/internal/orders/ports"
	"github.com/dejobratic/checkout/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ObservableEventBus wraps an event bus with one span and one latency sample per publish.
type ObservableEventBus struct {
	bus     ports.EventBus
	metrics *kafka.Metrics
}

func NewObservableEventBus(bus ports.EventBus, metrics *kafka.Metrics) *ObservableEventBus {
	return &ObservableEventBus{
		bus:     bus,
		metrics: metrics,
	}
}

func (e *ObservableEventBus) PublishOrderCreated(ctx context.Context, orderID string) error {
	return e.observe(ctx, "EventBus.PublishOrderCreated", kafka.EventOrderCreated,
		[]attribute.KeyValue{attribute.String("order.id", orderID)},
		func(ctx context.Context) error { return e.bus.PublishOrderCreated(ctx, orderID) },
	)
}

func (e *ObservableEventBus) PublishOrderStateChanged(ctx context.Context, change ports.StateChange) error {
	attrs := []attribute.KeyValue{
		attribute.String("order.id", change.OrderID),
		attribute.String("order.from", string(change.From)),
		attribute.String("order.to", string(change.To)),
	}
	if change.Reason != "" {
		attrs = append(attrs, attribute.String("order.reason", change.Reason))
	}
	return e.observe(ctx, "EventBus.PublishOrderStateChanged", kafka.EventOrderStateChanged, attrs,
		func(ctx context.Context) error { return e.bus.PublishOrderStateChanged(ctx, change) },
	)
}

func (e *ObservableEventBus) PublishPaymentReconciled(ctx context.Context, reference, outcome string) error {
	return e.observe(ctx, "EventBus.PublishPaymentReconciled", kafka.EventPaymentReconciled,
		[]attribute.KeyValue{
			attribute.String("payment.reference", reference),
			attribute.String("payment.outcome", outcome),
		},
		func(ctx context.Context) error { return e.bus.PublishPaymentReconciled(ctx, reference, outcome) },
	)
}

func (e *ObservableEventBus) observe(ctx context.Context, spanName, eventType string, attrs []attribute.KeyValue, publish func(context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, spanName)
	defer span.End()

	telemetry.AddSpanAttributes(span, append(attrs, attribute.String("event.type", eventType))...)

	start := time.Now()
	err := publish(ctx)
	e.metrics.RecordPublish(ctx, eventType, time.Since(start).Seconds(), err == nil)

	return telemetry.FinishSpan(span, err)
}
