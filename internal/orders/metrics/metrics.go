package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the checkout pipeline instruments.
type Metrics struct {
	ordersCreatedTotal    metric.Int64Counter
	orderCreationDuration metric.Float64Histogram
	transitionsTotal      metric.Int64Counter
	reconciliationsTotal  metric.Int64Counter
	reservationsReleased  metric.Int64Counter
	gatewayDuration       metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.ordersCreatedTotal, err = meter.Int64Counter(
		"orders_created_total",
		metric.WithDescription("Total number of checkout attempts by outcome"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create orders_created_total counter: %w", err)
	}

	m.orderCreationDuration, err = meter.Float64Histogram(
		"order_creation_duration_seconds",
		metric.WithDescription("Duration of checkout operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_creation_duration histogram: %w", err)
	}

	m.transitionsTotal, err = meter.Int64Counter(
		"order_transitions_total",
		metric.WithDescription("Applied order state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_transitions_total counter: %w", err)
	}

	m.reconciliationsTotal, err = meter.Int64Counter(
		"payment_reconciliations_total",
		metric.WithDescription("Payment reconciliations by outcome"),
		metric.WithUnit("{reconciliation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_reconciliations_total counter: %w", err)
	}

	m.reservationsReleased, err = meter.Int64Counter(
		"reservations_released_total",
		metric.WithDescription("Stock reservations released by reason"),
		metric.WithUnit("{reservation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reservations_released_total counter: %w", err)
	}

	m.gatewayDuration, err = meter.Float64Histogram(
		"payment_gateway_duration_seconds",
		metric.WithDescription("Duration of payment provider calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_gateway_duration histogram: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordOrderCreated(ctx context.Context, outcome string) {
	m.ordersCreatedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", outcome),
	))
}

func (m *Metrics) RecordOrderCreationDuration(ctx context.Context, durationSeconds float64) {
	m.orderCreationDuration.Record(ctx, durationSeconds)
}

func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.transitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *Metrics) RecordReconciliation(ctx context.Context, outcome string) {
	m.reconciliationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordReservationsReleased(ctx context.Context, reason string, count int) {
	if count <= 0 {
		return
	}
	m.reservationsReleased.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

func (m *Metrics) RecordGatewayCall(ctx context.Context, operation string, durationSeconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.gatewayDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}
