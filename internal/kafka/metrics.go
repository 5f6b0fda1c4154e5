package kafka

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	producerLatency metric.Float64Histogram
	published       metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.producerLatency, err = meter.Float64Histogram(
		"kafka_producer_latency_seconds",
		metric.WithDescription("Kafka producer latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka_producer_latency histogram: %w", err)
	}

	m.published, err = meter.Int64Counter(
		"kafka_messages_published_total",
		metric.WithDescription("Events handed to the Kafka producer by event type and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka_messages_published counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordPublish(ctx context.Context, eventType string, durationSeconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("status", status),
	)
	m.producerLatency.Record(ctx, durationSeconds, attrs)
	m.published.Add(ctx, 1, attrs)
}
