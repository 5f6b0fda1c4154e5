package kafka

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordPublish(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}

	ctx := context.Background()
	metrics.RecordPublish(ctx, EventOrderCreated, 0.2, true)
	metrics.RecordPublish(ctx, EventPaymentReconciled, 0.3, false)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}

	seen := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			seen[m.Name] = true
			switch data := m.Data.(type) {
			case metricdata.Histogram[float64]:
				if len(data.DataPoints) != 2 {
					t.Errorf("Expected 2 latency data points, got %d", len(data.DataPoints))
				}
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					status, _ := dp.Attributes.Value(attribute.Key("status"))
					eventType, _ := dp.Attributes.Value(attribute.Key("event_type"))
					if eventType.AsString() == EventPaymentReconciled && status.AsString() != "error" {
						t.Errorf("expected failed publish to be labelled error, got %s", status.AsString())
					}
				}
			}
		}
	}

	for _, name := range []string{"kafka_producer_latency_seconds", "kafka_messages_published_total"} {
		if !seen[name] {
			t.Errorf("%s metric not found", name)
		}
	}
}
