package metrics

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}
	return metrics, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m.Data
			}
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

func TestRecordOrderCreated(t *testing.T) {
	t.Run("records one series per outcome", func(t *testing.T) {
		metrics, reader := newTestMetrics(t)
		ctx := context.Background()

		metrics.RecordOrderCreated(ctx, "success")
		metrics.RecordOrderCreated(ctx, "out_of_stock")
		metrics.RecordOrderCreated(ctx, "success")

		sum, ok := collect(t, reader, "orders_created_total").(metricdata.Sum[int64])
		if !ok {
			t.Fatal("Expected Sum[int64] data type")
		}
		if len(sum.DataPoints) != 2 {
			t.Errorf("Expected 2 data points, got %d", len(sum.DataPoints))
		}
	})
}

func TestRecordOrderCreationDuration(t *testing.T) {
	t.Run("records order creation duration", func(t *testing.T) {
		metrics, reader := newTestMetrics(t)
		ctx := context.Background()

		metrics.RecordOrderCreationDuration(ctx, 1.5)
		metrics.RecordOrderCreationDuration(ctx, 2.3)

		histogram, ok := collect(t, reader, "order_creation_duration_seconds").(metricdata.Histogram[float64])
		if !ok {
			t.Fatal("Expected Histogram[float64] data type")
		}
		if len(histogram.DataPoints) != 1 || histogram.DataPoints[0].Count != 2 {
			t.Errorf("unexpected data points: %+v", histogram.DataPoints)
		}
	})
}

func TestRecordTransition(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	ctx := context.Background()

	metrics.RecordTransition(ctx, "PAYMENT_PENDING", "PAYMENT_SETTLED")
	metrics.RecordTransition(ctx, "PAYMENT_PENDING", "PAYMENT_SETTLED")

	sum, ok := collect(t, reader, "order_transitions_total").(metricdata.Sum[int64])
	if !ok {
		t.Fatal("Expected Sum[int64] data type")
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
		t.Errorf("unexpected data points: %+v", sum.DataPoints)
	}
	if v, _ := sum.DataPoints[0].Attributes.Value("to"); v.AsString() != "PAYMENT_SETTLED" {
		t.Errorf("expected to=PAYMENT_SETTLED, got %q", v.AsString())
	}
}

func TestRecordReservationsReleased(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	ctx := context.Background()

	metrics.RecordReservationsReleased(ctx, "expired", 3)
	metrics.RecordReservationsReleased(ctx, "expired", 0)

	sum, ok := collect(t, reader, "reservations_released_total").(metricdata.Sum[int64])
	if !ok {
		t.Fatal("Expected Sum[int64] data type")
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
		t.Errorf("unexpected data points: %+v", sum.DataPoints)
	}
}

func TestRecordGatewayCall(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	ctx := context.Background()

	metrics.RecordGatewayCall(ctx, "initialize", 0.2, true)
	metrics.RecordGatewayCall(ctx, "verify", 0.1, false)
	metrics.RecordReconciliation(ctx, "settled")

	histogram, ok := collect(t, reader, "payment_gateway_duration_seconds").(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("Expected Histogram[float64] data type")
	}
	if len(histogram.DataPoints) != 2 {
		t.Errorf("Expected 2 data points, got %d", len(histogram.DataPoints))
	}
	if _, ok := collect(t, reader, "payment_reconciliations_total").(metricdata.Sum[int64]); !ok {
		t.Fatal("Expected Sum[int64] data type")
	}
}
