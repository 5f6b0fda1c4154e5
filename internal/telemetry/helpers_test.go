package telemetry

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

func testConfig() Config {
	return Config{
		ServiceName:    "checkout-test",
		ServiceVersion: "0.0.0",
		Environment:    "test",
		SampleRate:     1.0,
	}
}

// setupTracerProvider installs an in-memory tracer provider for the duration of the test.
func setupTracerProvider(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exp := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exp))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(t.Context())
		otel.SetTracerProvider(nooptrace.NewTracerProvider())
	})

	return exp
}

// recordingMetricExporter keeps the names of every metric it is asked to push.
type recordingMetricExporter struct {
	mu    sync.Mutex
	names map[string]bool
}

func newRecordingMetricExporter() *recordingMetricExporter {
	return &recordingMetricExporter{names: make(map[string]bool)}
}

func (e *recordingMetricExporter) Temporality(sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (e *recordingMetricExporter) Aggregation(sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.AggregationDefault{}
}

func (e *recordingMetricExporter) Export(_ context.Context, rm *metricdata.ResourceMetrics) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			e.names[m.Name] = true
		}
	}
	return nil
}

func (e *recordingMetricExporter) exported(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.names[name]
}

func (e *recordingMetricExporter) ForceFlush(context.Context) error { return nil }

func (e *recordingMetricExporter) Shutdown(context.Context) error { return nil }
