package commands

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/metrics"
	"github.com/dejobratic/checkout/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type ObservableReconciler struct {
	next    PaymentReconciler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableReconciler(next PaymentReconciler, logger *slog.Logger, metrics *metrics.Metrics) *ObservableReconciler {
	return &ObservableReconciler{next: next, logger: logger, metrics: metrics}
}

func (o *ObservableReconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (Ack, error) {
	ctx, span := telemetry.StartSpan(ctx, "Reconciler.HandleWebhook")
	defer span.End()

	ack, err := o.next.HandleWebhook(ctx, payload, signature)
	return o.observe(ctx, span, "webhook", ack, err)
}

func (o *ObservableReconciler) HandleReturn(ctx context.Context, reference string) (Ack, error) {
	ctx, span := telemetry.StartSpan(ctx, "Reconciler.HandleReturn")
	defer span.End()

	telemetry.AddSpanAttributes(span, attribute.String("payment.reference", reference))
	ack, err := o.next.HandleReturn(ctx, reference)
	return o.observe(ctx, span, "return", ack, err)
}

func (o *ObservableReconciler) observe(ctx context.Context, span trace.Span, source string, ack Ack, err error) (Ack, error) {
	if err != nil {
		outcome := reconcileFailure(err)
		o.metrics.RecordReconciliation(ctx, outcome)
		telemetry.RecordSpanError(span, err)
		o.logger.WarnContext(ctx, "payment reconciliation rejected",
			"source", source,
			"outcome", outcome,
			"error", err,
		)
		return ack, err
	}

	o.metrics.RecordReconciliation(ctx, string(ack.Outcome))
	telemetry.AddSpanAttributes(span,
		attribute.String("payment.reference", ack.Reference),
		attribute.String("payment.outcome", string(ack.Outcome)),
		attribute.String("order.id", ack.OrderID),
	)
	telemetry.SetSpanSuccess(span)
	o.logger.InfoContext(ctx, "payment reconciled",
		"source", source,
		"outcome", ack.Outcome,
		"reference", ack.Reference,
		"order_id", ack.OrderID,
		"state", ack.State,
	)
	return ack, nil
}

func reconcileFailure(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, domain.ErrUnknownReference):
		return "unknown_reference"
	case errors.Is(err, domain.ErrReconciliationMismatch):
		return "mismatch"
	case errors.Is(err, domain.ErrExternalService):
		return "provider_error"
	default:
		return "error"
	}
}
