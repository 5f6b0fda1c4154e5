package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/metrics"
	"github.com/dejobratic/checkout/internal/orders/ports"
	"github.com/dejobratic/checkout/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ObservableGateway traces and times every call to the payment provider.
type ObservableGateway struct {
	gateway ports.PaymentGateway
	metrics *metrics.Metrics
}

func NewObservableGateway(gateway ports.PaymentGateway, metrics *metrics.Metrics) *ObservableGateway {
	return &ObservableGateway{
		gateway: gateway,
		metrics: metrics,
	}
}

func (g *ObservableGateway) Initialize(ctx context.Context, req ports.PaymentRequest) (domain.PaymentSession, error) {
	ctx, span := telemetry.StartSpan(ctx, "PaymentGateway.Initialize")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", req.Order.ID),
		attribute.Int64("order.total", req.Order.Total),
		attribute.String("order.currency", req.Order.Currency),
		attribute.Int("payment.attempt", req.Attempt),
	)

	start := time.Now()
	session, err := g.gateway.Initialize(ctx, req)
	g.metrics.RecordGatewayCall(ctx, "initialize", time.Since(start).Seconds(), err == nil)

	if err := telemetry.FinishSpan(span, err); err != nil {
		return domain.PaymentSession{}, err
	}

	telemetry.AddSpanAttributes(span, attribute.String("payment.reference", session.Reference))
	return session, nil
}

func (g *ObservableGateway) Verify(ctx context.Context, reference string) (domain.PaymentVerification, error) {
	ctx, span := telemetry.StartSpan(ctx, "PaymentGateway.Verify")
	defer span.End()

	telemetry.AddSpanAttributes(span, attribute.String("payment.reference", reference))

	start := time.Now()
	verification, err := g.gateway.Verify(ctx, reference)
	g.metrics.RecordGatewayCall(ctx, "verify", time.Since(start).Seconds(), err == nil)

	if err := telemetry.FinishSpan(span, err); err != nil {
		return domain.PaymentVerification{}, err
	}

	telemetry.AddSpanAttributes(span, attribute.String("payment.status", string(verification.Status)))
	return verification, nil
}

func (g *ObservableGateway) Expire(ctx context.Context, reference string) error {
	ctx, span := telemetry.StartSpan(ctx, "PaymentGateway.Expire")
	defer span.End()

	telemetry.AddSpanAttributes(span, attribute.String("payment.reference", reference))

	start := time.Now()
	err := g.gateway.Expire(ctx, reference)
	g.metrics.RecordGatewayCall(ctx, "expire", time.Since(start).Seconds(), err == nil || errors.Is(err, ports.ErrSessionCompleted))

	return telemetry.FinishSpan(span, err)
}
