package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/metrics"
	"github.com/dejobratic/checkout/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type ObservableCommandHandler struct {
	handler CommandHandler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableCommandHandler(handler CommandHandler, logger *slog.Logger, metrics *metrics.Metrics) *ObservableCommandHandler {
	return &ObservableCommandHandler{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservableCommandHandler) Handle(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "CreateOrderCommand.Handle")
	defer span.End()

	start := time.Now()
	outcome := "error"
	defer func() {
		duration := time.Since(start).Seconds()
		o.metrics.RecordOrderCreationDuration(ctx, duration)
		o.metrics.RecordOrderCreated(ctx, outcome)
	}()

	o.logger.InfoContext(ctx, "creating order",
		"customer_id", cmd.CustomerID,
		"lines", len(cmd.Lines),
		"shipping_method", cmd.ShippingMethod,
	)

	order, err := o.handler.Handle(ctx, cmd)

	if err != nil {
		outcome = checkoutOutcome(err)
		telemetry.RecordSpanError(span, err)
		level := slog.LevelWarn
		if outcome == "error" {
			level = slog.LevelError
		}
		o.logger.Log(ctx, level, "failed to create order",
			"error", err,
			"customer_id", cmd.CustomerID,
			"outcome", outcome,
		)
		return nil, err
	}

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", order.ID),
		attribute.String("order.code", order.Code),
		attribute.Int64("order.total", order.Total),
		attribute.String("order.state", string(order.State)),
	)

	o.logger.InfoContext(ctx, "order created successfully",
		"order_id", order.ID,
		"order_code", order.Code,
		"customer_id", order.CustomerID,
		"total", order.Total,
	)

	outcome = "success"
	telemetry.SetSpanSuccess(span)

	return order, nil
}

func checkoutOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, domain.ErrZoneNotFound):
		return "zone_not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
