package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

// OutcomeExpired is published when an open provider session is closed by the service.
const OutcomeExpired Outcome = "expired"

// PaymentCloser shuts the provider sessions of an order's pending payments so they can no
// longer be paid. Sessions the customer already completed cannot be closed; they are
// reconciled instead so a payment taken in the meantime settles the order.
type PaymentCloser struct {
	store      ports.Store
	gateway    ports.PaymentGateway
	reconciler *Reconciler
	notifier   *Notifier
	logger     *slog.Logger
	timeout    time.Duration
	now        func() time.Time
}

func NewPaymentCloser(
	store ports.Store,
	gateway ports.PaymentGateway,
	reconciler *Reconciler,
	notifier *Notifier,
	logger *slog.Logger,
	timeout time.Duration,
	now func() time.Time,
) *PaymentCloser {
	if now == nil {
		now = time.Now
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentCloser{
		store:      store,
		gateway:    gateway,
		reconciler: reconciler,
		notifier:   notifier,
		logger:     logger,
		timeout:    timeout,
		now:        now,
	}
}

// CloseOpen expires every pending payment of the order and marks it FAILED. It returns how
// many payments are still in flight: completed at the provider but neither settled nor failed.
func (c *PaymentCloser) CloseOpen(ctx context.Context, orderID string) (int, error) {
	payments, err := c.store.Payments().ListByOrder(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("list payments: %w", err)
	}

	var inFlight int
	for _, p := range payments {
		if p.State != domain.PaymentPending {
			continue
		}

		gatewayCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.gateway.Expire(gatewayCtx, p.ProviderReference)
		cancel()

		switch {
		case err == nil:
			failed, err := c.store.Payments().MarkFailed(ctx, p.ID, c.now().UTC())
			if err != nil {
				return inFlight, fmt.Errorf("fail payment %s: %w", p.ID, err)
			}
			if failed {
				c.logger.InfoContext(ctx, "payment session expired", "order_id", orderID, "reference", p.ProviderReference)
				c.notifier.reconciled(ctx, p.ProviderReference, OutcomeExpired)
			}
		case errors.Is(err, ports.ErrSessionCompleted):
			ack, err := c.reconciler.HandleReturn(ctx, p.ProviderReference)
			if err != nil {
				return inFlight, fmt.Errorf("reconcile completed session %s: %w", p.ProviderReference, err)
			}
			switch ack.Outcome {
			case OutcomeSettled, OutcomeDuplicate, OutcomeFailed:
			default:
				inFlight++
			}
		default:
			return inFlight, externalError("expire", err)
		}
	}
	return inFlight, nil
}

// closeAfterCancel catches sessions opened by a payment retry that raced the cancellation.
func (c *PaymentCloser) closeAfterCancel(ctx context.Context, orderID string) {
	inFlight, err := c.CloseOpen(ctx, orderID)
	if err != nil || inFlight > 0 {
		c.logger.ErrorContext(ctx, "cancelled order still has open payments",
			"order_id", orderID,
			"in_flight", inFlight,
			"error", err,
		)
	}
}

func externalError(op string, err error) error {
	var ext *domain.ExternalServiceError
	if errors.As(err, &ext) {
		return err
	}
	return &domain.ExternalServiceError{Op: op, Err: err}
}
