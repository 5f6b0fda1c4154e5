package commands

import (
	"context"
	"fmt"

	"github.com/dejobratic/checkout/internal/orders/app/statemachine"
	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

type TransitionOrderCommand struct {
	OrderID string
	Target  domain.State
	Actor   Actor
	Reason  string
}

func (c TransitionOrderCommand) Validate() error {
	if c.OrderID == "" {
		return domain.NewValidationError("order_id", "is required")
	}
	switch c.Target {
	case domain.StateCancelled, domain.StateShipped, domain.StateDelivered:
		return nil
	default:
		return domain.NewValidationError("state", "must be CANCELLED, SHIPPED or DELIVERED")
	}
}

// TransitionOrderCommandHandler applies cancellation and fulfilment requests.
// Customers may cancel their own orders; shipping and delivery are admin-only.
// Open payment sessions are closed before a cancellation so a cancelled order cannot be paid.
type TransitionOrderCommandHandler struct {
	store    ports.Store
	machine  *statemachine.Machine
	notifier *Notifier
	closer   *PaymentCloser
}

func NewTransitionOrderCommandHandler(store ports.Store, machine *statemachine.Machine, notifier *Notifier, closer *PaymentCloser) *TransitionOrderCommandHandler {
	return &TransitionOrderCommandHandler{store: store, machine: machine, notifier: notifier, closer: closer}
}

func (h *TransitionOrderCommandHandler) Handle(ctx context.Context, cmd TransitionOrderCommand) (*domain.Order, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	order, err := h.store.Orders().GetByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if !cmd.Actor.canAccess(order) || (cmd.Target != domain.StateCancelled && !cmd.Actor.Admin) {
		return nil, domain.ErrForbidden
	}

	reason := cmd.Reason
	if cmd.Target == domain.StateCancelled && reason == "" {
		reason = "customer_request"
		if cmd.Actor.Admin {
			reason = "admin_request"
		}
	}

	cancelling := cmd.Target == domain.StateCancelled && order.State != domain.StateCancelled
	if cancelling {
		inFlight, err := h.closer.CloseOpen(ctx, cmd.OrderID)
		if err != nil {
			return nil, fmt.Errorf("close payments: %w", err)
		}
		if inFlight > 0 {
			return nil, domain.ErrPaymentInProgress
		}
	}

	result, err := h.machine.Transition(ctx, h.store, cmd.OrderID, cmd.Target, reason)
	if err != nil {
		return nil, err
	}

	h.notifier.transitioned(ctx, cmd.OrderID, result, reason)
	if cancelling && result.Applied {
		h.closer.closeAfterCancel(ctx, cmd.OrderID)
	}
	return result.Order, nil
}
