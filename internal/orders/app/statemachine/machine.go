package statemachine

import (
	"context"
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

// Result describes the outcome of Apply.
type Result struct {
	Order *domain.Order
	// Applied is false when the order already was in the target state.
	Applied bool
	From    domain.State
	// Committed and Released count reservations resolved by this transition.
	Committed int
	Released  int
}

// Machine is the only writer of order state after creation.
type Machine struct {
	now func() time.Time
}

// New returns a Machine using now as its clock.
func New(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{now: func() time.Time { return now().UTC() }}
}

// Apply moves the order to target inside tx and runs the transition's stock side effects:
// entering PAYMENT_SETTLED commits the order's reservations, entering CANCELLED releases them.
// Re-applying the current state is a no-op. Edges outside the graph fail with
// *domain.InvalidTransitionError and change nothing.
func (m *Machine) Apply(ctx context.Context, tx ports.Store, orderID string, target domain.State, reason string) (Result, error) {
	order, err := tx.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return Result{}, fmt.Errorf("load order %s: %w", orderID, err)
	}

	result := Result{Order: order, From: order.State}
	if order.State == target {
		return result, nil
	}
	if err := domain.CheckTransition(order.State, target); err != nil {
		return result, err
	}

	at := m.now()
	applied, err := tx.Orders().UpdateState(ctx, ports.StateChange{
		OrderID: orderID,
		From:    order.State,
		To:      target,
		Reason:  reason,
		At:      at,
	})
	if err != nil {
		return result, fmt.Errorf("update order state: %w", err)
	}
	if !applied {
		current, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return result, fmt.Errorf("reload order %s: %w", orderID, err)
		}
		if current.State == target {
			return Result{Order: current, From: current.State}, nil
		}
		return result, &domain.InvalidTransitionError{From: current.State, To: target}
	}

	switch target {
	case domain.StatePaymentSettled:
		result.Committed, err = m.resolveReservations(ctx, tx, orderID, at, tx.Inventory().Commit)
	case domain.StateCancelled:
		result.Released, err = m.resolveReservations(ctx, tx, orderID, at, tx.Inventory().Release)
	}
	if err != nil {
		return result, err
	}

	order.State = target
	order.UpdatedAt = at
	if target == domain.StateCancelled {
		order.CancelReason = reason
	}
	result.Applied = true
	return result, nil
}

// Transition runs Apply in its own transaction.
func (m *Machine) Transition(ctx context.Context, store ports.Store, orderID string, target domain.State, reason string) (Result, error) {
	var result Result
	err := store.WithinTx(ctx, func(ctx context.Context, tx ports.Store) error {
		var err error
		result, err = m.Apply(ctx, tx, orderID, target, reason)
		return err
	})
	return result, err
}

func (m *Machine) resolveReservations(
	ctx context.Context,
	tx ports.Store,
	orderID string,
	at time.Time,
	resolve func(ctx context.Context, id string, at time.Time) (bool, error),
) (int, error) {
	reservations, err := tx.Inventory().ListByOrder(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("list reservations: %w", err)
	}

	var count int
	for _, r := range reservations {
		if r.State != domain.ReservationActive {
			continue
		}
		ok, err := resolve(ctx, r.ID, at)
		if err != nil {
			return count, fmt.Errorf("resolve reservation %s: %w", r.ID, err)
		}
		if ok {
			count++
		}
	}
	return count, nil
}
