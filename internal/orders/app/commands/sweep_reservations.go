package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dejobratic/checkout/internal/orders/app/statemachine"
	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

const reasonReservationExpired = "reservation_expired"

// SweepResult summarises one sweeper pass.
type SweepResult struct {
	CancelledOrders int
	Released        int
}

// ReservationSweeper releases stock held by reservations past their expiry by cancelling the
// owning order. Open payment sessions are expired first; an order whose payment completed at
// the provider is reconciled instead of cancelled. Orders that can no longer be cancelled have
// their stray reservations released directly. Both paths only touch reservations that are
// still ACTIVE.
type ReservationSweeper struct {
	store    ports.Store
	machine  *statemachine.Machine
	notifier *Notifier
	closer   *PaymentCloser
	logger   *slog.Logger
	batch    int
	now      func() time.Time
}

func NewReservationSweeper(
	store ports.Store,
	machine *statemachine.Machine,
	notifier *Notifier,
	closer *PaymentCloser,
	logger *slog.Logger,
	batch int,
	now func() time.Time,
) *ReservationSweeper {
	if batch <= 0 {
		batch = 100
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReservationSweeper{
		store:    store,
		machine:  machine,
		notifier: notifier,
		closer:   closer,
		logger:   logger,
		batch:    batch,
		now:      now,
	}
}

// Sweep handles one batch of expired reservations.
func (s *ReservationSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now().UTC()
	expired, err := s.store.Inventory().ListExpired(ctx, now, s.batch)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list expired reservations: %w", err)
	}

	byOrder := make(map[string][]domain.Reservation)
	var orderIDs []string
	for _, r := range expired {
		if _, seen := byOrder[r.OrderID]; !seen {
			orderIDs = append(orderIDs, r.OrderID)
		}
		byOrder[r.OrderID] = append(byOrder[r.OrderID], r)
	}

	var result SweepResult
	var errs []error
	for _, orderID := range orderIDs {
		inFlight, err := s.closer.CloseOpen(ctx, orderID)
		if err != nil {
			errs = append(errs, fmt.Errorf("close payments of order %s: %w", orderID, err))
			continue
		}
		if inFlight > 0 {
			s.logger.InfoContext(ctx, "keeping reservations of order with payment in progress", "order_id", orderID)
			continue
		}

		transition, err := s.machine.Transition(ctx, s.store, orderID, domain.StateCancelled, reasonReservationExpired)
		switch {
		case err == nil:
			s.notifier.transitioned(ctx, orderID, transition, reasonReservationExpired)
			if transition.Applied {
				result.CancelledOrders++
				s.closer.closeAfterCancel(ctx, orderID)
			}
			result.Released += transition.Released
			if transition.Applied {
				continue
			}
		case !errors.Is(err, domain.ErrInvalidTransition) && !errors.Is(err, ports.ErrNotFound):
			errs = append(errs, fmt.Errorf("cancel order %s: %w", orderID, err))
			continue
		}

		released, err := s.releaseDirect(ctx, byOrder[orderID], now)
		result.Released += released
		if err != nil {
			errs = append(errs, err)
		}
	}

	if result.Released > 0 {
		s.logger.InfoContext(ctx, "released expired reservations",
			"orders_cancelled", result.CancelledOrders,
			"reservations_released", result.Released,
		)
	}
	return result, errors.Join(errs...)
}

func (s *ReservationSweeper) releaseDirect(ctx context.Context, reservations []domain.Reservation, at time.Time) (int, error) {
	var released int
	for _, r := range reservations {
		ok, err := s.store.Inventory().Release(ctx, r.ID, at)
		if err != nil {
			return released, fmt.Errorf("release reservation %s: %w", r.ID, err)
		}
		if ok {
			released++
		}
	}
	s.notifier.released(ctx, reasonReservationExpired, released)
	return released, nil
}

// Run sweeps every interval until ctx is done.
func (s *ReservationSweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "reservation sweep failed", "error", err)
			}
		}
	}
}
