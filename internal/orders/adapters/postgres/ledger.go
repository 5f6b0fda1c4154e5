package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
	"github.com/jackc/pgx/v5"
)

type ledger struct {
	s *Store
}

// Reserve increments reserved only when enough stock is available; the row lock taken by the
// UPDATE serialises competing reservations for the same variant.
func (l *ledger) Reserve(ctx context.Context, orderID, variantID string, qty int64, expiresAt time.Time) (reservation domain.Reservation, err error) {
	defer l.s.observe(ctx, "reserve_stock", time.Now(), &err)

	query := `
		UPDATE inventory
		SET reserved = reserved + $2
		WHERE variant_id = $1 AND stock_on_hand - reserved >= $2
	`

	result, err := l.s.q.Exec(ctx, query, variantID, qty)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("reserve stock: %w", err)
	}
	if result.RowsAffected() == 0 {
		var available int64
		err := l.s.q.QueryRow(ctx, `SELECT stock_on_hand - reserved FROM inventory WHERE variant_id = $1`, variantID).Scan(&available)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return domain.Reservation{}, fmt.Errorf("read available stock: %w", err)
		}
		return domain.Reservation{}, &domain.OutOfStockError{VariantID: variantID, Requested: qty, Available: available}
	}

	reservation = domain.Reservation{
		ID:        domain.NewReservationID(),
		OrderID:   orderID,
		VariantID: variantID,
		Quantity:  qty,
		State:     domain.ReservationActive,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}

	insert := `
		INSERT INTO stock_reservations (id, order_id, variant_id, quantity, state, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err = l.s.q.Exec(ctx, insert,
		reservation.ID,
		reservation.OrderID,
		reservation.VariantID,
		reservation.Quantity,
		reservation.State,
		reservation.ExpiresAt,
		reservation.CreatedAt,
	); err != nil {
		return domain.Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}

	return reservation, nil
}

func (l *ledger) Commit(ctx context.Context, reservationID string, at time.Time) (applied bool, err error) {
	defer l.s.observe(ctx, "commit_reservation", time.Now(), &err)

	query := `
		WITH resolved AS (
			UPDATE stock_reservations
			SET state = 'COMMITTED', resolved_at = $2
			WHERE id = $1 AND state = 'ACTIVE'
			RETURNING variant_id, quantity
		)
		UPDATE inventory i
		SET reserved = i.reserved - r.quantity,
		    stock_on_hand = i.stock_on_hand - r.quantity
		FROM resolved r
		WHERE i.variant_id = r.variant_id
	`

	return l.resolve(ctx, query, reservationID, at)
}

func (l *ledger) Release(ctx context.Context, reservationID string, at time.Time) (applied bool, err error) {
	defer l.s.observe(ctx, "release_reservation", time.Now(), &err)

	query := `
		WITH resolved AS (
			UPDATE stock_reservations
			SET state = 'RELEASED', resolved_at = $2
			WHERE id = $1 AND state = 'ACTIVE'
			RETURNING variant_id, quantity
		)
		UPDATE inventory i
		SET reserved = i.reserved - r.quantity
		FROM resolved r
		WHERE i.variant_id = r.variant_id
	`

	return l.resolve(ctx, query, reservationID, at)
}

func (l *ledger) resolve(ctx context.Context, query, reservationID string, at time.Time) (bool, error) {
	result, err := l.s.q.Exec(ctx, query, reservationID, at)
	if err != nil {
		return false, fmt.Errorf("resolve reservation: %w", err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}
	return false, l.s.exists(ctx, `SELECT 1 FROM stock_reservations WHERE id = $1`, reservationID)
}

const reservationColumns = `id, order_id, variant_id, quantity, state, expires_at, created_at, resolved_at`

func (l *ledger) ListByOrder(ctx context.Context, orderID string) (reservations []domain.Reservation, err error) {
	defer l.s.observe(ctx, "list_reservations", time.Now(), &err)

	query := `SELECT ` + reservationColumns + ` FROM stock_reservations WHERE order_id = $1 ORDER BY created_at, id`
	return l.query(ctx, query, orderID)
}

func (l *ledger) ListExpired(ctx context.Context, now time.Time, limit int) (reservations []domain.Reservation, err error) {
	defer l.s.observe(ctx, "list_expired_reservations", time.Now(), &err)

	query := `
		SELECT ` + reservationColumns + `
		FROM stock_reservations
		WHERE state = 'ACTIVE' AND expires_at <= $1
		ORDER BY expires_at, id
		LIMIT $2
	`
	return l.query(ctx, query, now, limit)
}

func (l *ledger) query(ctx context.Context, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := l.s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}

	reservations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Reservation, error) {
		var r domain.Reservation
		err := row.Scan(&r.ID, &r.OrderID, &r.VariantID, &r.Quantity, &r.State, &r.ExpiresAt, &r.CreatedAt, &r.ResolvedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan reservations: %w", err)
	}
	return reservations, nil
}

func (l *ledger) StockLevel(ctx context.Context, variantID string) (level domain.StockLevel, err error) {
	defer l.s.observe(ctx, "stock_level", time.Now(), &err)

	query := `SELECT variant_id, stock_on_hand, reserved FROM inventory WHERE variant_id = $1`

	err = l.s.q.QueryRow(ctx, query, variantID).Scan(&level.VariantID, &level.StockOnHand, &level.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StockLevel{}, ports.ErrNotFound
	}
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("select stock level: %w", err)
	}
	return level, nil
}
