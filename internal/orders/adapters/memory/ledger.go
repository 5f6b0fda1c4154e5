package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

type ledger struct {
	store *Store
}

func (l *ledger) Reserve(_ context.Context, orderID, variantID string, qty int64, expiresAt time.Time) (domain.Reservation, error) {
	var reservation domain.Reservation
	err := l.store.run(func(st *state) error {
		level, ok := st.stock[variantID]
		if !ok {
			return &domain.OutOfStockError{VariantID: variantID, Requested: qty}
		}
		if level.Available() < qty {
			return &domain.OutOfStockError{VariantID: variantID, Requested: qty, Available: level.Available()}
		}
		level.Reserved += qty
		st.stock[variantID] = level

		reservation = domain.Reservation{
			ID:        domain.NewReservationID(),
			OrderID:   orderID,
			VariantID: variantID,
			Quantity:  qty,
			State:     domain.ReservationActive,
			ExpiresAt: expiresAt,
			CreatedAt: time.Now().UTC(),
		}
		st.reservations[reservation.ID] = reservation
		return nil
	})
	return reservation, err
}

func (l *ledger) Commit(_ context.Context, reservationID string, at time.Time) (bool, error) {
	return l.resolve(reservationID, domain.ReservationCommitted, at)
}

func (l *ledger) Release(_ context.Context, reservationID string, at time.Time) (bool, error) {
	return l.resolve(reservationID, domain.ReservationReleased, at)
}

func (l *ledger) resolve(id string, to domain.ReservationState, at time.Time) (bool, error) {
	var applied bool
	err := l.store.run(func(st *state) error {
		res, ok := st.reservations[id]
		if !ok {
			return ports.ErrNotFound
		}
		if res.State != domain.ReservationActive {
			return nil
		}
		level := st.stock[res.VariantID]
		level.Reserved -= res.Quantity
		if to == domain.ReservationCommitted {
			level.StockOnHand -= res.Quantity
		}
		st.stock[res.VariantID] = level

		res.State = to
		res.ResolvedAt = &at
		st.reservations[id] = res
		applied = true
		return nil
	})
	return applied, err
}

func (l *ledger) ListByOrder(_ context.Context, orderID string) ([]domain.Reservation, error) {
	return l.collect(func(r domain.Reservation) bool { return r.OrderID == orderID }, 0), nil
}

func (l *ledger) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	return l.collect(func(r domain.Reservation) bool {
		return r.State == domain.ReservationActive && !r.ExpiresAt.After(now)
	}, limit), nil
}

func (l *ledger) collect(keep func(domain.Reservation) bool, limit int) []domain.Reservation {
	var result []domain.Reservation
	_ = l.store.run(func(st *state) error {
		for _, r := range st.reservations {
			if keep(r) {
				result = append(result, r)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		if result[i].ExpiresAt.Equal(result[j].ExpiresAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (l *ledger) StockLevel(_ context.Context, variantID string) (domain.StockLevel, error) {
	var level domain.StockLevel
	err := l.store.run(func(st *state) error {
		found, ok := st.stock[variantID]
		if !ok {
			return ports.ErrNotFound
		}
		level = found
		return nil
	})
	return level, err
}

// GetVariants implements ports.Catalog.
func (s *Store) GetVariants(_ context.Context, ids []string) (map[string]domain.Variant, error) {
	result := make(map[string]domain.Variant, len(ids))
	_ = s.run(func(st *state) error {
		for _, id := range ids {
			row, ok := st.variants[id]
			if !ok {
				continue
			}
			level := st.stock[id]
			result[id] = domain.Variant{
				ID:          id,
				Name:        row.name,
				Price:       row.price,
				Enabled:     row.enabled,
				StockOnHand: level.StockOnHand,
				Available:   level.Available(),
			}
		}
		return nil
	})
	return result, nil
}

// Rate implements ports.ShippingRates.
func (s *Store) Rate(_ context.Context, county, city string) (domain.ShippingRate, error) {
	var rate domain.ShippingRate
	err := s.run(func(st *state) error {
		found, ok := st.rates[rateKey(county, city)]
		if !ok {
			return ports.ErrNotFound
		}
		rate = found
		return nil
	})
	return rate, err
}
