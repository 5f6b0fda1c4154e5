package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

type orderRepository struct {
	store *Store
}

// Create stores a new order instance and its lines.
func (r *orderRepository) Create(_ context.Context, order domain.Order) error {
	return r.store.run(func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return fmt.Errorf("insert order: duplicate id %s", order.ID)
		}
		for _, other := range st.orders {
			if other.Code == order.Code {
				return fmt.Errorf("insert order: duplicate code %s", order.Code)
			}
		}
		order.Lines = slices.Clone(order.Lines)
		st.orders[order.ID] = order
		return nil
	})
}

// GetByID fetches a single order by identifier.
func (r *orderRepository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	var found *domain.Order
	err := r.store.run(func(st *state) error {
		order, ok := st.orders[id]
		if !ok {
			return ports.ErrNotFound
		}
		order.Lines = slices.Clone(order.Lines)
		found = &order
		return nil
	})
	return found, err
}

// GetForUpdate is GetByID; the store mutex already serialises transactions.
func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return r.GetByID(ctx, id)
}

// List returns orders respecting the provided filter. Pagination is 1-based.
func (r *orderRepository) List(_ context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	var result []domain.Order
	_ = r.store.run(func(st *state) error {
		for _, order := range st.orders {
			if filter.State != nil && order.State != *filter.State {
				continue
			}
			if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
				continue
			}
			result = append(result, order)
		}
		return nil
	})

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	start := (page - 1) * pageSize
	if start >= len(result) {
		return []domain.Order{}, nil
	}
	end := min(start+pageSize, len(result))

	return slices.Clone(result[start:end]), nil
}

// UpdateState moves the order to change.To only while it is still in change.From.
func (r *orderRepository) UpdateState(_ context.Context, change ports.StateChange) (bool, error) {
	var applied bool
	err := r.store.run(func(st *state) error {
		order, ok := st.orders[change.OrderID]
		if !ok {
			return ports.ErrNotFound
		}
		if order.State != change.From {
			return nil
		}
		order.State = change.To
		order.UpdatedAt = change.At
		if change.To == domain.StateCancelled {
			order.CancelReason = change.Reason
		}
		st.orders[change.OrderID] = order
		applied = true
		return nil
	})
	return applied, err
}

// SetProviderReference attaches the latest provider reference to the order.
func (r *orderRepository) SetProviderReference(_ context.Context, id, reference string, at time.Time) error {
	return r.store.run(func(st *state) error {
		order, ok := st.orders[id]
		if !ok {
			return ports.ErrNotFound
		}
		order.ProviderReference = reference
		order.UpdatedAt = at
		st.orders[id] = order
		return nil
	})
}

type paymentRepository struct {
	store *Store
}

func (r *paymentRepository) Create(_ context.Context, payment domain.Payment) error {
	return r.store.run(func(st *state) error {
		if _, exists := st.paymentRefs[payment.ProviderReference]; exists {
			return ports.ErrDuplicateReference
		}
		if _, ok := st.orders[payment.OrderID]; !ok {
			return fmt.Errorf("insert payment: order %s: %w", payment.OrderID, ports.ErrNotFound)
		}
		st.payments[payment.ID] = payment
		st.paymentRefs[payment.ProviderReference] = payment.ID
		return nil
	})
}

func (r *paymentRepository) GetByReference(_ context.Context, reference string) (*domain.Payment, error) {
	var found *domain.Payment
	err := r.store.run(func(st *state) error {
		id, ok := st.paymentRefs[reference]
		if !ok {
			return ports.ErrNotFound
		}
		payment := st.payments[id]
		found = &payment
		return nil
	})
	return found, err
}

func (r *paymentRepository) ListByOrder(_ context.Context, orderID string) ([]domain.Payment, error) {
	var result []domain.Payment
	_ = r.store.run(func(st *state) error {
		for _, p := range st.payments {
			if p.OrderID == orderID {
				result = append(result, p)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *paymentRepository) MarkSettled(_ context.Context, id string, at time.Time) (bool, error) {
	var applied bool
	err := r.store.run(func(st *state) error {
		payment, ok := st.payments[id]
		if !ok {
			return ports.ErrNotFound
		}
		if payment.State == domain.PaymentSettled {
			return nil
		}
		for _, other := range st.payments {
			if other.OrderID == payment.OrderID && other.ID != id && other.State == domain.PaymentSettled {
				return ports.ErrDuplicateSettlement
			}
		}
		payment.State = domain.PaymentSettled
		payment.UpdatedAt = at
		payment.SettledAt = &at
		st.payments[id] = payment
		applied = true
		return nil
	})
	return applied, err
}

func (r *paymentRepository) MarkFailed(_ context.Context, id string, at time.Time) (bool, error) {
	var applied bool
	err := r.store.run(func(st *state) error {
		payment, ok := st.payments[id]
		if !ok {
			return ports.ErrNotFound
		}
		if payment.State != domain.PaymentPending {
			return nil
		}
		payment.State = domain.PaymentFailed
		payment.UpdatedAt = at
		st.payments[id] = payment
		applied = true
		return nil
	})
	return applied, err
}
