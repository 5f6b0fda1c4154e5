package queries

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

// GetOrderQuery represents a request to retrieve an order's status by its ID.
type GetOrderQuery struct {
	OrderID    string
	CustomerID string
	Admin      bool
}

// PaymentSummary is the public view of one payment attempt.
type PaymentSummary struct {
	Reference string              `json:"reference"`
	State     domain.PaymentState `json:"state"`
	Amount    int64               `json:"amount"`
	Currency  string              `json:"currency"`
	SettledAt *time.Time          `json:"settled_at,omitempty"`
}

// OrderStatus is the order together with its payment history.
type OrderStatus struct {
	Order    domain.Order     `json:"order"`
	Payments []PaymentSummary `json:"payments"`
}

// GetOrderQueryHandler executes GetOrderQuery.
type GetOrderQueryHandler struct {
	orders   ports.OrderRepository
	payments ports.PaymentRepository
}

// NewGetOrderQueryHandler constructs a GetOrderQueryHandler.
func NewGetOrderQueryHandler(orders ports.OrderRepository, payments ports.PaymentRepository) *GetOrderQueryHandler {
	return &GetOrderQueryHandler{orders: orders, payments: payments}
}

// Handle executes the query. Callers other than the owner or an admin get domain.ErrForbidden.
func (h *GetOrderQueryHandler) Handle(ctx context.Context, query GetOrderQuery) (*OrderStatus, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	order, err := h.orders.GetByID(ctx, query.OrderID)
	if err != nil {
		return nil, err
	}
	if !query.Admin && !order.OwnedBy(query.CustomerID) {
		return nil, domain.ErrForbidden
	}

	payments, err := h.payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	status := &OrderStatus{Order: *order, Payments: make([]PaymentSummary, 0, len(payments))}
	for _, p := range payments {
		status.Payments = append(status.Payments, PaymentSummary{
			Reference: p.ProviderReference,
			State:     p.State,
			Amount:    p.Amount,
			Currency:  p.Currency,
			SettledAt: p.SettledAt,
		})
	}
	return status, nil
}

// Validate ensures the query has valid parameters.
func (q GetOrderQuery) Validate() error {
	if strings.TrimSpace(q.OrderID) == "" {
		return domain.NewValidationError("order_id", "is required")
	}
	return nil
}
