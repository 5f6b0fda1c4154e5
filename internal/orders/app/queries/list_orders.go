package queries

import (
	"context"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

const maxPageSize = 100

// ListOrdersQuery pages through orders. Non-admin callers only see their own.
type ListOrdersQuery struct {
	State      *domain.State
	CustomerID string
	Admin      bool
	Page       int
	PageSize   int
}

func (q ListOrdersQuery) Validate() error {
	if q.State != nil && !q.State.Valid() {
		return domain.NewValidationError("state", "is not a known order state")
	}
	if q.Page < 0 {
		return domain.NewValidationError("page", "must not be negative")
	}
	if q.PageSize < 0 || q.PageSize > maxPageSize {
		return domain.NewValidationError("page_size", "must be between 1 and 100")
	}
	return nil
}

type ListOrdersQueryHandler struct {
	orders ports.OrderRepository
}

func NewListOrdersQueryHandler(orders ports.OrderRepository) *ListOrdersQueryHandler {
	return &ListOrdersQueryHandler{orders: orders}
}

func (h *ListOrdersQueryHandler) Handle(ctx context.Context, query ListOrdersQuery) ([]domain.Order, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	if !query.Admin && query.CustomerID == "" {
		return nil, domain.ErrForbidden
	}
	return h.orders.List(ctx, ports.ListFilter{
		State:      query.State,
		CustomerID: query.CustomerID,
		Page:       query.Page,
		PageSize:   query.PageSize,
	})
}
