package queries_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dejobratic/checkout/internal/orders/adapters/memory"
	"github.com/dejobratic/checkout/internal/orders/app/queries"
	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

func seed(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	orders := []domain.Order{
		{ID: "o1", Code: "ORD-1", CustomerID: "alice", State: domain.StatePaymentPending, CreatedAt: base},
		{ID: "o2", Code: "ORD-2", CustomerID: "bob", State: domain.StateCreated, CreatedAt: base.Add(time.Minute)},
		{ID: "o3", Code: "ORD-3", CustomerID: "alice", State: domain.StateCancelled, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, o := range orders {
		if err := store.Orders().Create(ctx, o); err != nil {
			t.Fatalf("failed to seed order: %v", err)
		}
	}
	settled := base.Add(time.Hour)
	_ = store.Payments().Create(ctx, domain.Payment{ID: "p1", OrderID: "o1", ProviderReference: "cs_1", State: domain.PaymentFailed, Amount: 10300, CreatedAt: base})
	_ = store.Payments().Create(ctx, domain.Payment{ID: "p2", OrderID: "o1", ProviderReference: "cs_2", State: domain.PaymentSettled, Amount: 10300, CreatedAt: settled, SettledAt: &settled})
	return store
}

func TestGetOrderQueryHandler(t *testing.T) {
	ctx := context.Background()
	store := seed(t)
	handler := queries.NewGetOrderQueryHandler(store.Orders(), store.Payments())

	t.Run("returns order with payment history", func(t *testing.T) {
		status, err := handler.Handle(ctx, queries.GetOrderQuery{OrderID: "o1", CustomerID: "alice"})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if status.Order.State != domain.StatePaymentPending {
			t.Errorf("expected state %s, got %s", domain.StatePaymentPending, status.Order.State)
		}
		if len(status.Payments) != 2 || status.Payments[0].Reference != "cs_1" {
			t.Fatalf("unexpected payments: %+v", status.Payments)
		}
		if status.Payments[1].SettledAt == nil {
			t.Error("expected settled_at on settled payment")
		}
	})

	t.Run("admin sees any order", func(t *testing.T) {
		if _, err := handler.Handle(ctx, queries.GetOrderQuery{OrderID: "o2", Admin: true}); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
	})

	t.Run("other customers are forbidden", func(t *testing.T) {
		_, err := handler.Handle(ctx, queries.GetOrderQuery{OrderID: "o2", CustomerID: "alice"})
		if !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("missing order", func(t *testing.T) {
		_, err := handler.Handle(ctx, queries.GetOrderQuery{OrderID: "nope", Admin: true})
		if !errors.Is(err, ports.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("returns validation error when order id is empty", func(t *testing.T) {
		_, err := handler.Handle(ctx, queries.GetOrderQuery{OrderID: "   "})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestListOrdersQueryHandler(t *testing.T) {
	ctx := context.Background()
	handler := queries.NewListOrdersQueryHandler(seed(t).Orders())

	t.Run("customer sees only own orders", func(t *testing.T) {
		orders, err := handler.Handle(ctx, queries.ListOrdersQuery{CustomerID: "alice"})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if len(orders) != 2 || orders[0].ID != "o1" || orders[1].ID != "o3" {
			t.Fatalf("unexpected orders: %+v", orders)
		}
	})

	t.Run("admin filters by state", func(t *testing.T) {
		state := domain.StateCreated
		orders, err := handler.Handle(ctx, queries.ListOrdersQuery{Admin: true, State: &state})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if len(orders) != 1 || orders[0].ID != "o2" {
			t.Fatalf("unexpected orders: %+v", orders)
		}
	})

	t.Run("paginates", func(t *testing.T) {
		orders, _ := handler.Handle(ctx, queries.ListOrdersQuery{Admin: true, Page: 2, PageSize: 2})
		if len(orders) != 1 || orders[0].ID != "o3" {
			t.Fatalf("unexpected page: %+v", orders)
		}
	})

	t.Run("rejects unknown state", func(t *testing.T) {
		state := domain.State("LOST")
		_, err := handler.Handle(ctx, queries.ListOrdersQuery{Admin: true, State: &state})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("anonymous listing is forbidden", func(t *testing.T) {
		_, err := handler.Handle(ctx, queries.ListOrdersQuery{})
		if !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})
}
