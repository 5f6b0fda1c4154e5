package domain_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/dejobratic/checkout/internal/orders/domain"
)

func validOrder() domain.Order {
	lines := []domain.OrderLine{
		{VariantID: "V1", Quantity: 2, UnitPrice: 5000, LineTotal: 10000},
	}
	totals := domain.ComputeTotals(lines, 300, 0)
	return domain.Order{
		ID:            "01HZX",
		CustomerID:    "cust-1",
		CustomerEmail: "user@example.com",
		State:         domain.StateCreated,
		Subtotal:      totals.Subtotal,
		ShippingCost:  totals.ShippingCost,
		Tax:           totals.Tax,
		Total:         totals.Total,
		Lines:         lines,
	}
}

func TestOrderValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *domain.Order)
		wantErr bool
	}{
		{name: "valid order", mutate: func(o *domain.Order) {}},
		{name: "missing customer", mutate: func(o *domain.Order) { o.CustomerID = "  " }, wantErr: true},
		{name: "invalid email format", mutate: func(o *domain.Order) { o.CustomerEmail = "notanemail" }, wantErr: true},
		{name: "no lines", mutate: func(o *domain.Order) { o.Lines = nil }, wantErr: true},
		{name: "zero quantity", mutate: func(o *domain.Order) { o.Lines[0].Quantity = 0 }, wantErr: true},
		{name: "line total drift", mutate: func(o *domain.Order) { o.Lines[0].LineTotal = 9999 }, wantErr: true},
		{name: "total drift", mutate: func(o *domain.Order) { o.Total++ }, wantErr: true},
		{name: "negative shipping", mutate: func(o *domain.Order) { o.ShippingCost = -1; o.Total = o.Subtotal - 1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := validOrder()
			tt.mutate(&order)
			err := order.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestComputeTotals(t *testing.T) {
	lines := []domain.OrderLine{
		{Quantity: 2, UnitPrice: 5000},
		{Quantity: 1, UnitPrice: 1999},
	}

	t.Run("sums subtotal shipping and tax", func(t *testing.T) {
		got := domain.ComputeTotals(lines, 300, 1600)
		if got.Subtotal != 11999 {
			t.Fatalf("expected subtotal 11999, got %d", got.Subtotal)
		}
		// 11999 * 0.16 = 1919.84
		if got.Tax != 1920 {
			t.Fatalf("expected tax 1920, got %d", got.Tax)
		}
		if got.Total != got.Subtotal+got.ShippingCost+got.Tax {
			t.Fatalf("total %d does not equal components", got.Total)
		}
	})

	t.Run("zero rate has no tax", func(t *testing.T) {
		got := domain.ComputeTotals(lines, 0, 0)
		if got.Tax != 0 || got.Total != 11999 {
			t.Fatalf("unexpected totals: %+v", got)
		}
	})

	t.Run("rounds half up", func(t *testing.T) {
		got := domain.ComputeTotals([]domain.OrderLine{{Quantity: 1, UnitPrice: 50}}, 0, 1000)
		if got.Tax != 5 {
			t.Fatalf("expected tax 5, got %d", got.Tax)
		}
		got = domain.ComputeTotals([]domain.OrderLine{{Quantity: 1, UnitPrice: 25}}, 0, 1000)
		if got.Tax != 3 {
			t.Fatalf("expected tax 3, got %d", got.Tax)
		}
	})
}

func TestCanTransition(t *testing.T) {
	allowed := map[domain.State][]domain.State{
		domain.StateCreated:           {domain.StatePaymentPending, domain.StateCancelled},
		domain.StatePaymentPending:    {domain.StatePaymentAuthorized, domain.StatePaymentSettled, domain.StateCancelled},
		domain.StatePaymentAuthorized: {domain.StatePaymentSettled, domain.StateCancelled},
		domain.StatePaymentSettled:    {domain.StateShipped},
		domain.StateShipped:           {domain.StateDelivered},
	}
	all := []domain.State{
		domain.StateCreated, domain.StatePaymentPending, domain.StatePaymentAuthorized,
		domain.StatePaymentSettled, domain.StateShipped, domain.StateDelivered, domain.StateCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			if got := domain.CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCheckTransition(t *testing.T) {
	err := domain.CheckTransition(domain.StateDelivered, domain.StateCreated)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var ite *domain.InvalidTransitionError
	if !errors.As(err, &ite) || ite.From != domain.StateDelivered || ite.To != domain.StateCreated {
		t.Fatalf("unexpected error detail: %v", err)
	}

	if err := domain.CheckTransition(domain.StatePaymentSettled, domain.StateCancelled); err == nil {
		t.Fatal("settled orders must not be cancellable")
	}
}

func TestOrderIsTerminal(t *testing.T) {
	for _, s := range []domain.State{domain.StateDelivered, domain.StateCancelled} {
		if !(domain.Order{State: s}).IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	if (domain.Order{State: domain.StatePaymentSettled}).IsTerminal() {
		t.Error("settled order is not terminal")
	}
}

func TestNewOrderCode(t *testing.T) {
	code, err := domain.NewOrderCode()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !strings.HasPrefix(code, "ORD-") || len(code) != 14 {
		t.Fatalf("unexpected code format: %q", code)
	}
	other, _ := domain.NewOrderCode()
	if other == code {
		t.Fatal("expected unique codes")
	}
}

func TestAddressValidate(t *testing.T) {
	fields := domain.Address{FullName: "Jane", Line1: "Moi Ave"}.Validate("shipping_address")
	if len(fields) != 2 {
		t.Fatalf("expected 2 field errors, got %d: %+v", len(fields), fields)
	}
	if fields[0].Field != "shipping_address.city" || fields[1].Field != "shipping_address.county" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
}

func TestShippingRatePrice(t *testing.T) {
	express := int64(800)
	rate := domain.ShippingRate{StandardPrice: 300, ExpressPrice: &express}

	if p, ok := rate.Price(domain.ShippingStandard); !ok || p != 300 {
		t.Fatalf("standard = %d,%v", p, ok)
	}
	if p, ok := rate.Price(domain.ShippingExpress); !ok || p != 800 {
		t.Fatalf("express = %d,%v", p, ok)
	}
	rate.ExpressPrice = nil
	if _, ok := rate.Price(domain.ShippingExpress); ok {
		t.Fatal("express must be unavailable when its price is null")
	}
}

func TestErrorClassification(t *testing.T) {
	if !errors.Is(domain.CartErrors{{Code: domain.CartErrorVariantDisabled}}, domain.ErrValidation) {
		t.Error("cart errors must classify as validation")
	}
	if !errors.Is(&domain.OutOfStockError{VariantID: "V1"}, domain.ErrOutOfStock) {
		t.Error("out of stock error must match ErrOutOfStock")
	}
	cause := errors.New("timeout")
	ext := &domain.ExternalServiceError{Op: "initialize", Err: cause}
	if !errors.Is(ext, domain.ErrExternalService) || !errors.Is(ext, cause) {
		t.Error("external service error must match sentinel and cause")
	}
}
