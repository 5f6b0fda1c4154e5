package commands_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dejobratic/checkout/internal/orders/app/commands"
	"github.com/dejobratic/checkout/internal/orders/app/pricing"
	"github.com/dejobratic/checkout/internal/orders/domain"
)

func TestCreateOrder(t *testing.T) {
	t.Run("creates order with server prices and shipping", func(t *testing.T) {
		f := newFixture(t)

		order, err := f.create.Handle(context.Background(), checkoutCmd(domain.CartLine{VariantID: "V1", Quantity: 2}))
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		if order.State != domain.StateCreated {
			t.Errorf("expected state %s, got %s", domain.StateCreated, order.State)
		}
		if order.Subtotal != 10000 || order.ShippingCost != 300 || order.Tax != 0 || order.Total != 10300 {
			t.Errorf("unexpected totals: subtotal=%d shipping=%d tax=%d total=%d", order.Subtotal, order.ShippingCost, order.Tax, order.Total)
		}
		if order.ID == "" || len(order.Code) != 14 {
			t.Errorf("expected generated id and code, got %q %q", order.ID, order.Code)
		}
		if order.BillingAddress != order.ShippingAddress {
			t.Error("expected billing address to default to shipping address")
		}

		stored := f.order(t, order.ID)
		if len(stored.Lines) != 1 || stored.Lines[0].UnitPrice != 5000 || stored.Lines[0].Name != "Mug" {
			t.Fatalf("unexpected stored lines: %+v", stored.Lines)
		}
		if level := f.stock(t, "V1"); level.Reserved != 2 || level.StockOnHand != 10 {
			t.Fatalf("expected 2 reserved, got %+v", level)
		}
		if len(f.bus.created) != 1 || f.bus.created[0] != order.ID {
			t.Errorf("expected order created event, got %v", f.bus.created)
		}
	})

	t.Run("ignores client submitted prices", func(t *testing.T) {
		f := newFixture(t)

		order, err := f.create.Handle(context.Background(), checkoutCmd(domain.CartLine{VariantID: "V1", Quantity: 2, ClientUnitPrice: ptr(1)}))
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if order.Total != 10300 {
			t.Fatalf("expected total 10300, got %d", order.Total)
		}
		if order.Total != order.Subtotal+order.ShippingCost+order.Tax {
			t.Fatal("total invariant violated")
		}
	})

	t.Run("price changes after checkout do not touch the order", func(t *testing.T) {
		f := newFixture(t)
		order, _ := f.create.Handle(context.Background(), checkoutCmd(domain.CartLine{VariantID: "V1", Quantity: 1}))

		f.store.SetPrice("V1", 9999)

		stored := f.order(t, order.ID)
		if stored.Lines[0].UnitPrice != 5000 || stored.Total != 5300 {
			t.Fatalf("order changed after catalog update: %+v", stored)
		}
	})

	t.Run("unsupported destination creates nothing", func(t *testing.T) {
		f := newFixture(t)
		cmd := checkoutCmd(domain.CartLine{VariantID: "V1", Quantity: 1})
		cmd.ShippingAddress.County = "Unknown"
		cmd.ShippingAddress.City = "Nowhere"

		_, err := f.create.Handle(context.Background(), cmd)
		if !errors.Is(err, domain.ErrZoneNotFound) {
			t.Fatalf("expected ErrZoneNotFound, got %v", err)
		}
		if f.orderCount(t) != 0 {
			t.Fatal("expected no order to be persisted")
		}
		if level := f.stock(t, "V1"); level.Reserved != 0 {
			t.Fatalf("expected no reservation, got %+v", level)
		}
	})

	t.Run("multi line shortage releases every reservation", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		if _, err := f.store.Inventory().Reserve(ctx, "someone-else", "V2", 1, f.clock.Now().Add(time.Hour)); err != nil {
			t.Fatalf("failed to pre-reserve: %v", err)
		}

		_, err := f.create.Handle(ctx, checkoutCmd(
			domain.CartLine{VariantID: "V1", Quantity: 2},
			domain.CartLine{VariantID: "V2", Quantity: 1},
		))
		var oos *domain.OutOfStockError
		if !errors.As(err, &oos) || oos.VariantID != "V2" {
			t.Fatalf("expected out of stock on V2, got %v", err)
		}
		if level := f.stock(t, "V1"); level.Reserved != 0 {
			t.Fatalf("expected V1 reservation rolled back, got %+v", level)
		}
		if f.orderCount(t) != 0 {
			t.Fatal("expected no order to be persisted")
		}
	})

	t.Run("returns every cart problem", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.create.Handle(context.Background(), checkoutCmd(
			domain.CartLine{VariantID: "ghost", Quantity: 1},
			domain.CartLine{VariantID: "V2", Quantity: 5},
		))
		var cartErrs domain.CartErrors
		if !errors.As(err, &cartErrs) || len(cartErrs) != 2 {
			t.Fatalf("expected 2 cart errors, got %v", err)
		}
	})

	t.Run("returns validation error for incomplete address", func(t *testing.T) {
		f := newFixture(t)
		cmd := checkoutCmd(domain.CartLine{VariantID: "V1", Quantity: 1})
		cmd.ShippingAddress = domain.Address{}

		_, err := f.create.Handle(context.Background(), cmd)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) || len(verr.Fields) != 4 {
			t.Fatalf("expected 4 field errors, got %v", err)
		}
	})

	t.Run("applies tax in basis points", func(t *testing.T) {
		f := newFixture(t)
		taxed := commands.NewCreateOrderCommandHandler(
			f.store,
			pricing.NewCartValidator(f.store),
			pricing.NewShippingCalculator(f.store),
			commands.NewNotifier(f.bus, discardLogger, nil),
			commands.CheckoutConfig{Currency: "KES", TaxRateBPS: 1600},
			f.clock.Now,
		)

		order, err := taxed.Handle(context.Background(), checkoutCmd(domain.CartLine{VariantID: "V1", Quantity: 2}))
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if order.Tax != 1600 || order.Total != 11900 {
			t.Fatalf("unexpected totals: tax=%d total=%d", order.Tax, order.Total)
		}
	})

	t.Run("publish failure does not fail checkout", func(t *testing.T) {
		f := newFixture(t)
		f.bus.publishErr = errors.New("broker down")

		order, err := f.create.Handle(context.Background(), checkoutCmd(domain.CartLine{VariantID: "V1", Quantity: 1}))
		if err != nil || order == nil {
			t.Fatalf("expected order despite publish failure, got %v", err)
		}
	})
}

func TestCreateOrderConcurrentLastUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.create.Handle(ctx, checkoutCmd(domain.CartLine{VariantID: "V2", Quantity: 1}))
		}(i)
	}
	wg.Wait()

	var ok, outOfStock int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrOutOfStock):
			outOfStock++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || outOfStock != 1 {
		t.Fatalf("expected one success and one out of stock, got %d and %d", ok, outOfStock)
	}
	if level := f.stock(t, "V2"); level.Reserved != 1 {
		t.Fatalf("expected exactly one unit reserved, got %+v", level)
	}
}
