package pricing_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/dejobratic/checkout/internal/orders/adapters/memory"
	"github.com/dejobratic/checkout/internal/orders/app/pricing"
	"github.com/dejobratic/checkout/internal/orders/domain"
)

func ptr(v int64) *int64 { return &v }

func TestShippingCalculatorQuote(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedShippingRate("Nairobi", "Nairobi", 300, ptr(700))
	store.SeedShippingRate("Kiambu", "Thika", 450, nil)
	calc := pricing.NewShippingCalculator(store)

	t.Run("standard price", func(t *testing.T) {
		got, err := calc.Quote(ctx, "Nairobi", "Nairobi", "standard")
		if err != nil || got != 300 {
			t.Fatalf("expected 300, got %d (%v)", got, err)
		}
	})

	t.Run("match ignores case and surrounding space", func(t *testing.T) {
		got, err := calc.Quote(ctx, " nairobi ", "NAIROBI", "Express")
		if err != nil || got != 700 {
			t.Fatalf("expected 700, got %d (%v)", got, err)
		}
	})

	t.Run("unknown destination", func(t *testing.T) {
		_, err := calc.Quote(ctx, "Unknown", "Nowhere", "standard")
		if !errors.Is(err, domain.ErrZoneNotFound) {
			t.Fatalf("expected ErrZoneNotFound, got %v", err)
		}
	})

	t.Run("no partial matching", func(t *testing.T) {
		_, err := calc.Quote(ctx, "Nairobi", "Nairobi West", "standard")
		if !errors.Is(err, domain.ErrZoneNotFound) {
			t.Fatalf("expected ErrZoneNotFound, got %v", err)
		}
	})

	t.Run("express rejected without express price", func(t *testing.T) {
		_, err := calc.Quote(ctx, "Kiambu", "Thika", "express")
		if !errors.Is(err, domain.ErrZoneNotFound) {
			t.Fatalf("expected ErrZoneNotFound, got %v", err)
		}
	})

	t.Run("unknown method is a validation error", func(t *testing.T) {
		_, err := calc.Quote(ctx, "Nairobi", "Nairobi", "drone")
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestCartValidatorValidate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedVariant("V1", "Mug", 5000, 10, true)
	store.SeedVariant("V2", "Poster", 1200, 1, true)
	store.SeedVariant("V3", "Retired", 900, 5, false)
	validator := pricing.NewCartValidator(store)

	t.Run("uses catalog price not client price", func(t *testing.T) {
		cart, err := validator.Validate(ctx, []domain.CartLine{{VariantID: "V1", Quantity: 2, ClientUnitPrice: ptr(1)}})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		line := cart.Lines[0]
		if line.UnitPrice != 5000 || !line.PriceChanged || line.Name != "Mug" {
			t.Fatalf("unexpected line: %+v", line)
		}
		if cart.Subtotal() != 10000 {
			t.Fatalf("expected subtotal 10000, got %d", cart.Subtotal())
		}
	})

	t.Run("merges duplicate variants", func(t *testing.T) {
		cart, err := validator.Validate(ctx, []domain.CartLine{
			{VariantID: "V1", Quantity: 1},
			{VariantID: "V2", Quantity: 1},
			{VariantID: "V1", Quantity: 3},
		})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if len(cart.Lines) != 2 || cart.Lines[0].VariantID != "V1" || cart.Lines[0].Quantity != 4 {
			t.Fatalf("unexpected lines: %+v", cart.Lines)
		}
	})

	t.Run("aggregates every problem", func(t *testing.T) {
		_, err := validator.Validate(ctx, []domain.CartLine{
			{VariantID: "V1", Quantity: 0},
			{VariantID: "missing", Quantity: 1},
			{VariantID: "V3", Quantity: 1},
			{VariantID: "V2", Quantity: 2},
			{VariantID: "", Quantity: 1},
		})
		var cartErrs domain.CartErrors
		if !errors.As(err, &cartErrs) {
			t.Fatalf("expected CartErrors, got %v", err)
		}
		codes := map[string]bool{}
		for _, ce := range cartErrs {
			codes[ce.Code] = true
		}
		for _, want := range []string{
			domain.CartErrorInvalidQuantity,
			domain.CartErrorVariantNotFound,
			domain.CartErrorVariantDisabled,
			domain.CartErrorInsufficientStock,
			domain.CartErrorMissingVariant,
		} {
			if !codes[want] {
				t.Errorf("missing %s in %+v", want, cartErrs)
			}
		}
		if len(cartErrs) != 5 {
			t.Fatalf("expected 5 errors, got %d", len(cartErrs))
		}
	})

	t.Run("rejects quantities that would overflow", func(t *testing.T) {
		tests := []struct {
			name      string
			lines     []domain.CartLine
			wantIndex int
		}{
			{
				name:      "single huge line",
				lines:     []domain.CartLine{{VariantID: "V1", Quantity: math.MaxInt64}},
				wantIndex: 0,
			},
			{
				name: "merged lines past int64",
				lines: []domain.CartLine{
					{VariantID: "V1", Quantity: 2},
					{VariantID: "V1", Quantity: math.MaxInt64},
				},
				wantIndex: 1,
			},
			{
				name: "merged lines past the per variant limit",
				lines: []domain.CartLine{
					{VariantID: "V1", Quantity: pricing.MaxLineQuantity},
					{VariantID: "V1", Quantity: 1},
				},
				wantIndex: 1,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := validator.Validate(ctx, tt.lines)
				var cartErrs domain.CartErrors
				if !errors.As(err, &cartErrs) {
					t.Fatalf("expected CartErrors, got %v", err)
				}
				var found bool
				for _, ce := range cartErrs {
					if ce.Code == domain.CartErrorInvalidQuantity && ce.Index == tt.wantIndex {
						found = true
					}
				}
				if !found {
					t.Fatalf("expected invalid_quantity at index %d, got %+v", tt.wantIndex, cartErrs)
				}
			})
		}
	})

	t.Run("empty cart", func(t *testing.T) {
		_, err := validator.Validate(ctx, nil)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}
