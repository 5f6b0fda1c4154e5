package pricing

import (
	"context"
	"fmt"
	"strings"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

// MaxLineQuantity bounds the quantity of one variant in a cart, after merging duplicate lines.
const MaxLineQuantity int64 = 100_000

// CartValidator re-prices a client cart against the live catalog.
type CartValidator struct {
	catalog ports.Catalog
}

// NewCartValidator creates a validator backed by catalog.
func NewCartValidator(catalog ports.Catalog) *CartValidator {
	return &CartValidator{catalog: catalog}
}

// Validate checks every line and returns all problems at once as domain.CartErrors.
// Lines for the same variant are merged in first-seen order. Client unit prices only
// set PriceChanged on the output line. Quantities are checked against stock on hand;
// contention with open reservations is settled by the ledger at reserve time.
func (v *CartValidator) Validate(ctx context.Context, lines []domain.CartLine) (domain.ValidatedCart, error) {
	if len(lines) == 0 {
		return domain.ValidatedCart{}, domain.CartErrors{{Index: -1, Code: domain.CartErrorEmpty, Message: "cart is empty"}}
	}

	var problems domain.CartErrors
	type merged struct {
		index    int
		quantity int64
		client   *int64
	}
	order := make([]string, 0, len(lines))
	byVariant := make(map[string]*merged, len(lines))

	for i, line := range lines {
		id := strings.TrimSpace(line.VariantID)
		if id == "" {
			problems = append(problems, domain.CartError{Index: i, Code: domain.CartErrorMissingVariant, Message: "variant_id is required"})
			continue
		}
		if line.Quantity <= 0 {
			problems = append(problems, domain.CartError{Index: i, VariantID: id, Code: domain.CartErrorInvalidQuantity, Message: "quantity must be positive"})
			continue
		}
		if line.Quantity > MaxLineQuantity {
			problems = append(problems, quantityTooLarge(i, id))
			continue
		}
		if m, ok := byVariant[id]; ok {
			if m.quantity > MaxLineQuantity-line.Quantity {
				problems = append(problems, quantityTooLarge(i, id))
				continue
			}
			m.quantity += line.Quantity
			continue
		}
		byVariant[id] = &merged{index: i, quantity: line.Quantity, client: line.ClientUnitPrice}
		order = append(order, id)
	}

	variants, err := v.catalog.GetVariants(ctx, order)
	if err != nil {
		return domain.ValidatedCart{}, fmt.Errorf("load variants: %w", err)
	}

	cart := domain.ValidatedCart{Lines: make([]domain.ValidatedLine, 0, len(order))}
	for _, id := range order {
		m := byVariant[id]
		variant, ok := variants[id]
		switch {
		case !ok:
			problems = append(problems, domain.CartError{Index: m.index, VariantID: id, Code: domain.CartErrorVariantNotFound, Message: "variant does not exist"})
			continue
		case !variant.Enabled:
			problems = append(problems, domain.CartError{Index: m.index, VariantID: id, Code: domain.CartErrorVariantDisabled, Message: "variant is not available for sale"})
			continue
		case variant.StockOnHand < m.quantity:
			problems = append(problems, domain.CartError{
				Index:     m.index,
				VariantID: id,
				Code:      domain.CartErrorInsufficientStock,
				Message:   fmt.Sprintf("only %d in stock", max(variant.StockOnHand, 0)),
			})
			continue
		}

		cart.Lines = append(cart.Lines, domain.ValidatedLine{
			VariantID:    id,
			Name:         variant.Name,
			Quantity:     m.quantity,
			UnitPrice:    variant.Price,
			PriceChanged: m.client != nil && *m.client != variant.Price,
		})
	}

	if len(problems) > 0 {
		return domain.ValidatedCart{}, problems
	}
	return cart, nil
}

func quantityTooLarge(index int, variantID string) domain.CartError {
	return domain.CartError{
		Index:     index,
		VariantID: variantID,
		Code:      domain.CartErrorInvalidQuantity,
		Message:   fmt.Sprintf("quantity may not exceed %d per variant", MaxLineQuantity),
	}
}
