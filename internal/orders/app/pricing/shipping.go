package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

// ShippingCalculator quotes delivery cost from the zone table.
type ShippingCalculator struct {
	rates ports.ShippingRates
}

// NewShippingCalculator creates a calculator backed by rates.
func NewShippingCalculator(rates ports.ShippingRates) *ShippingCalculator {
	return &ShippingCalculator{rates: rates}
}

// Quote returns the shipping price for an exact (county, city) match under the given method.
// Unknown destinations and express requests for cities without an express price fail with
// domain.ErrZoneNotFound; an unrecognised method is a validation error.
func (c *ShippingCalculator) Quote(ctx context.Context, county, city, methodCode string) (int64, error) {
	method, ok := domain.ParseShippingMethod(methodCode)
	if !ok {
		return 0, domain.NewValidationError("shipping_method", "must be standard or express")
	}
	if strings.TrimSpace(county) == "" || strings.TrimSpace(city) == "" {
		return 0, fmt.Errorf("quote %s/%s: %w", county, city, domain.ErrZoneNotFound)
	}

	rate, err := c.rates.Rate(ctx, domain.NormalizePlace(county), domain.NormalizePlace(city))
	if errors.Is(err, ports.ErrNotFound) {
		return 0, fmt.Errorf("quote %s/%s: %w", county, city, domain.ErrZoneNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("load shipping rate: %w", err)
	}

	price, ok := rate.Price(method)
	if !ok {
		return 0, fmt.Errorf("quote %s/%s %s: %w", county, city, method, domain.ErrZoneNotFound)
	}
	return price, nil
}
