package domain

import (
	"strings"
)

// Variant is the catalog's live view of a purchasable product variant.
// Available is stock on hand minus active reservations.
type Variant struct {
	ID          string
	Name        string
	Price       int64
	Enabled     bool
	StockOnHand int64
	Available   int64
}

// CartLine is a client-submitted cart entry. ClientUnitPrice is advisory and never trusted.
type CartLine struct {
	VariantID       string `json:"variant_id"`
	Quantity        int64  `json:"quantity"`
	ClientUnitPrice *int64 `json:"unit_price,omitempty"`
}

// ValidatedLine is a cart line re-priced against the catalog.
type ValidatedLine struct {
	VariantID    string `json:"variant_id"`
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
	UnitPrice    int64  `json:"unit_price"`
	PriceChanged bool   `json:"price_changed"`
}

// ValidatedCart holds server-resolved lines ready for checkout.
type ValidatedCart struct {
	Lines []ValidatedLine
}

// Subtotal sums quantity * unit price over all lines.
func (c ValidatedCart) Subtotal() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.Quantity * l.UnitPrice
	}
	return total
}

// ShippingMethod selects the price column of a shipping city row.
type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "standard"
	ShippingExpress  ShippingMethod = "express"
)

// ParseShippingMethod normalises a method code.
func ParseShippingMethod(code string) (ShippingMethod, bool) {
	switch ShippingMethod(strings.ToLower(strings.TrimSpace(code))) {
	case ShippingStandard:
		return ShippingStandard, true
	case ShippingExpress:
		return ShippingExpress, true
	default:
		return "", false
	}
}

// ShippingRate is a city row of the shipping zone table.
type ShippingRate struct {
	County        string `json:"county"`
	City          string `json:"city"`
	StandardPrice int64  `json:"standard_price"`
	ExpressPrice  *int64 `json:"express_price,omitempty"`
}

// Price returns the rate for a method, false when the method is unavailable for the city.
func (r ShippingRate) Price(method ShippingMethod) (int64, bool) {
	switch method {
	case ShippingStandard:
		return r.StandardPrice, true
	case ShippingExpress:
		if r.ExpressPrice == nil {
			return 0, false
		}
		return *r.ExpressPrice, true
	default:
		return 0, false
	}
}

// NormalizePlace trims and lower-cases a county or city name for exact lookups.
func NormalizePlace(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
