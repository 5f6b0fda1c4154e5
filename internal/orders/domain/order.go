package domain

import (
	"errors"
	"strings"
	"time"
)

// Address is the snapshot of a postal address taken at checkout.
type Address struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city"`
	County   string `json:"county"`
}

// Validate reports missing address fields under the given prefix.
func (a Address) Validate(prefix string) []FieldError {
	var fields []FieldError
	required := map[string]string{
		"full_name": a.FullName,
		"line1":     a.Line1,
		"city":      a.City,
		"county":    a.County,
	}
	for _, name := range []string{"full_name", "line1", "city", "county"} {
		if strings.TrimSpace(required[name]) == "" {
			fields = append(fields, FieldError{Field: prefix + "." + name, Message: "is required"})
		}
	}
	return fields
}

// OrderLine is one distinct variant within an order. UnitPrice is frozen at checkout.
type OrderLine struct {
	OrderID   string `json:"order_id"`
	VariantID string `json:"variant_id"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

// Order represents a checkout attempt that reached persistence.
type Order struct {
	ID                string      `json:"id"`
	Code              string      `json:"code"`
	CustomerID        string      `json:"customer_id"`
	CustomerEmail     string      `json:"customer_email"`
	State             State       `json:"state"`
	Currency          string      `json:"currency"`
	Subtotal          int64       `json:"subtotal"`
	ShippingCost      int64       `json:"shipping_cost"`
	Tax               int64       `json:"tax"`
	Total             int64       `json:"total"`
	ShippingMethod    string      `json:"shipping_method"`
	ShippingAddress   Address     `json:"shipping_address"`
	BillingAddress    Address     `json:"billing_address"`
	ProviderReference string      `json:"provider_reference,omitempty"`
	CancelReason      string      `json:"cancel_reason,omitempty"`
	Lines             []OrderLine `json:"lines"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Totals groups the monetary components of an order in minor currency units.
type Totals struct {
	Subtotal     int64
	ShippingCost int64
	Tax          int64
	Total        int64
}

// ComputeTotals derives order totals from frozen lines, the shipping quote and a tax rate in basis points.
// Tax is rounded half-up.
func ComputeTotals(lines []OrderLine, shipping int64, taxRateBPS int64) Totals {
	var subtotal int64
	for _, line := range lines {
		subtotal += line.Quantity * line.UnitPrice
	}
	tax := (subtotal*taxRateBPS + 5000) / 10000
	return Totals{
		Subtotal:     subtotal,
		ShippingCost: shipping,
		Tax:          tax,
		Total:        subtotal + shipping + tax,
	}
}

// Validate ensures the order adheres to business constraints.
func (o Order) Validate() error {
	if strings.TrimSpace(o.CustomerID) == "" {
		return errors.New("customer_id is required")
	}
	if strings.TrimSpace(o.CustomerEmail) != "" && !strings.Contains(o.CustomerEmail, "@") {
		return errors.New("customer_email must be valid")
	}
	if len(o.Lines) == 0 {
		return errors.New("order must contain at least one line")
	}
	var subtotal int64
	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			return errors.New("line quantity must be positive")
		}
		if line.UnitPrice < 0 {
			return errors.New("line unit price must not be negative")
		}
		if line.LineTotal != line.Quantity*line.UnitPrice {
			return errors.New("line total must equal quantity times unit price")
		}
		subtotal += line.LineTotal
	}
	if subtotal != o.Subtotal {
		return errors.New("subtotal must equal the sum of line totals")
	}
	if o.ShippingCost < 0 || o.Tax < 0 {
		return errors.New("shipping and tax must not be negative")
	}
	if o.Total != o.Subtotal+o.ShippingCost+o.Tax {
		return errors.New("total must equal subtotal + shipping + tax")
	}
	return nil
}

// IsTerminal indicates whether the order can no longer change state.
func (o Order) IsTerminal() bool {
	return len(transitions[o.State]) == 0
}

// OwnedBy reports whether the order belongs to the given customer.
func (o Order) OwnedBy(customerID string) bool {
	return customerID != "" && o.CustomerID == customerID
}
