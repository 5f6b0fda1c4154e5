package commands

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dejobratic/checkout/internal/orders/app/pricing"
	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

type CreateOrderCommand struct {
	CustomerID      string
	CustomerEmail   string
	Lines           []domain.CartLine
	ShippingAddress domain.Address
	// BillingAddress defaults to ShippingAddress when nil.
	BillingAddress *domain.Address
	ShippingMethod string
}

func (c CreateOrderCommand) Validate() error {
	var fields []domain.FieldError
	if strings.TrimSpace(c.CustomerID) == "" {
		fields = append(fields, domain.FieldError{Field: "customer_id", Message: "is required"})
	}
	if email := strings.TrimSpace(c.CustomerEmail); email != "" && !strings.Contains(email, "@") {
		fields = append(fields, domain.FieldError{Field: "customer_email", Message: "must be valid"})
	}
	if strings.TrimSpace(c.ShippingMethod) == "" {
		fields = append(fields, domain.FieldError{Field: "shipping_method", Message: "is required"})
	}
	fields = append(fields, c.ShippingAddress.Validate("shipping_address")...)
	if c.BillingAddress != nil {
		fields = append(fields, c.BillingAddress.Validate("billing_address")...)
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

type CommandHandler interface {
	Handle(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error)
}

// CheckoutConfig holds the pricing and reservation settings applied at checkout.
type CheckoutConfig struct {
	Currency       string
	TaxRateBPS     int64
	ReservationTTL time.Duration
}

// CreateOrderCommandHandler turns a cart into a persisted CREATED order. Stock reservations
// and the order rows are written in one transaction, so a failure leaves neither behind.
type CreateOrderCommandHandler struct {
	store    ports.Store
	cart     *pricing.CartValidator
	shipping *pricing.ShippingCalculator
	notifier *Notifier
	cfg      CheckoutConfig
	now      func() time.Time
}

func NewCreateOrderCommandHandler(
	store ports.Store,
	cart *pricing.CartValidator,
	shipping *pricing.ShippingCalculator,
	notifier *Notifier,
	cfg CheckoutConfig,
	now func() time.Time,
) *CreateOrderCommandHandler {
	if now == nil {
		now = time.Now
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = time.Hour
	}
	return &CreateOrderCommandHandler{
		store:    store,
		cart:     cart,
		shipping: shipping,
		notifier: notifier,
		cfg:      cfg,
		now:      now,
	}
}

func (h *CreateOrderCommandHandler) Handle(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	cart, err := h.cart.Validate(ctx, cmd.Lines)
	if err != nil {
		return nil, err
	}

	shippingCost, err := h.shipping.Quote(ctx, cmd.ShippingAddress.County, cmd.ShippingAddress.City, cmd.ShippingMethod)
	if err != nil {
		return nil, err
	}

	code, err := domain.NewOrderCode()
	if err != nil {
		return nil, fmt.Errorf("generate order code: %w", err)
	}

	now := h.now().UTC()
	method, _ := domain.ParseShippingMethod(cmd.ShippingMethod)
	billing := cmd.ShippingAddress
	if cmd.BillingAddress != nil {
		billing = *cmd.BillingAddress
	}

	order := domain.Order{
		ID:              domain.NewOrderID(),
		Code:            code,
		CustomerID:      cmd.CustomerID,
		CustomerEmail:   strings.TrimSpace(cmd.CustomerEmail),
		State:           domain.StateCreated,
		Currency:        h.cfg.Currency,
		ShippingMethod:  string(method),
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  billing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, line := range cart.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			OrderID:   order.ID,
			VariantID: line.VariantID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.Quantity * line.UnitPrice,
		})
	}

	totals := domain.ComputeTotals(order.Lines, shippingCost, h.cfg.TaxRateBPS)
	order.Subtotal = totals.Subtotal
	order.ShippingCost = totals.ShippingCost
	order.Tax = totals.Tax
	order.Total = totals.Total

	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("assemble order: %w", err)
	}

	expiresAt := now.Add(h.cfg.ReservationTTL)
	err = h.store.WithinTx(ctx, func(ctx context.Context, tx ports.Store) error {
		if err := tx.Orders().Create(ctx, order); err != nil {
			return fmt.Errorf("persist order: %w", err)
		}
		// Rows are reserved in variant order so concurrent checkouts lock inventory consistently.
		lines := slices.SortedFunc(slices.Values(order.Lines), func(a, b domain.OrderLine) int {
			return strings.Compare(a.VariantID, b.VariantID)
		})
		for _, line := range lines {
			if _, err := tx.Inventory().Reserve(ctx, order.ID, line.VariantID, line.Quantity, expiresAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.notifier.orderCreated(ctx, order.ID)

	return &order, nil
}
