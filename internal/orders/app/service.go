package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dejobratic/checkout/internal/orders/app/commands"
	"github.com/dejobratic/checkout/internal/orders/app/pricing"
	"github.com/dejobratic/checkout/internal/orders/app/queries"
	"github.com/dejobratic/checkout/internal/orders/app/statemachine"
	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/metrics"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

// Dependencies are the collaborators the checkout service is built from.
type Dependencies struct {
	Store          ports.Store
	Catalog        ports.Catalog
	ShippingRates  ports.ShippingRates
	Gateway        ports.PaymentGateway
	Webhooks       ports.WebhookParser
	Events         ports.EventBus
	Idempotency    ports.IdempotencyStore
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Checkout       commands.CheckoutConfig
	PaymentTimeout time.Duration
	SweepBatch     int
	Now            func() time.Time
}

// Service bundles the checkout use cases exposed through the API.
type Service struct {
	createOrder       commands.CommandHandler
	initializePayment *commands.InitializePaymentCommandHandler
	transition        *commands.TransitionOrderCommandHandler
	reconciler        commands.PaymentReconciler
	sweeper           *commands.ReservationSweeper
	getOrder          *queries.GetOrderQueryHandler
	listOrders        *queries.ListOrdersQueryHandler
	idemStore         ports.IdempotencyStore
}

// NewService wires required dependencies.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	machine := statemachine.New(deps.Now)
	notifier := commands.NewNotifier(deps.Events, logger, deps.Metrics)

	coreCreate := commands.NewCreateOrderCommandHandler(
		deps.Store,
		pricing.NewCartValidator(deps.Catalog),
		pricing.NewShippingCalculator(deps.ShippingRates),
		notifier,
		deps.Checkout,
		deps.Now,
	)
	coreReconciler := commands.NewReconciler(
		deps.Store, deps.Gateway, deps.Webhooks, machine, notifier, logger, deps.PaymentTimeout, deps.Now,
	)

	closer := commands.NewPaymentCloser(deps.Store, deps.Gateway, coreReconciler, notifier, logger, deps.PaymentTimeout, deps.Now)

	var createOrder commands.CommandHandler = coreCreate
	var reconciler commands.PaymentReconciler = coreReconciler
	if deps.Metrics != nil {
		createOrder = commands.NewObservableCommandHandler(coreCreate, logger, deps.Metrics)
		reconciler = commands.NewObservableReconciler(coreReconciler, logger, deps.Metrics)
	}

	return &Service{
		createOrder:       createOrder,
		initializePayment: commands.NewInitializePaymentCommandHandler(deps.Store, deps.Gateway, machine, notifier, closer, logger, deps.PaymentTimeout, deps.Now),
		transition:        commands.NewTransitionOrderCommandHandler(deps.Store, machine, notifier, closer),
		reconciler:        reconciler,
		sweeper:           commands.NewReservationSweeper(deps.Store, machine, notifier, closer, logger, deps.SweepBatch, deps.Now),
		getOrder:          queries.NewGetOrderQueryHandler(deps.Store.Orders(), deps.Store.Payments()),
		listOrders:        queries.NewListOrdersQueryHandler(deps.Store.Orders()),
		idemStore:         deps.Idempotency,
	}
}

// CheckoutInput captures the checkout request payload.
type CheckoutInput struct {
	Lines           []domain.CartLine `json:"lines"`
	ShippingAddress domain.Address    `json:"shipping_address"`
	BillingAddress  *domain.Address   `json:"billing_address,omitempty"`
	ShippingMethod  string            `json:"shipping_method"`
}

// CheckoutResult is returned once an order exists. RedirectURL is empty when payment
// initialisation failed and must be retried.
type CheckoutResult struct {
	Order       *domain.Order
	RedirectURL string
}

// Checkout creates the order and opens a payment for it. When the provider call fails the
// created order is returned together with the error so the client can retry payment.
func (s *Service) Checkout(ctx context.Context, actor commands.Actor, input CheckoutInput) (*CheckoutResult, error) {
	order, err := s.createOrder.Handle(ctx, commands.CreateOrderCommand{
		CustomerID:      actor.CustomerID,
		CustomerEmail:   actor.Email,
		Lines:           input.Lines,
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  input.BillingAddress,
		ShippingMethod:  input.ShippingMethod,
	})
	if err != nil {
		return nil, err
	}

	initialized, err := s.initializePayment.Handle(ctx, commands.InitializePaymentCommand{OrderID: order.ID, Actor: actor})
	if err != nil {
		return &CheckoutResult{Order: order}, fmt.Errorf("order %s created but payment not initialized: %w", order.ID, err)
	}
	return &CheckoutResult{Order: initialized.Order, RedirectURL: initialized.RedirectURL}, nil
}

// InitializePayment opens a new payment attempt for an existing order.
func (s *Service) InitializePayment(ctx context.Context, actor commands.Actor, orderID string) (*commands.PaymentInitialization, error) {
	return s.initializePayment.Handle(ctx, commands.InitializePaymentCommand{OrderID: orderID, Actor: actor})
}

// GetOrder returns the order status with its payments.
func (s *Service) GetOrder(ctx context.Context, actor commands.Actor, id string) (*queries.OrderStatus, error) {
	return s.getOrder.Handle(ctx, queries.GetOrderQuery{OrderID: id, CustomerID: actor.CustomerID, Admin: actor.Admin})
}

// ListOrders returns a page of orders visible to the actor.
func (s *Service) ListOrders(ctx context.Context, actor commands.Actor, state *domain.State, page, pageSize int) ([]domain.Order, error) {
	return s.listOrders.Handle(ctx, queries.ListOrdersQuery{
		State:      state,
		CustomerID: customerScope(actor),
		Admin:      actor.Admin,
		Page:       page,
		PageSize:   pageSize,
	})
}

// TransitionOrder cancels, ships or delivers an order.
func (s *Service) TransitionOrder(ctx context.Context, actor commands.Actor, id string, target domain.State) (*domain.Order, error) {
	return s.transition.Handle(ctx, commands.TransitionOrderCommand{OrderID: id, Target: target, Actor: actor})
}

// HandleWebhook reconciles a signed provider notification.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (commands.Ack, error) {
	return s.reconciler.HandleWebhook(ctx, payload, signature)
}

// HandleReturn reconciles after the customer returns from the provider.
func (s *Service) HandleReturn(ctx context.Context, reference string) (commands.Ack, error) {
	return s.reconciler.HandleReturn(ctx, reference)
}

// Sweeper exposes the expired-reservation sweeper for the background loop.
func (s *Service) Sweeper() *commands.ReservationSweeper {
	return s.sweeper
}

// ReserveIdempotencyKey claims a key for one request. It returns the entry already held under
// the key, or nil when the caller now owns it.
func (s *Service) ReserveIdempotencyKey(ctx context.Context, key, requestHash string) (*ports.StoredResponse, error) {
	return s.idemStore.Reserve(ctx, key, requestHash)
}

// SaveIdempotentResponse writes response details for a reserved key.
func (s *Service) SaveIdempotentResponse(ctx context.Context, key string, response ports.StoredResponse) error {
	return s.idemStore.Save(ctx, key, response)
}

// ReleaseIdempotencyKey frees a reserved key whose request produced nothing worth replaying.
func (s *Service) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return s.idemStore.Release(ctx, key)
}

func customerScope(actor commands.Actor) string {
	if actor.Admin {
		return ""
	}
	return actor.CustomerID
}
