package commands_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dejobratic/checkout/internal/orders/adapters/memory"
	"github.com/dejobratic/checkout/internal/orders/app/commands"
	"github.com/dejobratic/checkout/internal/orders/app/pricing"
	"github.com/dejobratic/checkout/internal/orders/app/statemachine"
	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockGateway struct {
	mu           sync.Mutex
	initializeFn func(ctx context.Context, req ports.PaymentRequest) (domain.PaymentSession, error)
	verifyFn     func(ctx context.Context, reference string) (domain.PaymentVerification, error)
	expireFn     func(ctx context.Context, reference string) error
	statuses     map[string]domain.PaymentVerification
	attempts     []int
	expired      []string
	verifyCalls  int
}

func newMockGateway() *mockGateway {
	return &mockGateway{statuses: make(map[string]domain.PaymentVerification)}
}

func (m *mockGateway) Initialize(ctx context.Context, req ports.PaymentRequest) (domain.PaymentSession, error) {
	m.mu.Lock()
	m.attempts = append(m.attempts, req.Attempt)
	m.mu.Unlock()
	if m.initializeFn != nil {
		return m.initializeFn(ctx, req)
	}
	ref := fmt.Sprintf("cs_%s_%d", req.Order.ID, req.Attempt)
	m.setStatus(ref, domain.ProviderPending, req.Order.Total, req.Order.Currency)
	return domain.PaymentSession{
		Provider:    "stripe",
		Reference:   ref,
		RedirectURL: "https://checkout.example/" + ref,
	}, nil
}

func (m *mockGateway) Verify(ctx context.Context, reference string) (domain.PaymentVerification, error) {
	m.mu.Lock()
	m.verifyCalls++
	v, ok := m.statuses[reference]
	m.mu.Unlock()
	if m.verifyFn != nil {
		return m.verifyFn(ctx, reference)
	}
	if !ok {
		return domain.PaymentVerification{}, fmt.Errorf("no such session %s", reference)
	}
	return v, nil
}

// Expire closes open sessions. Sessions the customer completed cannot be expired.
func (m *mockGateway) Expire(ctx context.Context, reference string) error {
	if m.expireFn != nil {
		return m.expireFn(ctx, reference)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.statuses[reference]
	if !ok {
		return fmt.Errorf("no such session %s", reference)
	}
	switch v.Status {
	case domain.ProviderSettled, domain.ProviderAuthorized:
		return ports.ErrSessionCompleted
	}
	v.Status = domain.ProviderFailed
	m.statuses[reference] = v
	m.expired = append(m.expired, reference)
	return nil
}

func (m *mockGateway) wasExpired(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.expired, ref)
}

func (m *mockGateway) setStatus(ref string, status domain.ProviderStatus, amount int64, currency string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[ref] = domain.PaymentVerification{Reference: ref, Status: status, Amount: amount, Currency: currency}
}

// settle pays the session at the provider; expired sessions can no longer be paid.
func (m *mockGateway) settle(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.statuses[ref]
	if slices.Contains(m.expired, ref) {
		return
	}
	v.Status = domain.ProviderSettled
	m.statuses[ref] = v
}

// mockParser treats the payload as the reference and the signature as a shared secret.
type mockParser struct {
	secret     string
	claimed    domain.ProviderStatus
	irrelevant bool
}

func (p *mockParser) Parse(payload []byte, signature string) (ports.WebhookEvent, error) {
	if signature != p.secret {
		return ports.WebhookEvent{}, domain.ErrInvalidSignature
	}
	claimed := p.claimed
	if claimed == "" {
		claimed = domain.ProviderSettled
	}
	return ports.WebhookEvent{
		ID:            "evt_1",
		Type:          "checkout.session.completed",
		Reference:     string(payload),
		Relevant:      !p.irrelevant,
		ClaimedStatus: claimed,
	}, nil
}

type recordingBus struct {
	mu         sync.Mutex
	created    []string
	changes    []ports.StateChange
	reconciled []string
	publishErr error
}

func (b *recordingBus) PublishOrderCreated(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, orderID)
	return b.publishErr
}

func (b *recordingBus) PublishOrderStateChanged(_ context.Context, change ports.StateChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = append(b.changes, change)
	return b.publishErr
}

func (b *recordingBus) PublishPaymentReconciled(_ context.Context, reference, outcome string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reconciled = append(b.reconciled, reference+":"+outcome)
	return b.publishErr
}

func (b *recordingBus) transitionsTo(state domain.State) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int
	for _, c := range b.changes {
		if c.To == state {
			n++
		}
	}
	return n
}

type fixture struct {
	store      *memory.Store
	gateway    *mockGateway
	parser     *mockParser
	bus        *recordingBus
	clock      *clock
	create     *commands.CreateOrderCommandHandler
	initialize *commands.InitializePaymentCommandHandler
	transition *commands.TransitionOrderCommandHandler
	reconciler *commands.Reconciler
	sweeper    *commands.ReservationSweeper
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func ptr(v int64) *int64 { return &v }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.SeedVariant("V1", "Mug", 5000, 10, true)
	store.SeedVariant("V2", "Poster", 1200, 1, true)
	store.SeedShippingRate("Nairobi", "Nairobi", 300, ptr(700))

	f := &fixture{
		store:   store,
		gateway: newMockGateway(),
		parser:  &mockParser{secret: "whsec_test"},
		bus:     &recordingBus{},
		clock:   &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	machine := statemachine.New(f.clock.Now)
	notifier := commands.NewNotifier(f.bus, discardLogger, nil)

	f.create = commands.NewCreateOrderCommandHandler(
		store,
		pricing.NewCartValidator(store),
		pricing.NewShippingCalculator(store),
		notifier,
		commands.CheckoutConfig{Currency: "KES", ReservationTTL: 30 * time.Minute},
		f.clock.Now,
	)
	f.reconciler = commands.NewReconciler(store, f.gateway, f.parser, machine, notifier, discardLogger, time.Second, f.clock.Now)
	closer := commands.NewPaymentCloser(store, f.gateway, f.reconciler, notifier, discardLogger, time.Second, f.clock.Now)
	f.initialize = commands.NewInitializePaymentCommandHandler(store, f.gateway, machine, notifier, closer, discardLogger, time.Second, f.clock.Now)
	f.transition = commands.NewTransitionOrderCommandHandler(store, machine, notifier, closer)
	f.sweeper = commands.NewReservationSweeper(store, machine, notifier, closer, discardLogger, 100, f.clock.Now)
	return f
}

var customer = commands.Actor{CustomerID: "cust-1", Email: "jane@example.com"}

func nairobi() domain.Address {
	return domain.Address{FullName: "Jane Doe", Phone: "+254700000000", Line1: "Moi Avenue 1", City: "Nairobi", County: "Nairobi"}
}

func checkoutCmd(lines ...domain.CartLine) commands.CreateOrderCommand {
	return commands.CreateOrderCommand{
		CustomerID:      customer.CustomerID,
		CustomerEmail:   customer.Email,
		Lines:           lines,
		ShippingAddress: nairobi(),
		ShippingMethod:  "standard",
	}
}

func (f *fixture) stock(t *testing.T, variantID string) domain.StockLevel {
	t.Helper()
	level, err := f.store.Inventory().StockLevel(context.Background(), variantID)
	if err != nil {
		t.Fatalf("failed to read stock: %v", err)
	}
	return level
}

func (f *fixture) order(t *testing.T, id string) *domain.Order {
	t.Helper()
	order, err := f.store.Orders().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to read order: %v", err)
	}
	return order
}

func (f *fixture) orderCount(t *testing.T) int {
	t.Helper()
	orders, err := f.store.Orders().List(context.Background(), ports.ListFilter{PageSize: 100})
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	return len(orders)
}

// pendingOrder creates an order and initialises its payment, returning the order and reference.
func (f *fixture) pendingOrder(t *testing.T, qty int64) (*domain.Order, string) {
	t.Helper()
	ctx := context.Background()
	order, err := f.create.Handle(ctx, checkoutCmd(domain.CartLine{VariantID: "V1", Quantity: qty}))
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	initialized, err := f.initialize.Handle(ctx, commands.InitializePaymentCommand{OrderID: order.ID, Actor: customer})
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	return initialized.Order, initialized.Payment.ProviderReference
}

func (f *fixture) payment(t *testing.T, ref string) *domain.Payment {
	t.Helper()
	payment, err := f.store.Payments().GetByReference(context.Background(), ref)
	if err != nil {
		t.Fatalf("failed to read payment: %v", err)
	}
	return payment
}
