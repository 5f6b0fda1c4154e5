package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

type variantRow struct {
	name    string
	price   int64
	enabled bool
}

type state struct {
	orders       map[string]domain.Order
	payments     map[string]domain.Payment
	paymentRefs  map[string]string
	reservations map[string]domain.Reservation
	stock        map[string]domain.StockLevel
	variants     map[string]variantRow
	rates        map[string]domain.ShippingRate
}

func (s *state) clone() *state {
	return &state{
		orders:       maps.Clone(s.orders),
		payments:     maps.Clone(s.payments),
		paymentRefs:  maps.Clone(s.paymentRefs),
		reservations: maps.Clone(s.reservations),
		stock:        maps.Clone(s.stock),
		variants:     maps.Clone(s.variants),
		rates:        maps.Clone(s.rates),
	}
}

type db struct {
	mu sync.Mutex
	*state
}

// Store is an in-memory ports.Store for local development and tests.
// Transactions serialise on a single mutex and roll back by restoring a snapshot.
type Store struct {
	db   *db
	inTx bool
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{db: &db{state: &state{
		orders:       make(map[string]domain.Order),
		payments:     make(map[string]domain.Payment),
		paymentRefs:  make(map[string]string),
		reservations: make(map[string]domain.Reservation),
		stock:        make(map[string]domain.StockLevel),
		variants:     make(map[string]variantRow),
		rates:        make(map[string]domain.ShippingRate),
	}}}
}

func (s *Store) run(fn func(st *state) error) error {
	if !s.inTx {
		s.db.mu.Lock()
		defer s.db.mu.Unlock()
	}
	return fn(s.db.state)
}

// WithinTx runs fn with a transaction-bound store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	snapshot := s.db.state.clone()
	if err := fn(ctx, &Store{db: s.db, inTx: true}); err != nil {
		s.db.state = snapshot
		return err
	}
	return nil
}

// Orders returns the order repository.
func (s *Store) Orders() ports.OrderRepository { return &orderRepository{store: s} }

// Payments returns the payment repository.
func (s *Store) Payments() ports.PaymentRepository { return &paymentRepository{store: s} }

// Inventory returns the stock ledger.
func (s *Store) Inventory() ports.InventoryLedger { return &ledger{store: s} }

// SeedVariant adds or replaces a catalog variant with the given stock on hand.
func (s *Store) SeedVariant(id, name string, price, stockOnHand int64, enabled bool) {
	_ = s.run(func(st *state) error {
		st.variants[id] = variantRow{name: name, price: price, enabled: enabled}
		level := st.stock[id]
		level.VariantID = id
		level.StockOnHand = stockOnHand
		st.stock[id] = level
		return nil
	})
}

// SetPrice changes a variant's catalog price.
func (s *Store) SetPrice(id string, price int64) {
	_ = s.run(func(st *state) error {
		row := st.variants[id]
		row.price = price
		st.variants[id] = row
		return nil
	})
}

// SeedShippingRate adds a city row to the shipping table. A nil express price disables express.
func (s *Store) SeedShippingRate(county, city string, standard int64, express *int64) {
	_ = s.run(func(st *state) error {
		st.rates[rateKey(county, city)] = domain.ShippingRate{
			County:        county,
			City:          city,
			StandardPrice: standard,
			ExpressPrice:  express,
		}
		return nil
	})
}

func rateKey(county, city string) string {
	return domain.NormalizePlace(county) + "|" + domain.NormalizePlace(city)
}

// UpsertVariant is the context-aware form of SeedVariant used by catalog seeding.
func (s *Store) UpsertVariant(_ context.Context, variant domain.Variant) error {
	s.SeedVariant(variant.ID, variant.Name, variant.Price, variant.StockOnHand, variant.Enabled)
	return nil
}

// UpsertShippingRate is the context-aware form of SeedShippingRate used by catalog seeding.
func (s *Store) UpsertShippingRate(_ context.Context, rate domain.ShippingRate) error {
	s.SeedShippingRate(rate.County, rate.City, rate.StandardPrice, rate.ExpressPrice)
	return nil
}
