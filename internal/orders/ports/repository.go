package ports

import (
	"context"
	"errors"
	"time"

	"github.com/dejobratic/checkout/internal/orders/domain"
)

// Store groups the repositories that must change together and runs them in one transaction.
type Store interface {
	Orders() OrderRepository
	Payments() PaymentRepository
	Inventory() InventoryLedger
	// WithinTx runs fn in a transaction. The Store passed to fn is bound to it; a nested
	// call joins the outer transaction. Returning an error rolls everything back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// OrderRepository exposes persistence operations required by the application layer.
type OrderRepository interface {
	// Create persists the order together with its lines.
	Create(ctx context.Context, order domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	// GetForUpdate loads the order and locks it until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Order, error)
	// UpdateState applies the change only if the order is still in change.From.
	UpdateState(ctx context.Context, change StateChange) (bool, error)
	SetProviderReference(ctx context.Context, id, reference string, at time.Time) error
}

// StateChange is a conditional order state update.
type StateChange struct {
	OrderID string
	From    domain.State
	To      domain.State
	Reason  string
	At      time.Time
}

// PaymentRepository persists payment attempts.
type PaymentRepository interface {
	Create(ctx context.Context, payment domain.Payment) error
	GetByReference(ctx context.Context, reference string) (*domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	// MarkSettled settles the payment unless it already is. A second settled payment for the
	// same order fails with ErrDuplicateSettlement.
	MarkSettled(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkFailed fails a pending payment.
	MarkFailed(ctx context.Context, id string, at time.Time) (bool, error)
}

// ListFilter narrows list queries by state, customer and pagination.
type ListFilter struct {
	State      *domain.State
	CustomerID string
	Page       int
	PageSize   int
}

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateSettlement is returned when an order already has a settled payment.
	ErrDuplicateSettlement = errors.New("order already has a settled payment")
	// ErrDuplicateReference is returned when a provider reference is stored twice.
	ErrDuplicateReference = errors.New("duplicate provider reference")
)
