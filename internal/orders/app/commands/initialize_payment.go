package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dejobratic/checkout/internal/orders/app/statemachine"
	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

// Actor identifies who issues a command.
type Actor struct {
	CustomerID string
	Email      string
	Admin      bool
}

func (a Actor) canAccess(order *domain.Order) bool {
	return a.Admin || order.OwnedBy(a.CustomerID)
}

type InitializePaymentCommand struct {
	OrderID string
	Actor   Actor
}

// PaymentInitialization is returned once the provider has opened a hosted transaction.
type PaymentInitialization struct {
	Order       *domain.Order
	Payment     domain.Payment
	RedirectURL string
}

// InitializePaymentCommandHandler opens a provider transaction and moves the order to
// PAYMENT_PENDING. Nothing is written unless the provider call succeeds. A retry first
// closes the sessions of earlier attempts, so at most one session per order is payable.
type InitializePaymentCommandHandler struct {
	store    ports.Store
	gateway  ports.PaymentGateway
	machine  *statemachine.Machine
	notifier *Notifier
	closer   *PaymentCloser
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

func NewInitializePaymentCommandHandler(
	store ports.Store,
	gateway ports.PaymentGateway,
	machine *statemachine.Machine,
	notifier *Notifier,
	closer *PaymentCloser,
	logger *slog.Logger,
	timeout time.Duration,
	now func() time.Time,
) *InitializePaymentCommandHandler {
	if now == nil {
		now = time.Now
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InitializePaymentCommandHandler{
		store:    store,
		gateway:  gateway,
		machine:  machine,
		notifier: notifier,
		closer:   closer,
		logger:   logger,
		timeout:  timeout,
		now:      now,
	}
}

func (h *InitializePaymentCommandHandler) Handle(ctx context.Context, cmd InitializePaymentCommand) (*PaymentInitialization, error) {
	if cmd.OrderID == "" {
		return nil, domain.NewValidationError("order_id", "is required")
	}

	order, err := h.store.Orders().GetByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if !cmd.Actor.canAccess(order) {
		return nil, domain.ErrForbidden
	}
	if order.State != domain.StateCreated && order.State != domain.StatePaymentPending {
		return nil, &domain.InvalidTransitionError{From: order.State, To: domain.StatePaymentPending}
	}

	if order.State == domain.StatePaymentPending {
		if order, err = h.closePrevious(ctx, order.ID); err != nil {
			return nil, err
		}
	}

	previous, err := h.store.Payments().ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	email := order.CustomerEmail
	if email == "" {
		email = cmd.Actor.Email
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, h.timeout)
	session, err := h.gateway.Initialize(gatewayCtx, ports.PaymentRequest{
		Order:         *order,
		CustomerEmail: email,
		Attempt:       len(previous) + 1,
	})
	cancel()
	if err != nil {
		return nil, externalError("initialize", err)
	}
	if session.Reference == "" || session.RedirectURL == "" {
		return nil, &domain.ExternalServiceError{Op: "initialize", Err: errors.New("provider returned an incomplete session")}
	}

	now := h.now().UTC()
	payment := domain.Payment{
		ID:                domain.NewPaymentID(),
		OrderID:           order.ID,
		Provider:          session.Provider,
		ProviderReference: session.Reference,
		State:             domain.PaymentPending,
		Amount:            order.Total,
		Currency:          order.Currency,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	var result statemachine.Result
	err = h.store.WithinTx(ctx, func(ctx context.Context, tx ports.Store) error {
		if err := tx.Payments().Create(ctx, payment); err != nil {
			return fmt.Errorf("persist payment: %w", err)
		}
		var err error
		result, err = h.machine.Apply(ctx, tx, order.ID, domain.StatePaymentPending, "")
		if err != nil {
			return err
		}
		return tx.Orders().SetProviderReference(ctx, order.ID, session.Reference, now)
	})
	if err != nil {
		// A duplicate reference means a concurrent retry already recorded this session.
		if !errors.Is(err, ports.ErrDuplicateReference) {
			h.discard(ctx, order.ID, session.Reference)
		}
		return nil, err
	}

	h.notifier.transitioned(ctx, order.ID, result, "")

	updated := *result.Order
	updated.ProviderReference = session.Reference
	return &PaymentInitialization{
		Order:       &updated,
		Payment:     payment,
		RedirectURL: session.RedirectURL,
	}, nil
}

// closePrevious expires the sessions of earlier attempts. When one of them was paid in the
// meantime the order moves on and no new attempt is opened.
func (h *InitializePaymentCommandHandler) closePrevious(ctx context.Context, orderID string) (*domain.Order, error) {
	inFlight, err := h.closer.CloseOpen(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("close previous payments: %w", err)
	}

	order, err := h.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.State != domain.StatePaymentPending {
		return nil, &domain.InvalidTransitionError{From: order.State, To: domain.StatePaymentPending}
	}
	if inFlight > 0 {
		return nil, domain.ErrPaymentInProgress
	}
	return order, nil
}

// discard expires a session whose payment row could not be stored, so it cannot be paid.
func (h *InitializePaymentCommandHandler) discard(ctx context.Context, orderID, reference string) {
	gatewayCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()
	if err := h.gateway.Expire(gatewayCtx, reference); err != nil {
		h.logger.ErrorContext(ctx, "failed to expire unrecorded payment session",
			"order_id", orderID,
			"reference", reference,
			"error", err,
		)
	}
}
