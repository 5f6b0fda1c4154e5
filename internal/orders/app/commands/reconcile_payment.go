package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dejobratic/checkout/internal/orders/app/statemachine"
	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

// Outcome classifies an acknowledged reconciliation.
type Outcome string

const (
	OutcomeSettled    Outcome = "settled"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeAuthorized Outcome = "authorized"
	OutcomeFailed     Outcome = "failed"
	OutcomePending    Outcome = "pending"
	OutcomeIgnored    Outcome = "ignored"
)

// Ack is returned when a notification or return callback has been handled.
type Ack struct {
	Outcome   Outcome      `json:"outcome"`
	Reference string       `json:"reference,omitempty"`
	OrderID   string       `json:"order_id,omitempty"`
	State     domain.State `json:"state,omitempty"`
}

// PaymentReconciler is the contract shared by the reconciler and its decorators.
type PaymentReconciler interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (Ack, error)
	HandleReturn(ctx context.Context, reference string) (Ack, error)
}

// Reconciler drives order state from provider notifications and return callbacks.
// Every path asks the provider to verify the reference before changing anything, and the
// conditional settlement write makes repeated deliveries converge on one effect.
type Reconciler struct {
	store    ports.Store
	gateway  ports.PaymentGateway
	parser   ports.WebhookParser
	machine  *statemachine.Machine
	notifier *Notifier
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

func NewReconciler(
	store ports.Store,
	gateway ports.PaymentGateway,
	parser ports.WebhookParser,
	machine *statemachine.Machine,
	notifier *Notifier,
	logger *slog.Logger,
	timeout time.Duration,
	now func() time.Time,
) *Reconciler {
	if now == nil {
		now = time.Now
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    store,
		gateway:  gateway,
		parser:   parser,
		machine:  machine,
		notifier: notifier,
		logger:   logger,
		timeout:  timeout,
		now:      now,
	}
}

// HandleWebhook authenticates the payload, then reconciles the referenced payment.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (Ack, error) {
	event, err := r.parser.Parse(payload, signature)
	if err != nil {
		return Ack{}, err
	}
	if !event.Relevant {
		return Ack{Outcome: OutcomeIgnored, Reference: event.Reference}, nil
	}
	if event.Reference == "" {
		return Ack{}, &domain.ExternalServiceError{Op: "webhook", Err: errors.New("event carries no payment reference")}
	}
	return r.reconcile(ctx, event.Reference, event.ClaimedStatus)
}

// HandleReturn reconciles after the customer is redirected back from the provider.
// The redirect itself is never trusted; only Verify decides.
func (r *Reconciler) HandleReturn(ctx context.Context, reference string) (Ack, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Ack{}, domain.NewValidationError("reference", "is required")
	}
	return r.reconcile(ctx, reference, "")
}

func (r *Reconciler) reconcile(ctx context.Context, reference string, claimed domain.ProviderStatus) (Ack, error) {
	payment, err := r.store.Payments().GetByReference(ctx, reference)
	if errors.Is(err, ports.ErrNotFound) {
		return Ack{}, fmt.Errorf("reconcile %s: %w", reference, domain.ErrUnknownReference)
	}
	if err != nil {
		return Ack{}, fmt.Errorf("load payment: %w", err)
	}

	ack := Ack{Reference: reference, OrderID: payment.OrderID}
	if payment.State == domain.PaymentSettled {
		return r.duplicate(ctx, ack)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, r.timeout)
	verification, err := r.gateway.Verify(verifyCtx, reference)
	cancel()
	if err != nil {
		return Ack{}, externalError("verify", err)
	}

	if claimed == domain.ProviderSettled && verification.Status != domain.ProviderSettled {
		return Ack{}, r.mismatch(ctx, payment, fmt.Sprintf("notification claims settled, provider reports %s", verification.Status))
	}

	switch verification.Status {
	case domain.ProviderSettled:
		return r.settle(ctx, payment, verification, ack)
	case domain.ProviderAuthorized:
		return r.authorize(ctx, payment, ack)
	case domain.ProviderFailed:
		return r.fail(ctx, payment, ack)
	default:
		ack.Outcome = OutcomePending
		return r.withOrderState(ctx, ack), nil
	}
}

func (r *Reconciler) settle(ctx context.Context, payment *domain.Payment, v domain.PaymentVerification, ack Ack) (Ack, error) {
	if v.Amount != payment.Amount || (v.Currency != "" && !strings.EqualFold(v.Currency, payment.Currency)) {
		return Ack{}, r.mismatch(ctx, payment, fmt.Sprintf("provider reports %d %s, expected %d %s", v.Amount, v.Currency, payment.Amount, payment.Currency))
	}

	var (
		result  statemachine.Result
		settled bool
	)
	err := r.store.WithinTx(ctx, func(ctx context.Context, tx ports.Store) error {
		var err error
		settled, err = tx.Payments().MarkSettled(ctx, payment.ID, r.now().UTC())
		if err != nil || !settled {
			return err
		}
		result, err = r.machine.Apply(ctx, tx, payment.OrderID, domain.StatePaymentSettled, "")
		return err
	})
	switch {
	case errors.Is(err, ports.ErrDuplicateSettlement):
		return Ack{}, r.mismatch(ctx, payment, "order already has another settled payment")
	case errors.Is(err, domain.ErrInvalidTransition):
		return Ack{}, r.mismatch(ctx, payment, err.Error())
	case err != nil:
		return Ack{}, fmt.Errorf("settle payment: %w", err)
	case !settled:
		return r.duplicate(ctx, ack)
	}

	r.notifier.transitioned(ctx, payment.OrderID, result, "")
	r.notifier.reconciled(ctx, payment.ProviderReference, OutcomeSettled)

	ack.Outcome = OutcomeSettled
	ack.State = result.Order.State
	return ack, nil
}

func (r *Reconciler) authorize(ctx context.Context, payment *domain.Payment, ack Ack) (Ack, error) {
	result, err := r.machine.Transition(ctx, r.store, payment.OrderID, domain.StatePaymentAuthorized, "")
	if errors.Is(err, domain.ErrInvalidTransition) {
		r.logger.WarnContext(ctx, "authorization does not apply to order",
			"order_id", payment.OrderID,
			"reference", payment.ProviderReference,
			"error", err,
		)
		ack.Outcome = OutcomeIgnored
		return r.withOrderState(ctx, ack), nil
	}
	if err != nil {
		return Ack{}, fmt.Errorf("authorize payment: %w", err)
	}

	r.notifier.transitioned(ctx, payment.OrderID, result, "")
	r.notifier.reconciled(ctx, payment.ProviderReference, OutcomeAuthorized)

	ack.Outcome = OutcomeAuthorized
	ack.State = result.Order.State
	return ack, nil
}

func (r *Reconciler) fail(ctx context.Context, payment *domain.Payment, ack Ack) (Ack, error) {
	failed, err := r.store.Payments().MarkFailed(ctx, payment.ID, r.now().UTC())
	if err != nil {
		return Ack{}, fmt.Errorf("fail payment: %w", err)
	}
	if failed {
		r.notifier.reconciled(ctx, payment.ProviderReference, OutcomeFailed)
	}
	ack.Outcome = OutcomeFailed
	return r.withOrderState(ctx, ack), nil
}

func (r *Reconciler) duplicate(ctx context.Context, ack Ack) (Ack, error) {
	ack.Outcome = OutcomeDuplicate
	return r.withOrderState(ctx, ack), nil
}

func (r *Reconciler) mismatch(ctx context.Context, payment *domain.Payment, detail string) error {
	r.logger.ErrorContext(ctx, "payment reconciliation mismatch",
		"order_id", payment.OrderID,
		"payment_id", payment.ID,
		"reference", payment.ProviderReference,
		"detail", detail,
	)
	return fmt.Errorf("reconcile %s: %s: %w", payment.ProviderReference, detail, domain.ErrReconciliationMismatch)
}

func (r *Reconciler) withOrderState(ctx context.Context, ack Ack) Ack {
	if order, err := r.store.Orders().GetByID(ctx, ack.OrderID); err == nil {
		ack.State = order.State
	}
	return ack
}
