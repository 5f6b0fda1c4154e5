package ports

import (
	"context"
	"errors"

	"github.com/dejobratic/checkout/internal/orders/domain"
)

// ErrSessionCompleted is returned by Expire when the customer already finished the hosted
// session, so it can no longer be closed and must be reconciled instead.
var ErrSessionCompleted = errors.New("payment session already completed")

// PaymentRequest describes a hosted transaction to open for an order.
type PaymentRequest struct {
	Order         domain.Order
	CustomerEmail string
	// Attempt numbers retries so each one gets its own provider idempotency key.
	Attempt int
}

// PaymentGateway is the boundary to the external payment provider.
type PaymentGateway interface {
	Initialize(ctx context.Context, req PaymentRequest) (domain.PaymentSession, error)
	Verify(ctx context.Context, reference string) (domain.PaymentVerification, error)
	// Expire closes an open hosted session so it can no longer be paid. Expiring an already
	// expired session succeeds.
	Expire(ctx context.Context, reference string) error
}

// WebhookEvent is the narrow, validated view of a provider notification.
type WebhookEvent struct {
	ID        string
	Type      string
	Reference string
	// Relevant is false for event types reconciliation does not act on.
	Relevant bool
	// ClaimedStatus is what the payload asserts; it is cross-checked against Verify.
	ClaimedStatus domain.ProviderStatus
}

// WebhookParser authenticates and decodes provider notifications.
type WebhookParser interface {
	// Parse fails with domain.ErrInvalidSignature before decoding anything when the signature
	// does not match the payload.
	Parse(payload []byte, signature string) (WebhookEvent, error)
}
