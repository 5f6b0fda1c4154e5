package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

const defaultTolerance = 5 * time.Minute

const (
	eventSessionCompleted      = "checkout.session.completed"
	eventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	eventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	eventSessionExpired        = "checkout.session.expired"
)

// sessionPayload is the only part of the event body reconciliation reads.
type sessionPayload struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

// WebhookParser verifies Stripe-Signature headers and extracts the checkout session reference.
type WebhookParser struct {
	secret    string
	tolerance time.Duration
}

func NewWebhookParser(secret string, tolerance time.Duration) *WebhookParser {
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &WebhookParser{secret: secret, tolerance: tolerance}
}

func (p *WebhookParser) Parse(payload []byte, signature string) (ports.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return ports.WebhookEvent{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
		}
		return ports.WebhookEvent{}, &domain.ExternalServiceError{Op: "webhook", Err: err}
	}

	result := ports.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	claimed, relevant := claimedStatus(result.Type)
	if !relevant {
		return result, nil
	}
	if event.Data == nil {
		return ports.WebhookEvent{}, &domain.ExternalServiceError{Op: "webhook", Err: errors.New("event has no data")}
	}

	var session sessionPayload
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return ports.WebhookEvent{}, &domain.ExternalServiceError{Op: "webhook", Err: fmt.Errorf("decode checkout session: %w", err)}
	}
	if session.ID == "" {
		return ports.WebhookEvent{}, &domain.ExternalServiceError{Op: "webhook", Err: errors.New("checkout session has no id")}
	}

	if result.Type == eventSessionCompleted && session.PaymentStatus == "unpaid" {
		claimed = domain.ProviderAuthorized
	}
	result.Relevant = true
	result.Reference = session.ID
	result.ClaimedStatus = claimed
	return result, nil
}

func claimedStatus(eventType string) (domain.ProviderStatus, bool) {
	switch eventType {
	case eventSessionCompleted, eventAsyncPaymentSucceeded:
		return domain.ProviderSettled, true
	case eventAsyncPaymentFailed, eventSessionExpired:
		return domain.ProviderFailed, true
	default:
		return "", false
	}
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}
