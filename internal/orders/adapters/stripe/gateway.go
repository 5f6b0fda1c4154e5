package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

// Provider is stored on every payment created through this adapter.
const Provider = "stripe"

// Stripe only accepts checkout session expiry between 30 minutes and 24 hours from creation.
const (
	minSessionTTL = 31 * time.Minute
	maxSessionTTL = 24 * time.Hour
)

type sessionAPI interface {
	New(params *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error)
	Get(id string, params *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error)
	Expire(id string, params *stripego.CheckoutSessionExpireParams) (*stripego.CheckoutSession, error)
}

// Config configures the hosted checkout gateway.
type Config struct {
	SecretKey string
	// SuccessURL may contain {CHECKOUT_SESSION_ID}, which Stripe replaces with the session id.
	SuccessURL string
	CancelURL  string
	SessionTTL time.Duration
	Backends   *stripego.Backends
	Now        func() time.Time
}

// Gateway opens Stripe Checkout sessions and reads them back for reconciliation.
type Gateway struct {
	sessions   sessionAPI
	successURL string
	cancelURL  string
	ttl        time.Duration
	now        func() time.Time
}

func NewGateway(cfg Config) (*Gateway, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	return newGateway(client.New(key, cfg.Backends).CheckoutSessions, cfg)
}

func newGateway(sessions sessionAPI, cfg Config) (*Gateway, error) {
	if cfg.SuccessURL == "" || cfg.CancelURL == "" {
		return nil, errors.New("stripe: success and cancel urls are required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gateway{
		sessions:   sessions,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		ttl:        clampTTL(cfg.SessionTTL),
		now:        now,
	}, nil
}

func clampTTL(ttl time.Duration) time.Duration {
	return min(max(ttl, minSessionTTL), maxSessionTTL)
}

func (g *Gateway) Initialize(ctx context.Context, req ports.PaymentRequest) (domain.PaymentSession, error) {
	order := req.Order
	currency := strings.ToLower(order.Currency)
	expiresAt := g.now().Add(g.ttl)

	params := &stripego.CheckoutSessionParams{
		Mode:              stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL:        stripego.String(g.successURL),
		CancelURL:         stripego.String(g.cancelURL),
		ClientReferenceID: stripego.String(order.ID),
		ExpiresAt:         stripego.Int64(expiresAt.Unix()),
		LineItems:         lineItems(order, currency),
	}
	params.Context = ctx
	params.SetIdempotencyKey(fmt.Sprintf("order:%s:attempt:%d", order.ID, req.Attempt))
	params.AddMetadata("order_id", order.ID)
	params.AddMetadata("order_code", order.Code)
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripego.String(req.CustomerEmail)
	}

	session, err := g.sessions.New(params)
	if err != nil {
		return domain.PaymentSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	result := domain.PaymentSession{
		Provider:    Provider,
		Reference:   session.ID,
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt.UTC(),
	}
	if session.ExpiresAt > 0 {
		result.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return result, nil
}

// lineItems mirrors the frozen order lines, adding shipping and tax so the session total equals the order total.
func lineItems(order domain.Order, currency string) []*stripego.CheckoutSessionLineItemParams {
	items := make([]*stripego.CheckoutSessionLineItemParams, 0, len(order.Lines)+2)
	for _, line := range order.Lines {
		items = append(items, lineItem(line.Name, currency, line.UnitPrice, line.Quantity, map[string]string{"variant_id": line.VariantID}))
	}
	if order.ShippingCost > 0 {
		items = append(items, lineItem("Shipping ("+order.ShippingMethod+")", currency, order.ShippingCost, 1, nil))
	}
	if order.Tax > 0 {
		items = append(items, lineItem("Tax", currency, order.Tax, 1, nil))
	}
	return items
}

func lineItem(name, currency string, unitAmount, quantity int64, metadata map[string]string) *stripego.CheckoutSessionLineItemParams {
	return &stripego.CheckoutSessionLineItemParams{
		Quantity: stripego.Int64(quantity),
		PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripego.String(currency),
			UnitAmount: stripego.Int64(unitAmount),
			ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
				Name:     stripego.String(name),
				Metadata: metadata,
			},
		},
	}
}

func (g *Gateway) Verify(ctx context.Context, reference string) (domain.PaymentVerification, error) {
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx

	session, err := g.sessions.Get(reference, params)
	if err != nil {
		return domain.PaymentVerification{}, fmt.Errorf("stripe: get checkout session %s: %w", reference, err)
	}

	return domain.PaymentVerification{
		Reference: session.ID,
		Status:    sessionStatus(session),
		Amount:    session.AmountTotal,
		Currency:  strings.ToUpper(string(session.Currency)),
	}, nil
}

// Expire closes an open session. Stripe refuses to expire sessions that are no longer open, so a
// failed call is followed by a read to tell an already expired session from a completed one.
func (g *Gateway) Expire(ctx context.Context, reference string) error {
	params := &stripego.CheckoutSessionExpireParams{}
	params.Context = ctx

	_, expireErr := g.sessions.Expire(reference, params)
	if expireErr == nil {
		return nil
	}

	getParams := &stripego.CheckoutSessionParams{}
	getParams.Context = ctx
	session, err := g.sessions.Get(reference, getParams)
	if err != nil {
		return fmt.Errorf("stripe: expire checkout session %s: %w", reference, expireErr)
	}

	switch session.Status {
	case stripego.CheckoutSessionStatusExpired:
		return nil
	case stripego.CheckoutSessionStatusComplete:
		return fmt.Errorf("stripe: checkout session %s: %w", reference, ports.ErrSessionCompleted)
	default:
		return fmt.Errorf("stripe: expire checkout session %s: %w", reference, expireErr)
	}
}

func sessionStatus(session *stripego.CheckoutSession) domain.ProviderStatus {
	switch {
	case session.PaymentStatus == stripego.CheckoutSessionPaymentStatusPaid,
		session.PaymentStatus == stripego.CheckoutSessionPaymentStatusNoPaymentRequired:
		return domain.ProviderSettled
	case session.Status == stripego.CheckoutSessionStatusComplete:
		return domain.ProviderAuthorized
	case session.Status == stripego.CheckoutSessionStatusExpired:
		return domain.ProviderFailed
	default:
		return domain.ProviderPending
	}
}
