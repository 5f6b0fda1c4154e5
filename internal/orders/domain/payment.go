package domain

import "time"

// PaymentState is the lifecycle of a single payment attempt.
type PaymentState string

const (
	PaymentPending PaymentState = "PENDING"
	PaymentSettled PaymentState = "SETTLED"
	PaymentFailed  PaymentState = "FAILED"
)

// Payment is one attempt to pay an order through the provider.
type Payment struct {
	ID                string       `json:"id"`
	OrderID           string       `json:"order_id"`
	Provider          string       `json:"provider"`
	ProviderReference string       `json:"provider_reference"`
	State             PaymentState `json:"state"`
	Amount            int64        `json:"amount"`
	Currency          string       `json:"currency"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	SettledAt         *time.Time   `json:"settled_at,omitempty"`
}

// ProviderStatus is the provider's authoritative view of a transaction.
type ProviderStatus string

const (
	ProviderPending    ProviderStatus = "PENDING"
	ProviderAuthorized ProviderStatus = "AUTHORIZED"
	ProviderSettled    ProviderStatus = "SETTLED"
	ProviderFailed     ProviderStatus = "FAILED"
)

// PaymentVerification is the result of asking the provider about a reference.
type PaymentVerification struct {
	Reference string
	Status    ProviderStatus
	Amount    int64
	Currency  string
}

// PaymentSession is returned by the provider when a hosted transaction is created.
type PaymentSession struct {
	Provider    string
	Reference   string
	RedirectURL string
	ExpiresAt   time.Time
}
