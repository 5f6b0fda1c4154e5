package domain

// State captures the lifecycle of an order.
type State string

const (
	StateCreated           State = "CREATED"
	StatePaymentPending    State = "PAYMENT_PENDING"
	StatePaymentAuthorized State = "PAYMENT_AUTHORIZED"
	StatePaymentSettled    State = "PAYMENT_SETTLED"
	StateShipped           State = "SHIPPED"
	StateDelivered         State = "DELIVERED"
	StateCancelled         State = "CANCELLED"
)

var transitions = map[State][]State{
	StateCreated:           {StatePaymentPending, StateCancelled},
	StatePaymentPending:    {StatePaymentAuthorized, StatePaymentSettled, StateCancelled},
	StatePaymentAuthorized: {StatePaymentSettled, StateCancelled},
	StatePaymentSettled:    {StateShipped},
	StateShipped:           {StateDelivered},
	StateDelivered:         {},
	StateCancelled:         {},
}

// Valid reports whether s is a known order state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the graph has an edge from -> to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an *InvalidTransitionError when from -> to is not an edge.
func CheckTransition(from, to State) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}
