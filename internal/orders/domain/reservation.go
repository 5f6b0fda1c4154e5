package domain

import "time"

// ReservationState tracks whether held stock is still outstanding.
type ReservationState string

const (
	ReservationActive    ReservationState = "ACTIVE"
	ReservationCommitted ReservationState = "COMMITTED"
	ReservationReleased  ReservationState = "RELEASED"
)

// Reservation ties a reserved quantity of a variant to an order until commit or release.
// Its ID is the token handed to Commit and Release.
type Reservation struct {
	ID         string
	OrderID    string
	VariantID  string
	Quantity   int64
	State      ReservationState
	ExpiresAt  time.Time
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// StockLevel is the ledger's view of a variant.
type StockLevel struct {
	VariantID   string
	StockOnHand int64
	Reserved    int64
}

// Available is the quantity that can still be reserved.
func (s StockLevel) Available() int64 {
	return s.StockOnHand - s.Reserved
}
