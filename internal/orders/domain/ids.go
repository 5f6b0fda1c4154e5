package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewOrderID returns a lexicographically sortable order identifier.
func NewOrderID() string {
	return ulid.Make().String()
}

// NewOrderCode returns a human-readable order code such as ORD-3FA94C1B7D.
func NewOrderCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "ORD-" + strings.ToUpper(hex.EncodeToString(buf)), nil
}

// NewPaymentID returns a payment identifier.
func NewPaymentID() string {
	return uuid.NewString()
}

// NewReservationID returns the token identifying a stock reservation.
func NewReservationID() string {
	return uuid.NewString()
}
