package ports

import (
	"context"
	"errors"
)

// StoredResponse contains the response data to replay for a reused key.
type StoredResponse struct {
	StatusCode int
	Body       []byte
	OrderID    string
	// RequestHash fingerprints the request that produced the response.
	RequestHash string
}

// Pending reports whether the key is reserved by a request that has not finished yet.
func (r *StoredResponse) Pending() bool {
	return r.StatusCode == 0
}

var (
	// ErrIdempotencyConflict is returned when a key is reused with a different request.
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")
	// ErrIdempotencyInProgress is returned while another request holding the same key is running.
	ErrIdempotencyInProgress = errors.New("request with this idempotency key is in progress")
)

// IdempotencyStore lets checkout be retried safely by the client. A key is reserved before the
// request runs and filled in with its response afterwards, so concurrent duplicates run once.
type IdempotencyStore interface {
	// Reserve claims key for the request fingerprinted by requestHash and returns nil. When the
	// key is already held it returns the held entry instead, which may still be pending.
	Reserve(ctx context.Context, key, requestHash string) (*StoredResponse, error)
	// Save fills in the response of a reserved key.
	Save(ctx context.Context, key string, response StoredResponse) error
	// Release drops a pending reservation so the key can be used again.
	Release(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (*StoredResponse, error)
}
