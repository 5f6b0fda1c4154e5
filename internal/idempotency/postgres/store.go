package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/orders/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// reservationLease is how long a pending key blocks duplicates before another request may take
// it over, so a process that died mid-request does not hold the key forever.
const reservationLease = 2 * time.Minute

// Store keeps checkout responses in idempotency_keys. A pending key has status_code 0.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Reserve(ctx context.Context, key, requestHash string) (*ports.StoredResponse, error) {
	query := `
		INSERT INTO idempotency_keys (key, status_code, body, request_hash)
		VALUES ($1, 0, ''::bytea, $2)
		ON CONFLICT (key) DO UPDATE
			SET request_hash = EXCLUDED.request_hash, created_at = NOW()
			WHERE idempotency_keys.status_code = 0
				AND idempotency_keys.created_at < NOW() - make_interval(secs => $3)
		RETURNING key
	`

	// A released key can vanish between the insert and the read; claim it again.
	for range 3 {
		var claimed string
		err := s.pool.QueryRow(ctx, query, key, requestHash, reservationLease.Seconds()).Scan(&claimed)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("reserve idempotency key: %w", err)
		}

		held, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if held != nil {
			return held, nil
		}
	}
	return nil, fmt.Errorf("reserve idempotency key %s: %w", key, ports.ErrIdempotencyInProgress)
}

func (s *Store) Get(ctx context.Context, key string) (*ports.StoredResponse, error) {
	query := `
		SELECT status_code, body, COALESCE(order_id, ''), request_hash
		FROM idempotency_keys
		WHERE key = $1
	`

	var resp ports.StoredResponse
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&resp.StatusCode,
		&resp.Body,
		&resp.OrderID,
		&resp.RequestHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select idempotency key: %w", err)
	}

	return &resp, nil
}

// Save fills in a pending key, or inserts the response when the key was never reserved.
// A completed response is never replaced.
func (s *Store) Save(ctx context.Context, key string, response ports.StoredResponse) error {
	query := `
		INSERT INTO idempotency_keys (key, status_code, body, order_id, request_hash)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (key) DO UPDATE
			SET status_code = EXCLUDED.status_code,
				body = EXCLUDED.body,
				order_id = EXCLUDED.order_id,
				request_hash = EXCLUDED.request_hash
			WHERE idempotency_keys.status_code = 0
	`

	_, err := s.pool.Exec(ctx, query, key, response.StatusCode, response.Body, response.OrderID, response.RequestHash)
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", err)
	}

	return nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND status_code = 0`, key)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
