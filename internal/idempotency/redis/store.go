package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/orders/ports"
	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "checkout:idempotency:"

	// reservationLease bounds how long a pending key survives a process that died mid-request.
	reservationLease = 2 * time.Minute
)

// Client is the subset of *goredis.Client used by the store.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// Store keeps checkout responses in Redis for ttl. Keys are claimed with SET NX, so only the
// request holding the reservation ever writes the response.
type Store struct {
	client Client
	ttl    time.Duration
}

func NewStore(client Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) Reserve(ctx context.Context, key, requestHash string) (*ports.StoredResponse, error) {
	pending, err := json.Marshal(ports.StoredResponse{RequestHash: requestHash})
	if err != nil {
		return nil, fmt.Errorf("encode idempotency key: %w", err)
	}

	// A released or expired key can vanish between SET NX and GET; claim it again.
	for range 3 {
		claimed, err := s.client.SetNX(ctx, keyPrefix+key, pending, min(reservationLease, s.ttl)).Result()
		if err != nil {
			return nil, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if claimed {
			return nil, nil
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
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}

	var resp ports.StoredResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode idempotency key: %w", err)
	}
	return &resp, nil
}

// Save writes the response over the pending reservation and keeps it for the full ttl.
func (s *Store) Save(ctx context.Context, key string, response ports.StoredResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("encode idempotency key: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
