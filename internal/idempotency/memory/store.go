package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/dejobratic/checkout/internal/orders/ports"
)

// Store retains checkout responses for replaying duplicate requests.
type Store struct {
	mu    sync.RWMutex
	items map[string]ports.StoredResponse
}

// NewStore creates a new in-memory idempotency store.
func NewStore() *Store {
	return &Store{items: make(map[string]ports.StoredResponse)}
}

// Reserve claims key unless it is already held.
func (s *Store) Reserve(_ context.Context, key, requestHash string) (*ports.StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.items[key]; ok {
		held.Body = slices.Clone(held.Body)
		return &held, nil
	}
	s.items[key] = ports.StoredResponse{RequestHash: requestHash}
	return nil, nil
}

// Get returns the stored response for a given key if present.
func (s *Store) Get(_ context.Context, key string) (*ports.StoredResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	value.Body = slices.Clone(value.Body)
	return &value, nil
}

// Save stores the response unless the key already has one.
func (s *Store) Save(_ context.Context, key string, response ports.StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, exists := s.items[key]; exists && !held.Pending() {
		return nil
	}
	response.Body = slices.Clone(response.Body)
	s.items[key] = response
	return nil
}

// Release forgets a pending key. Completed responses are kept.
func (s *Store) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, exists := s.items[key]; exists && held.Pending() {
		delete(s.items, key)
	}
	return nil
}
