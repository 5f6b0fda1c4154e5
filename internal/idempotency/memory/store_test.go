package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/dejobratic/checkout/internal/orders/ports"
)

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key returns nil", func(t *testing.T) {
		got, err := NewStore().Get(ctx, "nope")
		if err != nil || got != nil {
			t.Fatalf("expected nil, nil; got %v, %v", got, err)
		}
	})

	t.Run("first response wins", func(t *testing.T) {
		store := NewStore()
		_ = store.Save(ctx, "k", ports.StoredResponse{StatusCode: 201, OrderID: "a", RequestHash: "h1"})
		_ = store.Save(ctx, "k", ports.StoredResponse{StatusCode: 409, OrderID: "b", RequestHash: "h2"})

		got, err := store.Get(ctx, "k")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.OrderID != "a" || got.RequestHash != "h1" {
			t.Fatalf("expected first response, got %+v", got)
		}
	})

	t.Run("stored body is isolated from callers", func(t *testing.T) {
		store := NewStore()
		body := []byte(`{"id":"a"}`)
		_ = store.Save(ctx, "k", ports.StoredResponse{StatusCode: 201, Body: body})
		body[0] = 'X'

		got, _ := store.Get(ctx, "k")
		if string(got.Body) != `{"id":"a"}` {
			t.Fatalf("stored body was mutated: %s", got.Body)
		}
	})
}

func TestStoreReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("second reservation sees the pending key", func(t *testing.T) {
		store := NewStore()
		if held, err := store.Reserve(ctx, "k", "h1"); err != nil || held != nil {
			t.Fatalf("expected to claim the key, got %+v, %v", held, err)
		}

		held, err := store.Reserve(ctx, "k", "h1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if held == nil || !held.Pending() || held.RequestHash != "h1" {
			t.Fatalf("expected pending entry, got %+v", held)
		}
	})

	t.Run("save completes the reservation", func(t *testing.T) {
		store := NewStore()
		_, _ = store.Reserve(ctx, "k", "h1")
		_ = store.Save(ctx, "k", ports.StoredResponse{StatusCode: 201, OrderID: "a", RequestHash: "h1"})

		held, _ := store.Reserve(ctx, "k", "h1")
		if held == nil || held.Pending() || held.OrderID != "a" {
			t.Fatalf("expected completed response, got %+v", held)
		}
	})

	t.Run("release frees only pending keys", func(t *testing.T) {
		store := NewStore()
		_, _ = store.Reserve(ctx, "pending", "h1")
		_ = store.Release(ctx, "pending")
		if held, _ := store.Reserve(ctx, "pending", "h2"); held != nil {
			t.Fatalf("expected released key to be claimable, got %+v", held)
		}

		_ = store.Save(ctx, "done", ports.StoredResponse{StatusCode: 201, OrderID: "a"})
		_ = store.Release(ctx, "done")
		if got, _ := store.Get(ctx, "done"); got == nil || got.OrderID != "a" {
			t.Fatalf("completed response was released: %+v", got)
		}
	})

	t.Run("one of many concurrent reservations wins", func(t *testing.T) {
		store := NewStore()
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			claimed int
		)
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				held, err := store.Reserve(ctx, "k", "h1")
				if err == nil && held == nil {
					mu.Lock()
					claimed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if claimed != 1 {
			t.Fatalf("expected exactly one claim, got %d", claimed)
		}
	})
}
