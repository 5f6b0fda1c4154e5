package ports

import "context"

// EventBus defines the contract for publishing checkout lifecycle events.
type EventBus interface {
	PublishOrderCreated(ctx context.Context, orderID string) error
	PublishOrderStateChanged(ctx context.Context, change StateChange) error
	PublishPaymentReconciled(ctx context.Context, reference, outcome string) error
}
