package ports

import (
	"context"
	"time"

	"github.com/dejobratic/checkout/internal/orders/domain"
)

// InventoryLedger is the authoritative record of stock on hand and outstanding reservations.
type InventoryLedger interface {
	// Reserve holds qty units of the variant for the order. The check against available stock
	// and the increment happen in a single conditional write; a shortfall yields *domain.OutOfStockError.
	Reserve(ctx context.Context, orderID, variantID string, qty int64, expiresAt time.Time) (domain.Reservation, error)
	// Commit decrements stock on hand by the reserved quantity. It reports false when the
	// reservation was already resolved.
	Commit(ctx context.Context, reservationID string, at time.Time) (bool, error)
	// Release drops the reservation without touching stock on hand. It reports false when the
	// reservation was already resolved.
	Release(ctx context.Context, reservationID string, at time.Time) (bool, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error)
	// ListExpired returns active reservations whose expiry is before now, oldest first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
	StockLevel(ctx context.Context, variantID string) (domain.StockLevel, error)
}

// Catalog is the read side of the product catalog.
type Catalog interface {
	// GetVariants returns the variants that exist among ids, keyed by id.
	GetVariants(ctx context.Context, ids []string) (map[string]domain.Variant, error)
}

// ShippingRates reads the shipping zone table.
type ShippingRates interface {
	// Rate returns the row for an exact, normalised (county, city) pair or ErrNotFound.
	Rate(ctx context.Context, county, city string) (domain.ShippingRate, error)
}

// CatalogWriter loads variants, stock and shipping rates from seed data.
type CatalogWriter interface {
	UpsertVariant(ctx context.Context, variant domain.Variant) error
	UpsertShippingRate(ctx context.Context, rate domain.ShippingRate) error
}
