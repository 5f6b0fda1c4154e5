package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
	"github.com/jackc/pgx/v5"
)

// GetVariants implements ports.Catalog. Variants without an inventory row report zero stock.
func (s *Store) GetVariants(ctx context.Context, ids []string) (variants map[string]domain.Variant, err error) {
	defer s.observe(ctx, "get_variants", time.Now(), &err)

	variants = make(map[string]domain.Variant, len(ids))
	if len(ids) == 0 {
		return variants, nil
	}

	query := `
		SELECT v.id, v.name, v.price, v.enabled,
		       COALESCE(i.stock_on_hand, 0), COALESCE(i.stock_on_hand - i.reserved, 0)
		FROM product_variants v
		LEFT JOIN inventory i ON i.variant_id = v.id
		WHERE v.id = ANY($1)
	`

	rows, err := s.q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.Name, &v.Price, &v.Enabled, &v.StockOnHand, &v.Available); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		variants[v.ID] = v
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}

	return variants, nil
}

// Rate implements ports.ShippingRates. Lookups use the normalised county and city.
func (s *Store) Rate(ctx context.Context, county, city string) (rate domain.ShippingRate, err error) {
	defer s.observe(ctx, "get_shipping_rate", time.Now(), &err)

	query := `
		SELECT display_county, display_city, standard_price, express_price
		FROM shipping_rates
		WHERE county = $1 AND city = $2
	`

	err = s.q.QueryRow(ctx, query, domain.NormalizePlace(county), domain.NormalizePlace(city)).Scan(
		&rate.County,
		&rate.City,
		&rate.StandardPrice,
		&rate.ExpressPrice,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ShippingRate{}, ports.ErrNotFound
	}
	if err != nil {
		return domain.ShippingRate{}, fmt.Errorf("select shipping rate: %w", err)
	}
	return rate, nil
}

// UpsertVariant creates or updates a catalog variant and sets its stock on hand.
func (s *Store) UpsertVariant(ctx context.Context, variant domain.Variant) (err error) {
	defer s.observe(ctx, "upsert_variant", time.Now(), &err)

	return s.WithinTx(ctx, func(ctx context.Context, tx ports.Store) error {
		q := tx.(*Store).q
		if _, err := q.Exec(ctx, `
			INSERT INTO product_variants (id, name, price, enabled)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, price = EXCLUDED.price, enabled = EXCLUDED.enabled, updated_at = NOW()
		`, variant.ID, variant.Name, variant.Price, variant.Enabled); err != nil {
			return fmt.Errorf("upsert variant: %w", err)
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO inventory (variant_id, stock_on_hand)
			VALUES ($1, $2)
			ON CONFLICT (variant_id) DO UPDATE SET stock_on_hand = EXCLUDED.stock_on_hand
		`, variant.ID, variant.StockOnHand); err != nil {
			return fmt.Errorf("upsert inventory: %w", err)
		}
		return nil
	})
}

// UpsertShippingRate stores a rate row keyed by the normalised county and city.
func (s *Store) UpsertShippingRate(ctx context.Context, rate domain.ShippingRate) (err error) {
	defer s.observe(ctx, "upsert_shipping_rate", time.Now(), &err)

	query := `
		INSERT INTO shipping_rates (county, city, display_county, display_city, standard_price, express_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (county, city) DO UPDATE
		SET display_county = EXCLUDED.display_county,
		    display_city = EXCLUDED.display_city,
		    standard_price = EXCLUDED.standard_price,
		    express_price = EXCLUDED.express_price
	`

	_, err = s.q.Exec(ctx, query,
		domain.NormalizePlace(rate.County),
		domain.NormalizePlace(rate.City),
		rate.County,
		rate.City,
		rate.StandardPrice,
		rate.ExpressPrice,
	)
	if err != nil {
		return fmt.Errorf("upsert shipping rate: %w", err)
	}
	return nil
}
