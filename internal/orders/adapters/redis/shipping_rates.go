package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
	goredis "github.com/redis/go-redis/v9"
)

const keyShippingRate = "checkout:shipping_rate:%s|%s"

// Client is the subset of *goredis.Client used by the cache.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

// ShippingRates caches zone table rows in Redis in front of another ports.ShippingRates.
// Redis failures fall through to the wrapped source; missing destinations are not cached.
type ShippingRates struct {
	next   ports.ShippingRates
	client Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewShippingRates(next ports.ShippingRates, client Client, ttl time.Duration, logger *slog.Logger) *ShippingRates {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShippingRates{next: next, client: client, ttl: ttl, logger: logger}
}

func (c *ShippingRates) Rate(ctx context.Context, county, city string) (domain.ShippingRate, error) {
	key := fmt.Sprintf(keyShippingRate, domain.NormalizePlace(county), domain.NormalizePlace(city))

	cached, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rate domain.ShippingRate
		if err := json.Unmarshal(cached, &rate); err == nil {
			return rate, nil
		}
		c.logger.WarnContext(ctx, "discarding unreadable cached shipping rate", "key", key)
	case !errors.Is(err, goredis.Nil):
		c.logger.WarnContext(ctx, "shipping rate cache read failed", "key", key, "error", err)
	}

	rate, err := c.next.Rate(ctx, county, city)
	if err != nil {
		return domain.ShippingRate{}, err
	}

	data, err := json.Marshal(rate)
	if err != nil {
		return rate, nil
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "shipping rate cache write failed", "key", key, "error", err)
	}
	return rate, nil
}
