// Package seed loads the product catalog and shipping zone table from a YAML file.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

type Variant struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Price       int64  `yaml:"price"`
	StockOnHand int64  `yaml:"stock_on_hand"`
	Enabled     *bool  `yaml:"enabled"`
}

type ShippingRate struct {
	County        string `yaml:"county"`
	City          string `yaml:"city"`
	StandardPrice int64  `yaml:"standard_price"`
	ExpressPrice  *int64 `yaml:"express_price"`
}

type File struct {
	Variants      []Variant      `yaml:"variants"`
	ShippingRates []ShippingRate `yaml:"shipping_rates"`
}

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	var errs []error
	seen := make(map[string]bool, len(f.Variants))
	for i, v := range f.Variants {
		switch {
		case strings.TrimSpace(v.ID) == "":
			errs = append(errs, fmt.Errorf("variants[%d]: id is required", i))
		case seen[v.ID]:
			errs = append(errs, fmt.Errorf("variants[%d]: duplicate id %q", i, v.ID))
		}
		seen[v.ID] = true
		if v.Price < 0 || v.StockOnHand < 0 {
			errs = append(errs, fmt.Errorf("variants[%d]: price and stock must not be negative", i))
		}
	}
	for i, r := range f.ShippingRates {
		if domain.NormalizePlace(r.County) == "" || domain.NormalizePlace(r.City) == "" {
			errs = append(errs, fmt.Errorf("shipping_rates[%d]: county and city are required", i))
		}
		if r.StandardPrice < 0 || (r.ExpressPrice != nil && *r.ExpressPrice < 0) {
			errs = append(errs, fmt.Errorf("shipping_rates[%d]: prices must not be negative", i))
		}
	}
	return errors.Join(errs...)
}

// Apply writes every variant and rate. Variants default to enabled.
func (f *File) Apply(ctx context.Context, w ports.CatalogWriter) error {
	for _, v := range f.Variants {
		enabled := v.Enabled == nil || *v.Enabled
		if err := w.UpsertVariant(ctx, domain.Variant{
			ID:          v.ID,
			Name:        v.Name,
			Price:       v.Price,
			Enabled:     enabled,
			StockOnHand: v.StockOnHand,
		}); err != nil {
			return fmt.Errorf("seed variant %s: %w", v.ID, err)
		}
	}
	for _, r := range f.ShippingRates {
		if err := w.UpsertShippingRate(ctx, domain.ShippingRate{
			County:        r.County,
			City:          r.City,
			StandardPrice: r.StandardPrice,
			ExpressPrice:  r.ExpressPrice,
		}); err != nil {
			return fmt.Errorf("seed shipping rate %s/%s: %w", r.County, r.City, err)
		}
	}
	return nil
}
