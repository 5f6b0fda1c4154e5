package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dejobratic/checkout/internal/orders/adapters/memory"
)

const sample = `
variants:
  - id: V1
    name: Mug
    price: 5000
    stock_on_hand: 10
  - id: V2
    name: Poster
    price: 1200
    stock_on_hand: 1
    enabled: false
shipping_rates:
  - county: Nairobi
    city: Nairobi
    standard_price: 300
    express_price: 700
  - county: Kisumu
    city: Kisumu
    standard_price: 500
`

func TestParse(t *testing.T) {
	t.Run("reads variants and rates", func(t *testing.T) {
		f, err := Parse([]byte(sample))
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if len(f.Variants) != 2 || len(f.ShippingRates) != 2 {
			t.Fatalf("unexpected seed: %+v", f)
		}
		if f.ShippingRates[1].ExpressPrice != nil {
			t.Error("expected express to be unavailable in Kisumu")
		}
	})

	t.Run("reports every invalid entry", func(t *testing.T) {
		_, err := Parse([]byte(`
variants:
  - id: ""
  - id: V1
    price: -1
  - id: V1
shipping_rates:
  - county: Nairobi
`))
		if err == nil {
			t.Fatal("expected error")
		}
		for _, want := range []string{"variants[0]", "variants[1]", "variants[2]", "shipping_rates[0]"} {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("expected %s in %v", want, err)
			}
		}
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		if _, err := Parse([]byte("variants: [")); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	store := memory.NewStore()
	ctx := context.Background()
	if err := f.Apply(ctx, store); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	variants, err := store.GetVariants(ctx, []string{"V1", "V2"})
	if err != nil {
		t.Fatalf("GetVariants() failed: %v", err)
	}
	if v := variants["V1"]; !v.Enabled || v.Price != 5000 || v.StockOnHand != 10 {
		t.Errorf("unexpected V1: %+v", v)
	}
	if variants["V2"].Enabled {
		t.Error("expected V2 disabled")
	}
	rate, err := store.Rate(ctx, " nairobi ", "NAIROBI")
	if err != nil || rate.StandardPrice != 300 || rate.ExpressPrice == nil || *rate.ExpressPrice != 700 {
		t.Fatalf("unexpected rate: %+v (%v)", rate, err)
	}
}
