package prodigi

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Product is a print product offered for a gallery image. Price is in cents.
type Product struct {
	ID          string `json:"id"`
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int    `json:"price"`
	Currency    string `json:"currency"`
}

type Catalog struct {
	items map[string]Product
}

// DefaultCatalog is the built-in product list.
func DefaultCatalog() Catalog {
	return newCatalog([]Product{
		{
			ID:          "canvas-8x10",
			SKU:         "GLOBAL-CAN-8X10",
			Name:        `8" x 10" Canvas Print`,
			Description: "Premium canvas print, gallery wrapped",
			Price:       2499,
			Currency:    "USD",
		},
		{
			ID:          "canvas-12x16",
			SKU:         "GLOBAL-CAN-12X16",
			Name:        `12" x 16" Canvas Print`,
			Description: "Premium canvas print, gallery wrapped",
			Price:       3999,
			Currency:    "USD",
		},
		{
			ID:          "print-8x10",
			SKU:         "GLOBAL-PHO-8X10",
			Name:        `8" x 10" Photo Print`,
			Description: "High-quality photo print on premium paper",
			Price:       899,
			Currency:    "USD",
		},
		{
			ID:          "print-12x16",
			SKU:         "GLOBAL-PHO-12X16",
			Name:        `12" x 16" Photo Print`,
			Description: "High-quality photo print on premium paper",
			Price:       1499,
			Currency:    "USD",
		},
	})
}

// LoadCatalog reads a JSON array of products. Entries without an ID or SKU
// are skipped.
func LoadCatalog(path string) (Catalog, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read products: %w", err)
	}

	var products []Product
	if err := json.Unmarshal(file, &products); err != nil {
		return Catalog{}, fmt.Errorf("decode products: %w", err)
	}

	catalog := newCatalog(products)
	if len(catalog.items) == 0 {
		return Catalog{}, fmt.Errorf("no usable products in %s", path)
	}
	return catalog, nil
}

func newCatalog(products []Product) Catalog {
	items := make(map[string]Product, len(products))
	for _, p := range products {
		if p.ID == "" || p.SKU == "" {
			continue
		}
		if p.Currency == "" {
			p.Currency = "USD"
		}
		items[p.ID] = p
	}
	return Catalog{items: items}
}

func (c Catalog) Get(id string) (Product, bool) {
	v, ok := c.items[id]
	return v, ok
}

// BySKU finds a product by its Prodigi SKU.
func (c Catalog) BySKU(sku string) (Product, bool) {
	for _, p := range c.items {
		if p.SKU == sku {
			return p, true
		}
	}
	return Product{}, false
}

// List returns the products ordered by ID.
func (c Catalog) List() []Product {
	out := make([]Product, 0, len(c.items))
	for _, v := range c.items {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Map returns the products keyed by ID, the shape the storefront expects.
func (c Catalog) Map() map[string]Product {
	out := make(map[string]Product, len(c.items))
	for k, v := range c.items {
		out[k] = v
	}
	return out
}
