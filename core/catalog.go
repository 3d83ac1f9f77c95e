/*
catalog.go - Bundle prices and network names, in one place

PURPOSE:
  The single authoritative lookup table for bundle pricing and network
  display names. Both purchase paths (balance and gateway) resolve prices
  here, which is what guarantees a buyer pays the same amount regardless
  of funding path.

INVARIANT:
  Every purchase is priced from this table at processing time. The price
  a client sends (or saw on a pricing page) is never trusted.

MUTABILITY:
  Prices are admin-updatable at runtime (PUT /api/pricing). Updates take
  effect for subsequent purchases only; sessions already opened keep the
  amount they were priced at.
*/
package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG
// =============================================================================

// Catalog maps bundle sizes to prices and network codes to display names.
// Safe for concurrent use.
type Catalog struct {
	mu     sync.RWMutex
	prices map[BundleSize]decimal.Decimal
}

// networkNames maps wire codes to the names recorded in the journal.
// Unknown codes fall through unchanged so a provider-side rename does not
// break journaling.
var networkNames = map[Network]string{
	NetworkYello:     "MTN",
	NetworkTelecel:   "Vodafone",
	NetworkATPremium: "AirtelTigo",
}

// DefaultCatalog returns a catalog seeded with the launch price list.
func DefaultCatalog() *Catalog {
	return &Catalog{
		prices: map[BundleSize]decimal.Decimal{
			1:  decimal.RequireFromString("2.50"),
			2:  decimal.RequireFromString("4.50"),
			5:  decimal.RequireFromString("10.00"),
			10: decimal.RequireFromString("18.00"),
		},
	}
}

// PriceFor returns the authoritative price for a bundle size.
// Returns ErrInvalidBundle for sizes not offered.
func (c *Catalog) PriceFor(size BundleSize) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	price, ok := c.prices[size]
	if !ok {
		return decimal.Zero, fmt.Errorf("size %dGB not offered: %w", size, ErrInvalidBundle)
	}
	return price, nil
}

// Sizes returns the offered bundle sizes in ascending order.
func (c *Catalog) Sizes() []BundleSize {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sizes := make([]BundleSize, 0, len(c.prices))
	for s := range c.prices {
		sizes = append(sizes, s)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })
	return sizes
}

// Prices returns a copy of the current price list.
func (c *Catalog) Prices() map[BundleSize]decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[BundleSize]decimal.Decimal, len(c.prices))
	for s, p := range c.prices {
		out[s] = p
	}
	return out
}

// SetPrices replaces the price list. Every price must be positive.
func (c *Catalog) SetPrices(prices map[BundleSize]decimal.Decimal) error {
	if len(prices) == 0 {
		return fmt.Errorf("empty price list: %w", ErrInvalidBundle)
	}
	for size, price := range prices {
		if size <= 0 || !price.IsPositive() {
			return fmt.Errorf("bad price %s for size %dGB: %w", price, size, ErrInvalidBundle)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices = make(map[BundleSize]decimal.Decimal, len(prices))
	for s, p := range prices {
		c.prices[s] = p
	}
	return nil
}

// NetworkName maps a wire code to its display name.
func NetworkName(n Network) string {
	if name, ok := networkNames[n]; ok {
		return name
	}
	return string(n)
}
