// Package pricecache is the in-process last-known-price map.
// One writer (the feed connector), many concurrent readers (ledger, API).
package pricecache

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Cache maps internal symbol → last-known price. Entries are replaced
// atomically per key; readers never block the writer.
type Cache struct {
	prices sync.Map // string → decimal.Decimal
}

// New returns an empty price cache.
func New() *Cache {
	return &Cache{}
}

// Get returns the last-known price for symbol, if any tick has been seen.
func (c *Cache) Get(symbol string) (decimal.Decimal, bool) {
	v, ok := c.prices.Load(symbol)
	if !ok {
		return decimal.Decimal{}, false
	}
	return v.(decimal.Decimal), true
}

// Set unconditionally overwrites the price for symbol.
// Called only by the market feed connector (and startup warm-up).
func (c *Cache) Set(symbol string, price decimal.Decimal) {
	c.prices.Store(symbol, price)
}

// Snapshot returns a copy of the current prices.
func (c *Cache) Snapshot() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	c.prices.Range(func(k, v any) bool {
		out[k.(string)] = v.(decimal.Decimal)
		return true
	})
	return out
}
