// Package catalog holds the fixed universe of tradable stocks as a
// read-mostly snapshot, replaced atomically on Refresh/Upsert (spec.md §5
// "Shared resources").
package catalog

import (
	"sync/atomic"

	"bourse/internal/domain"
)

// Catalog is safe for concurrent reads from any number of goroutines; writes
// (Refresh/Upsert) swap in a whole new snapshot rather than mutating in
// place.
type Catalog struct {
	snapshot atomic.Pointer[snapshot]
}

type snapshot struct {
	byId     map[int64]domain.Stock
	bySymbol map[string]domain.Stock
}

func New() *Catalog {
	c := &Catalog{}
	c.snapshot.Store(&snapshot{
		byId:     make(map[int64]domain.Stock),
		bySymbol: make(map[string]domain.Stock),
	})
	return c
}

// Refresh atomically replaces the entire catalog snapshot.
func (c *Catalog) Refresh(stocks []domain.Stock) {
	next := &snapshot{
		byId:     make(map[int64]domain.Stock, len(stocks)),
		bySymbol: make(map[string]domain.Stock, len(stocks)),
	}
	for _, s := range stocks {
		next.byId[s.StockId] = s
		next.bySymbol[s.Symbol] = s
	}
	c.snapshot.Store(next)
}

// Upsert adds or replaces a single stock, copy-on-write against the current
// snapshot.
func (c *Catalog) Upsert(stock domain.Stock) {
	cur := c.snapshot.Load()
	next := &snapshot{
		byId:     make(map[int64]domain.Stock, len(cur.byId)+1),
		bySymbol: make(map[string]domain.Stock, len(cur.bySymbol)+1),
	}
	for k, v := range cur.byId {
		next.byId[k] = v
	}
	for k, v := range cur.bySymbol {
		next.bySymbol[k] = v
	}
	next.byId[stock.StockId] = stock
	next.bySymbol[stock.Symbol] = stock
	c.snapshot.Store(next)
}

func (c *Catalog) ById(id int64) (domain.Stock, bool) {
	s, ok := c.snapshot.Load().byId[id]
	return s, ok
}

func (c *Catalog) BySymbol(symbol string) (domain.Stock, bool) {
	s, ok := c.snapshot.Load().bySymbol[symbol]
	return s, ok
}

func (c *Catalog) Exists(id int64) bool {
	_, ok := c.ById(id)
	return ok
}

func (c *Catalog) All() []domain.Stock {
	cur := c.snapshot.Load()
	out := make([]domain.Stock, 0, len(cur.byId))
	for _, s := range cur.byId {
		out = append(out, s)
	}
	return out
}
