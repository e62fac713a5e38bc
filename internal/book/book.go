// Package book implements the central limit order book: one Book per
// (stock, currency), holding resting limit orders in price-time priority.
//
// Grounded on the teacher's internal/engine/orderbook.go PriceLevel/btree
// pairing, generalized from a float64 comparator to decimal.Decimal and
// extended with an explicit OrderId index (the teacher keeps none, which is
// part of the "repository ambiguity" this spec calls out — see DESIGN.md).
package book

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"bourse/internal/domain"
)

// PriceLevel holds every resting order at a single price, oldest first.
type PriceLevel struct {
	Price  decimal.Decimal
	orders []*domain.Order
}

// Orders returns the FIFO queue resting at this level. Callers must not
// mutate the returned slice.
func (p *PriceLevel) Orders() []*domain.Order { return p.orders }

type priceLevels = btree.BTreeG[*PriceLevel]

type indexEntry struct {
	side  domain.Side
	price decimal.Decimal
}

// Book is one stock/currency's order book. It is safe for concurrent use;
// callers doing multi-step sequences (place-then-match) still need the
// higher-level per-book gate in internal/bookcache to keep those sequences
// atomic with respect to each other.
type Book struct {
	mu sync.RWMutex

	bids *priceLevels // sorted highest price first
	asks *priceLevels // sorted lowest price first

	index map[int64]indexEntry // OrderId -> (side, price)
}

// New creates an empty book.
func New() *Book {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.GreaterThan(b.Price)
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.LessThan(b.Price)
	})
	return &Book{
		bids:  bids,
		asks:  asks,
		index: make(map[int64]indexEntry),
	}
}

func (b *Book) levelsFor(side domain.Side) *priceLevels {
	if side == domain.Buy {
		return b.bids
	}
	return b.asks
}

// UpsertOrder rests order on its side at its limit price, appending to the
// back of that price level's queue (newest last, price-time priority).
// order.Type must be a limit type; the matching engine never rests market
// orders.
func (b *Book) UpsertOrder(order *domain.Order) error {
	if !order.Type.IsLimit() {
		return fmt.Errorf("book: cannot rest non-limit order type %s", order.Type)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.index[order.OrderId]; exists {
		return fmt.Errorf("book: order %d already resting", order.OrderId)
	}

	levels := b.levelsFor(order.Side)
	key := &PriceLevel{Price: order.Price}
	level, ok := levels.GetMut(key)
	if !ok {
		level = &PriceLevel{Price: order.Price}
		levels.Set(level)
	}
	level.orders = append(level.orders, order)
	b.index[order.OrderId] = indexEntry{side: order.Side, price: order.Price}
	return nil
}

// RemoveById pulls an order out of the book entirely, wherever it rests.
// Returns (order, true) on success, (nil, false) if it was not resting.
func (b *Book) RemoveById(orderId int64) (*domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeByIdLocked(orderId)
}

func (b *Book) removeByIdLocked(orderId int64) (*domain.Order, bool) {
	entry, ok := b.index[orderId]
	if !ok {
		return nil, false
	}
	levels := b.levelsFor(entry.side)
	level, ok := levels.GetMut(&PriceLevel{Price: entry.price})
	if !ok {
		delete(b.index, orderId)
		return nil, false
	}
	var removed *domain.Order
	for i, o := range level.orders {
		if o.OrderId == orderId {
			removed = o
			level.orders = append(level.orders[:i], level.orders[i+1:]...)
			break
		}
	}
	if len(level.orders) == 0 {
		levels.Delete(level)
	}
	delete(b.index, orderId)
	return removed, removed != nil
}

// UpdateQuantity adjusts a resting order's Quantity field in place, leaving
// it exactly where it already sits in its price level's FIFO queue. A pure
// quantity decrease must retain time priority (§5, §9), so this is the path
// for that case; a price change or quantity increase still goes through
// RemoveById+UpsertOrder to re-queue at the back.
func (b *Book) UpdateQuantity(orderId int64, newQuantity int64) (*domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.index[orderId]
	if !ok {
		return nil, false
	}
	level, ok := b.levelsFor(entry.side).GetMut(&PriceLevel{Price: entry.price})
	if !ok {
		return nil, false
	}
	for _, o := range level.orders {
		if o.OrderId == orderId {
			o.Quantity = newQuantity
			return o, true
		}
	}
	return nil, false
}

// PeekBest returns the best resting order on side, skipping any resting
// order belonging to excludeUserId (self-match prevention — spec.md §4.2).
// It does not remove the order.
func (b *Book) PeekBest(side domain.Side, excludeUserId int64) (*domain.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	level, idx, ok := b.bestEligibleLocked(side, excludeUserId)
	if !ok {
		return nil, false
	}
	return level.orders[idx], true
}

// RemoveBest removes and returns the best resting order on side, skipping
// excludeUserId's own resting orders.
func (b *Book) RemoveBest(side domain.Side, excludeUserId int64) (*domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	level, idx, ok := b.bestEligibleLocked(side, excludeUserId)
	if !ok {
		return nil, false
	}
	order := level.orders[idx]
	level.orders = append(level.orders[:idx], level.orders[idx+1:]...)
	if len(level.orders) == 0 {
		b.levelsFor(side).Delete(level)
	}
	delete(b.index, order.OrderId)
	return order, true
}

// bestEligibleLocked finds the first order, in price-time priority across
// every level on side, not belonging to excludeUserId; if a level holds only
// excluded orders the scan moves on to the next level. Self-resting orders
// are passed over, not removed — they remain eligible for a future taker.
func (b *Book) bestEligibleLocked(side domain.Side, excludeUserId int64) (*PriceLevel, int, bool) {
	var found *PriceLevel
	var foundIdx int
	b.levelsFor(side).Scan(func(level *PriceLevel) bool {
		for i, o := range level.orders {
			if o.UserId == excludeUserId {
				continue
			}
			found = level
			foundIdx = i
			return false
		}
		return true
	})
	if found == nil {
		return nil, 0, false
	}
	return found, foundIdx, true
}

// BestPrice returns the best (top of book) price on side, if any orders rest
// there.
func (b *Book) BestPrice(side domain.Side) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	level, ok := b.levelsFor(side).Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.Price, true
}

// Depth reports resting order count and total remaining quantity on side.
func (b *Book) Depth(side domain.Side) (orders int, quantity int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.levelsFor(side).Scan(func(level *PriceLevel) bool {
		orders += len(level.orders)
		for _, o := range level.orders {
			quantity += o.RemainingQuantity()
		}
		return true
	})
	return
}

// Snapshot returns every resting order on both sides, best price first,
// FIFO within a level. Intended for diagnostics and tests, not the hot path.
func (b *Book) Snapshot() (bids, asks []*domain.Order) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.bids.Scan(func(level *PriceLevel) bool {
		bids = append(bids, level.orders...)
		return true
	})
	b.asks.Scan(func(level *PriceLevel) bool {
		asks = append(asks, level.orders...)
		return true
	})
	return
}

// FixAll is an administrative sweep that rebuilds the index from the price
// levels and drops resting orders that are no longer restable (e.g. a
// cancellation that raced ahead of its book removal). Grounded on the
// teacher's divergent order_book.go copies disagreeing about what "in the
// book" means — see DESIGN.md "Repository ambiguity".
func (b *Book) FixAll() (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, side := range []domain.Side{domain.Buy, domain.Sell} {
		levels := b.levelsFor(side)
		var stale []*PriceLevel
		levels.Scan(func(level *PriceLevel) bool {
			kept := level.orders[:0]
			for _, o := range level.orders {
				if o.IsRestable() {
					kept = append(kept, o)
				} else {
					dropped++
				}
			}
			level.orders = kept
			if len(level.orders) == 0 {
				stale = append(stale, level)
			}
			return true
		})
		for _, level := range stale {
			levels.Delete(level)
		}
	}
	b.rebuildIndexLocked()
	return dropped
}

// ValidateIndex reports whether the OrderId index agrees with the resting
// orders actually present in the price levels.
func (b *Book) ValidateIndex() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[int64]bool, len(b.index))
	var walk func(side domain.Side) error
	walk = func(side domain.Side) error {
		var err error
		b.levelsFor(side).Scan(func(level *PriceLevel) bool {
			for _, o := range level.orders {
				entry, ok := b.index[o.OrderId]
				if !ok {
					err = fmt.Errorf("book: order %d resting but missing from index", o.OrderId)
					return false
				}
				if entry.side != side || !entry.price.Equal(level.Price) {
					err = fmt.Errorf("book: order %d index entry %+v disagrees with resting location side=%s price=%s", o.OrderId, entry, side, level.Price)
					return false
				}
				seen[o.OrderId] = true
			}
			return true
		})
		return err
	}
	if err := walk(domain.Buy); err != nil {
		return err
	}
	if err := walk(domain.Sell); err != nil {
		return err
	}
	if len(seen) != len(b.index) {
		return fmt.Errorf("book: index has %d entries but only %d resting orders found", len(b.index), len(seen))
	}
	return nil
}

// RebuildIndex discards and reconstructs the OrderId index purely from the
// orders actually resting in the price levels.
func (b *Book) RebuildIndex() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebuildIndexLocked()
}

func (b *Book) rebuildIndexLocked() {
	b.index = make(map[int64]indexEntry)
	for _, side := range []domain.Side{domain.Buy, domain.Sell} {
		b.levelsFor(side).Scan(func(level *PriceLevel) bool {
			for _, o := range level.orders {
				b.index[o.OrderId] = indexEntry{side: side, price: level.Price}
			}
			return true
		})
	}
}
