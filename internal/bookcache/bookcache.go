// Package bookcache lazily loads and serializes access to per-(stock,
// currency) order books. The exclusive gate is a buffered channel of size
// one rather than a bare mutex (teacher's channel-based synchronization
// idiom — internal/net/server.go's clientMessages chan ClientMessage) so
// WithBookLock composes with context cancellation via select (§4.6, §5).
package bookcache

import (
	"context"
	"fmt"
	"sync"

	"bourse/internal/book"
	"bourse/internal/domain"
	"bourse/internal/store"
)

// Key identifies one order book.
type Key struct {
	StockId  int64
	Currency domain.Currency
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.StockId, k.Currency)
}

type entry struct {
	book *book.Book
	gate chan struct{} // buffered 1; a held token means the gate is locked
}

// Cache is the lazy-load-plus-gate registry, one per running exchange.
type Cache struct {
	st store.Store

	mu      sync.Mutex // guards entries map only, not book contents
	entries map[Key]*entry
}

func New(st store.Store) *Cache {
	return &Cache{st: st, entries: make(map[Key]*entry)}
}

// Get ensures the book for key is loaded (from open limit orders in the
// store) and returns it. Safe to call without holding the gate; concurrent
// Get calls for the same never-yet-loaded key only ever construct one book.
func (c *Cache) Get(ctx context.Context, key Key) (*book.Book, error) {
	e, err := c.getOrLoad(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.book, nil
}

func (c *Cache) getOrLoad(ctx context.Context, key Key) (*entry, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return e, nil
	}
	// Insert a placeholder under the map lock so a second concurrent caller
	// observes it instead of double-loading, then fill it in outside the
	// lock (loading hits persistence and must not block other keys).
	e := &entry{book: book.New(), gate: make(chan struct{}, 1)}
	c.entries[key] = e
	c.mu.Unlock()

	open, err := c.st.GetOpenLimitOrders(ctx, key.StockId, key.Currency)
	if err != nil {
		return nil, fmt.Errorf("bookcache: loading open orders for %s: %w", key, err)
	}
	for i := range open {
		if err := e.book.UpsertOrder(&open[i]); err != nil {
			return nil, fmt.Errorf("bookcache: restoring order %d for %s: %w", open[i].OrderId, key, err)
		}
	}
	return e, nil
}

// WithBookLock acquires key's exclusive gate, runs body(book), then releases
// the gate. It serializes all matching/settlement work for key; distinct
// keys run in parallel. ctx cancellation is honored both before acquiring
// the gate and, via select, while waiting for it.
func (c *Cache) WithBookLock(ctx context.Context, key Key, body func(b *book.Book) error) error {
	e, err := c.getOrLoad(ctx, key)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e.gate <- struct{}{}:
	}
	defer func() { <-e.gate }()

	return body(e.book)
}
