package bookcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/book"
	"bourse/internal/domain"
	"bourse/internal/store/memstore"
)

func TestGet_LoadsRestingOrdersFromStore(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	_, err := st.InsertOrder(ctx, domain.Order{
		UserId: 1, StockId: 1, Currency: domain.USD,
		Side: domain.Buy, Type: domain.LimitBuy, Price: decimal.RequireFromString("10.00"), Quantity: 5, Status: domain.Open,
	})
	require.NoError(t, err)

	c := New(st)
	b, err := c.Get(ctx, Key{StockId: 1, Currency: domain.USD})
	require.NoError(t, err)

	bids, _ := b.Snapshot()
	require.Len(t, bids, 1)
}

func TestGet_IsIdempotentAcrossCalls(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	c := New(st)

	b1, err := c.Get(ctx, Key{StockId: 1, Currency: domain.USD})
	require.NoError(t, err)
	b2, err := c.Get(ctx, Key{StockId: 1, Currency: domain.USD})
	require.NoError(t, err)
	assert.Same(t, b1, b2)
}

func TestWithBookLock_SerializesSameKeyAcrossGoroutines(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	c := New(st)
	key := Key{StockId: 1, Currency: domain.USD}

	var concurrent int32
	var maxConcurrent int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.WithBookLock(ctx, key, func(b *book.Book) error {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					cur := atomic.LoadInt32(&maxConcurrent)
					if n <= cur || atomic.CompareAndSwapInt32(&maxConcurrent, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxConcurrent, "only one body should run at a time for the same key")
}

func TestWithBookLock_DistinctKeysRunConcurrently(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	c := New(st)

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var wg sync.WaitGroup
	for _, stockId := range []int64{1, 2} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = c.WithBookLock(ctx, Key{StockId: id, Currency: domain.USD}, func(b *book.Book) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}(stockId)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first key never started")
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("distinct keys should not block each other")
	}
	close(release)
	wg.Wait()
}

func TestWithBookLock_HonorsCancellationWhileWaiting(t *testing.T) {
	st := memstore.New()
	c := New(st)
	key := Key{StockId: 1, Currency: domain.USD}

	holding := make(chan struct{})
	releaseHold := make(chan struct{})
	go func() {
		_ = c.WithBookLock(context.Background(), key, func(b *book.Book) error {
			close(holding)
			<-releaseHold
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.WithBookLock(ctx, key, func(b *book.Book) error {
		t.Fatal("body must not run once the context is cancelled")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(releaseHold)
}
