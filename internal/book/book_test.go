package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/domain"
)

// --- helpers, in the teacher's orderbook_test.go style -----------------------

func limitOrder(id, userId int64, side domain.Side, price string, qty int64) *domain.Order {
	typ := domain.LimitBuy
	if side == domain.Sell {
		typ = domain.LimitSell
	}
	return &domain.Order{
		OrderId:   id,
		UserId:    userId,
		StockId:   1,
		Currency:  domain.USD,
		Side:      side,
		Type:      typ,
		Price:     decimal.RequireFromString(price),
		Quantity:  qty,
		Status:    domain.Open,
		CreatedAt: time.Now(),
	}
}

func placeTestOrders(t *testing.T, b *Book, side domain.Side, price string, ids []int64, qty int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, b.UpsertOrder(limitOrder(id, id, side, price, qty)))
	}
}

// --- tests --------------------------------------------------------------

func TestUpsertOrder_OrdersWithinALevelAreFIFO(t *testing.T) {
	b := New()
	placeTestOrders(t, b, domain.Buy, "99.00", []int64{1, 2, 3}, 100)

	bids, _ := b.Snapshot()
	require.Len(t, bids, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{bids[0].OrderId, bids[1].OrderId, bids[2].OrderId})
}

func TestUpsertOrder_LevelsAreSortedByBestPriceFirst(t *testing.T) {
	b := New()
	placeTestOrders(t, b, domain.Buy, "99.00", []int64{1}, 100)
	placeTestOrders(t, b, domain.Buy, "100.00", []int64{2}, 100)
	placeTestOrders(t, b, domain.Sell, "102.00", []int64{3}, 100)
	placeTestOrders(t, b, domain.Sell, "101.00", []int64{4}, 100)

	bidPrice, ok := b.BestPrice(domain.Buy)
	require.True(t, ok)
	assert.True(t, bidPrice.Equal(decimal.RequireFromString("100.00")), "best bid should be the highest price")

	askPrice, ok := b.BestPrice(domain.Sell)
	require.True(t, ok)
	assert.True(t, askPrice.Equal(decimal.RequireFromString("101.00")), "best ask should be the lowest price")
}

func TestUpsertOrder_RejectsDuplicateOrderId(t *testing.T) {
	b := New()
	require.NoError(t, b.UpsertOrder(limitOrder(1, 1, domain.Buy, "99.00", 100)))
	err := b.UpsertOrder(limitOrder(1, 1, domain.Buy, "99.00", 50))
	assert.Error(t, err)
}

func TestUpsertOrder_RejectsNonLimitType(t *testing.T) {
	b := New()
	order := limitOrder(1, 1, domain.Buy, "99.00", 100)
	order.Type = domain.TrueMarketBuy
	assert.Error(t, b.UpsertOrder(order))
}

func TestRemoveById_RemovesFromIndexAndLevel(t *testing.T) {
	b := New()
	placeTestOrders(t, b, domain.Buy, "99.00", []int64{1, 2}, 100)

	removed, ok := b.RemoveById(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), removed.OrderId)

	bids, _ := b.Snapshot()
	require.Len(t, bids, 1)
	assert.Equal(t, int64(2), bids[0].OrderId)

	_, ok = b.RemoveById(1)
	assert.False(t, ok, "removing twice should report not found")
}

func TestRemoveById_DeletesEmptiedLevel(t *testing.T) {
	b := New()
	placeTestOrders(t, b, domain.Buy, "99.00", []int64{1}, 100)
	_, ok := b.RemoveById(1)
	require.True(t, ok)

	_, isResting := b.BestPrice(domain.Buy)
	assert.False(t, isResting, "price level with no remaining orders should be gone")
}

func TestPeekAndRemoveBest_SkipsExcludedUser(t *testing.T) {
	b := New()
	require.NoError(t, b.UpsertOrder(limitOrder(1, 42, domain.Sell, "100.00", 100)))
	require.NoError(t, b.UpsertOrder(limitOrder(2, 7, domain.Sell, "100.00", 50)))

	best, ok := b.PeekBest(domain.Sell, 42)
	require.True(t, ok)
	assert.Equal(t, int64(2), best.OrderId, "order 1 belongs to the excluded user and must be skipped")

	removed, ok := b.RemoveBest(domain.Sell, 42)
	require.True(t, ok)
	assert.Equal(t, int64(2), removed.OrderId)

	// Order 1 is still resting; the excluded user can trade against it later
	// when a different taker arrives.
	bids, _ := b.Snapshot()
	_ = bids
	_, asks := b.Snapshot()
	require.Len(t, asks, 1)
	assert.Equal(t, int64(1), asks[0].OrderId)
}

func TestPeekBest_NoEligibleOrderWhenAllBelongToExcludedUser(t *testing.T) {
	b := New()
	require.NoError(t, b.UpsertOrder(limitOrder(1, 42, domain.Buy, "99.00", 100)))

	_, ok := b.PeekBest(domain.Buy, 42)
	assert.False(t, ok)
}

func TestFixAll_DropsNonRestableOrdersAndRebuildsIndex(t *testing.T) {
	b := New()
	stale := limitOrder(1, 1, domain.Buy, "99.00", 100)
	stale.Status = domain.Filled
	require.NoError(t, b.UpsertOrder(stale))
	require.NoError(t, b.UpsertOrder(limitOrder(2, 2, domain.Buy, "99.00", 50)))

	dropped := b.FixAll()
	assert.Equal(t, 1, dropped)
	assert.NoError(t, b.ValidateIndex())

	bids, _ := b.Snapshot()
	require.Len(t, bids, 1)
	assert.Equal(t, int64(2), bids[0].OrderId)
}

func TestValidateIndex_DetectsDriftAfterManualCorruption(t *testing.T) {
	b := New()
	require.NoError(t, b.UpsertOrder(limitOrder(1, 1, domain.Buy, "99.00", 100)))
	assert.NoError(t, b.ValidateIndex())

	// Simulate the index drifting out of sync with the resting orders, as the
	// teacher's divergent book/index pairing could in principle leave it.
	b.index[999] = indexEntry{side: domain.Buy, price: decimal.RequireFromString("99.00")}
	assert.Error(t, b.ValidateIndex())

	b.RebuildIndex()
	assert.NoError(t, b.ValidateIndex())
}
