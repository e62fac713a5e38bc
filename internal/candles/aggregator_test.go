package candles

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/domain"
)

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Scenario 6: Candle roll and gap fill.
func TestOnTick_RollsAndFillsGapAtSixtySecondResolution(t *testing.T) {
	q := NewQueue()
	a := NewAggregator(1, domain.USD, domain.Res1m, q)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.OnTick(1, price("10"), 3, base.Add(10*time.Second))

	live, ok := a.TryGetLiveSnapshot()
	require.True(t, ok)
	assert.True(t, live.Open.Equal(price("10")))
	assert.True(t, live.High.Equal(price("10")))
	assert.True(t, live.Low.Equal(price("10")))
	assert.True(t, live.Close.Equal(price("10")))
	assert.Equal(t, base, live.OpenTime)

	// Tick at t=135s is two buckets later (00:02:15): 00:01 closes as a gap
	// candle, and a fresh live candle opens at 00:02.
	a.OnTick(2, price("12"), 5, base.Add(135*time.Second))

	closed := q.Drain()
	require.Len(t, closed, 2, "the original live candle plus one gap candle")

	first := closed[0]
	assert.Equal(t, base, first.OpenTime)
	assert.True(t, first.Open.Equal(price("10")))
	assert.True(t, first.Close.Equal(price("10")))

	gap := closed[1]
	assert.Equal(t, base.Add(60*time.Second), gap.OpenTime)
	assert.True(t, gap.Open.Equal(price("10")))
	assert.True(t, gap.High.Equal(price("10")))
	assert.True(t, gap.Low.Equal(price("10")))
	assert.True(t, gap.Close.Equal(price("10")))
	assert.Equal(t, int64(0), gap.Volume)

	live, ok = a.TryGetLiveSnapshot()
	require.True(t, ok)
	assert.Equal(t, base.Add(120*time.Second), live.OpenTime)
	assert.True(t, live.Open.Equal(price("12")))
	assert.Equal(t, int64(5), live.Volume)
}

func TestOnTick_DropsOutOfOrderTick(t *testing.T) {
	q := NewQueue()
	a := NewAggregator(1, domain.USD, domain.Res1m, q)
	base := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)

	a.OnTick(1, price("100"), 1, base)
	a.OnTick(2, price("90"), 1, base.Add(-90*time.Second))

	live, ok := a.TryGetLiveSnapshot()
	require.True(t, ok)
	assert.True(t, live.Close.Equal(price("100")), "earlier-bucket tick must be dropped, not applied")
}

func TestOnTick_DeduplicatesByTransactionIdWithinLiveCandle(t *testing.T) {
	q := NewQueue()
	a := NewAggregator(1, domain.USD, domain.Res1m, q)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a.OnTick(7, price("10"), 4, base)
	a.OnTick(7, price("20"), 4, base.Add(time.Second))

	live, ok := a.TryGetLiveSnapshot()
	require.True(t, ok)
	assert.Equal(t, int64(4), live.Volume, "a repeated TransactionId must not double count")
	assert.Equal(t, int64(1), live.TradeCount)
}

func TestFlushIfElapsed_ClosesLiveCandleOncePastCloseTime(t *testing.T) {
	q := NewQueue()
	a := NewAggregator(1, domain.USD, domain.Res1m, q)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.OnTick(1, price("10"), 1, base)

	a.FlushIfElapsed(base.Add(30 * time.Second))
	assert.Empty(t, q.Drain(), "candle should still be live before its CloseTime")

	a.FlushIfElapsed(base.Add(60 * time.Second))
	closed := q.Drain()
	require.Len(t, closed, 1)
	assert.Equal(t, base, closed[0].OpenTime)

	_, ok := a.TryGetLiveSnapshot()
	assert.False(t, ok)
}

func TestAggregate_RequireFullCoverageDropsIncompleteBucket(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	source := []domain.Candle{
		{StockId: 1, Currency: domain.USD, Bucket: domain.Res1m, OpenTime: base, CloseTime: base.Add(time.Minute), Open: price("10"), High: price("11"), Low: price("9"), Close: price("10.5"), Volume: 5, TradeCount: 2},
		{StockId: 1, Currency: domain.USD, Bucket: domain.Res1m, OpenTime: base.Add(time.Minute), CloseTime: base.Add(2 * time.Minute), Open: price("10.5"), High: price("12"), Low: price("10"), Close: price("11"), Volume: 3, TradeCount: 1},
	}

	full, err := Aggregate(source, domain.Res5m, true)
	require.NoError(t, err)
	assert.Empty(t, full, "a 5m bucket needs 5 source candles; only 2 are present")

	partial, err := Aggregate(source, domain.Res5m, false)
	require.NoError(t, err)
	require.Len(t, partial, 1)
	assert.True(t, partial[0].Open.Equal(price("10")))
	assert.True(t, partial[0].Close.Equal(price("11")))
	assert.True(t, partial[0].High.Equal(price("12")))
	assert.True(t, partial[0].Low.Equal(price("9")))
	assert.Equal(t, int64(8), partial[0].Volume)
	assert.Equal(t, int64(3), partial[0].TradeCount)
}
