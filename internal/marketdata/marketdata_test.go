package marketdata

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/domain"
)

func px(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestApplyTick_SeedsOpenHighLowOnFirstTick(t *testing.T) {
	s := NewService(5 * time.Minute)
	now := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	s.ApplyTick(1, domain.USD, px("10.00"), 5, now)

	q, ok := s.Snapshot(1, domain.USD)
	require.True(t, ok)
	assert.True(t, q.Open.Equal(px("10.00")))
	assert.True(t, q.High.Equal(px("10.00")))
	assert.True(t, q.Low.Equal(px("10.00")))
	assert.True(t, q.LastPrice.Equal(px("10.00")))
	assert.Equal(t, int64(5), q.Volume)
}

func TestApplyTick_UpdatesHighLowAndVolumeAcrossTicks(t *testing.T) {
	s := NewService(5 * time.Minute)
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	s.ApplyTick(1, domain.USD, px("10.00"), 5, base)
	s.ApplyTick(1, domain.USD, px("11.00"), 3, base.Add(time.Minute))
	s.ApplyTick(1, domain.USD, px("9.50"), 2, base.Add(2*time.Minute))

	q, ok := s.Snapshot(1, domain.USD)
	require.True(t, ok)
	assert.True(t, q.High.Equal(px("11.00")))
	assert.True(t, q.Low.Equal(px("9.50")))
	assert.True(t, q.LastPrice.Equal(px("9.50")))
	assert.Equal(t, int64(10), q.Volume)
}

func TestApplyTick_IgnoresOlderTickForLastPriceButStillTracksExtrema(t *testing.T) {
	s := NewService(5 * time.Minute)
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	s.ApplyTick(1, domain.USD, px("10.00"), 1, base)
	s.ApplyTick(1, domain.USD, px("20.00"), 1, base.Add(-time.Minute))

	q, ok := s.Snapshot(1, domain.USD)
	require.True(t, ok)
	assert.True(t, q.LastPrice.Equal(px("10.00")), "an out-of-order tick must not move LastPrice backward")
	assert.True(t, q.High.Equal(px("20.00")), "extrema still reflect every observed price")
}

func TestApplyTick_NewUtcDayResetsSession(t *testing.T) {
	s := NewService(5 * time.Minute)
	day1 := time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 2, 0, 5, 0, 0, time.UTC)

	s.ApplyTick(1, domain.USD, px("100.00"), 10, day1)
	s.ApplyTick(1, domain.USD, px("50.00"), 1, day2)

	q, ok := s.Snapshot(1, domain.USD)
	require.True(t, ok)
	assert.True(t, q.Open.Equal(px("50.00")), "a new UTC day starts a fresh session")
	assert.True(t, q.High.Equal(px("50.00")))
	assert.Equal(t, int64(1), q.Volume)
}

func TestRecentTicks_EvictsTicksOlderThanRingWindow(t *testing.T) {
	s := NewService(2 * time.Minute)
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	s.ApplyTick(1, domain.USD, px("10"), 1, base)
	s.ApplyTick(1, domain.USD, px("11"), 1, base.Add(time.Minute))
	s.ApplyTick(1, domain.USD, px("12"), 1, base.Add(3*time.Minute))

	ticks := s.RecentTicks(1, domain.USD, base.Add(3*time.Minute))
	require.Len(t, ticks, 1, "the first two ticks are not inside the 2-minute window relative to the latest (the second sits exactly on the cutoff)")
	assert.True(t, ticks[0].Price.Equal(px("12")))
}

func TestBuildFromHistory_ReplaysTradesInOrder(t *testing.T) {
	s := NewService(5 * time.Minute)
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	trades := []domain.Transaction{
		{StockId: 1, Currency: domain.USD, Price: px("10.00"), Quantity: 2, Timestamp: base},
		{StockId: 1, Currency: domain.USD, Price: px("10.50"), Quantity: 3, Timestamp: base.Add(time.Minute)},
	}
	s.BuildFromHistory(1, domain.USD, trades)

	q, ok := s.Snapshot(1, domain.USD)
	require.True(t, ok)
	assert.True(t, q.LastPrice.Equal(px("10.50")))
	assert.Equal(t, int64(5), q.Volume)
}

func TestSnapshot_FalseWhenNoTickHasBeenApplied(t *testing.T) {
	s := NewService(5 * time.Minute)
	_, ok := s.Snapshot(99, domain.USD)
	assert.False(t, ok)
}
