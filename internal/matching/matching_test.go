package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/book"
	"bourse/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func restingSell(id, userId int64, price string, qty int64) *domain.Order {
	return &domain.Order{
		OrderId: id, UserId: userId, StockId: 1, Currency: domain.USD,
		Side: domain.Sell, Type: domain.LimitSell, Price: d(price), Quantity: qty, Status: domain.Open,
	}
}

// Scenario 1: Cross and rest.
func TestMatch_CrossAndRest(t *testing.T) {
	b := book.New()
	require.NoError(t, b.UpsertOrder(restingSell(1, 2, "100.00", 10)))
	require.NoError(t, b.UpsertOrder(restingSell(2, 3, "100.50", 5)))

	taker := &domain.Order{
		OrderId: 3, UserId: 1, StockId: 1, Currency: domain.USD,
		Side: domain.Buy, Type: domain.LimitBuy, Price: d("100.25"), Quantity: 8, Status: domain.Open,
	}

	trades, _ := Match(taker, b)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(d("100.00")))
	assert.Equal(t, int64(8), trades[0].Quantity)
	assert.Equal(t, domain.Filled, taker.Status)

	bids, asks := b.Snapshot()
	assert.Empty(t, bids)
	require.Len(t, asks, 2)
	assert.Equal(t, int64(2), asks[0].RemainingQuantity(), "S1 should have 2 remaining")
}

// Scenario 2: Self-match skip.
func TestMatch_SelfMatchSkip(t *testing.T) {
	b := book.New()
	require.NoError(t, b.UpsertOrder(restingSell(1, 1, "99.00", 5)))
	require.NoError(t, b.UpsertOrder(restingSell(2, 2, "100.00", 5)))

	taker := &domain.Order{
		OrderId: 3, UserId: 1, StockId: 1, Currency: domain.USD,
		Side: domain.Buy, Type: domain.TrueMarketBuy, Quantity: 5, BuyBudget: d("500.00"), Status: domain.Open,
	}

	trades, _ := Match(taker, b)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(d("100.00")))
	assert.Equal(t, int64(2), trades[0].SellerId)

	_, asks := b.Snapshot()
	require.Len(t, asks, 1, "user 1's own resting sell must remain untouched")
	assert.Equal(t, int64(1), asks[0].OrderId)
}

// Scenario 3: TrueMarket budget cap.
func TestMatch_TrueMarketBudgetCap(t *testing.T) {
	b := book.New()
	require.NoError(t, b.UpsertOrder(restingSell(1, 2, "100.00", 5)))
	require.NoError(t, b.UpsertOrder(restingSell(2, 2, "110.00", 10)))

	taker := &domain.Order{
		OrderId: 3, UserId: 1, StockId: 1, Currency: domain.USD,
		Side: domain.Buy, Type: domain.TrueMarketBuy, Quantity: 100, BuyBudget: d("700.00"), Status: domain.Open,
	}

	trades, _ := Match(taker, b)
	require.Len(t, trades, 2)
	assert.True(t, trades[0].Price.Equal(d("100.00")))
	assert.Equal(t, int64(5), trades[0].Quantity)
	assert.True(t, trades[1].Price.Equal(d("110.00")))
	assert.Equal(t, int64(1), trades[1].Quantity)

	spent := d("0")
	for _, tr := range trades {
		spent = spent.Add(tr.Price.Mul(decimal.NewFromInt(tr.Quantity)))
	}
	assert.True(t, spent.Equal(d("610.00")))
	assert.Equal(t, domain.Open, taker.Status, "unfilled remainder is left for the caller to cancel")
	assert.Equal(t, int64(94), taker.RemainingQuantity())
}

func TestMatch_EmptyOppositeBookIsIdempotent(t *testing.T) {
	b := book.New()
	taker := &domain.Order{
		OrderId: 1, UserId: 1, StockId: 1, Currency: domain.USD,
		Side: domain.Buy, Type: domain.LimitBuy, Price: d("10.00"), Quantity: 5, Status: domain.Open,
	}
	trades, _ := Match(taker, b)
	assert.Empty(t, trades)
	assert.Equal(t, int64(0), taker.AmountFilled)
	assert.Equal(t, domain.Open, taker.Status)
}

func TestMatch_NoCrossLeavesBookUntouched(t *testing.T) {
	b := book.New()
	require.NoError(t, b.UpsertOrder(restingSell(1, 2, "100.00", 10)))

	taker := &domain.Order{
		OrderId: 2, UserId: 1, StockId: 1, Currency: domain.USD,
		Side: domain.Buy, Type: domain.LimitBuy, Price: d("99.00"), Quantity: 5, Status: domain.Open,
	}
	trades, _ := Match(taker, b)
	assert.Empty(t, trades)
}

func TestMatch_SlippageMarketBuyUsesEffectiveLimit(t *testing.T) {
	b := book.New()
	require.NoError(t, b.UpsertOrder(restingSell(1, 2, "105.00", 10)))

	taker := &domain.Order{
		OrderId: 2, UserId: 1, StockId: 1, Currency: domain.USD,
		Side: domain.Buy, Type: domain.SlippageMarketBuy, Price: d("100.00"),
		SlippagePercent: d("4"), Quantity: 5, Status: domain.Open,
	}
	// anchor*(1+4%) = 104.00, which does not reach the 105.00 ask.
	trades, _ := Match(taker, b)
	assert.Empty(t, trades)

	taker.SlippagePercent = d("6")
	trades, _ = Match(taker, b)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(d("105.00")), "execution price is always the maker's price")
}
