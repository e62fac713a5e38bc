package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/domain"
	"bourse/internal/store/memstore"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedFund(t *testing.T, ctx context.Context, st *memstore.Store, userId int64, currency domain.Currency, total string) {
	t.Helper()
	_, err := st.UpsertFund(ctx, domain.Fund{UserId: userId, Currency: currency, TotalBalance: d(total)})
	require.NoError(t, err)
}

func seedPosition(t *testing.T, ctx context.Context, st *memstore.Store, userId int64, stockId int64, qty int64) {
	t.Helper()
	_, err := st.UpsertPosition(ctx, domain.Position{UserId: userId, StockId: stockId, Quantity: qty})
	require.NoError(t, err)
}

// Scenario 4: Reservation correctness on partial fill.
func TestPlaceSettleCancel_ReservationCorrectnessOnPartialFill(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seedFund(t, ctx, st, 4, domain.USD, "1000.00")
	seedFund(t, ctx, st, 5, domain.USD, "0.00") // seller receiving cash
	seedPosition(t, ctx, st, 5, 1, 100)
	_, err := st.UpsertPosition(ctx, domain.Position{UserId: 5, StockId: 1, Quantity: 100, ReservedQuantity: 4})
	require.NoError(t, err)

	eng := New(st)

	buyOrder := domain.Order{
		UserId: 4, StockId: 1, Currency: domain.USD,
		Side: domain.Buy, Type: domain.LimitBuy, Price: d("50.00"), Quantity: 10, Status: domain.Open,
	}
	placed, ok, err := eng.Place(ctx, buyOrder)
	require.NoError(t, err)
	require.True(t, ok)

	fundAfterPlace, err := st.GetFund(ctx, 4, domain.USD)
	require.NoError(t, err)
	assert.True(t, fundAfterPlace.ReservedBalance.Equal(d("500.00")), "placing a 10@50 limit buy reserves 500.00")

	insertedSell, err := st.InsertOrder(ctx, domain.Order{
		UserId: 5, StockId: 1, Currency: domain.USD,
		Side: domain.Sell, Type: domain.LimitSell, Price: d("50.00"), Quantity: 4, Status: domain.Open,
	})
	require.NoError(t, err)

	placed.AmountFilled = 4
	insertedSell.AmountFilled = 4
	insertedSell.Status = domain.Filled

	trade := domain.Transaction{
		StockId: 1, Currency: domain.USD,
		BuyOrderId: placed.OrderId, SellOrderId: insertedSell.OrderId,
		BuyerId: 4, SellerId: 5, Price: d("50.00"), Quantity: 4, Timestamp: time.Now().UTC(),
	}
	_, err = eng.Settle(ctx, trade, placed, insertedSell)
	require.NoError(t, err)

	fundAfterSettle, err := st.GetFund(ctx, 4, domain.USD)
	require.NoError(t, err)
	assert.True(t, fundAfterSettle.ReservedBalance.Equal(d("300.00")), "4@50=200 consumed out of the 500 reserved, 300 remains reserved")
	assert.True(t, fundAfterSettle.TotalBalance.Equal(d("800.00")), "total drops by the 200 actually spent")

	placed.AmountFilled = 4
	cancelled, err := eng.CancelRemainder(ctx, placed.OrderId)
	require.NoError(t, err)
	assert.Equal(t, domain.Cancelled, cancelled.Status)

	fundAfterCancel, err := st.GetFund(ctx, 4, domain.USD)
	require.NoError(t, err)
	assert.True(t, fundAfterCancel.ReservedBalance.IsZero(), "cancelling the remainder releases the remaining 300 reserved")
	assert.True(t, fundAfterCancel.TotalBalance.Equal(d("800.00")), "net withdrawal across the whole scenario is exactly 200")
}

func TestPlace_InsufficientFundsRejectsWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seedFund(t, ctx, st, 1, domain.USD, "10.00")
	eng := New(st)

	order := domain.Order{
		UserId: 1, StockId: 1, Currency: domain.USD,
		Side: domain.Buy, Type: domain.LimitBuy, Price: d("50.00"), Quantity: 10, Status: domain.Open,
	}
	_, ok, err := eng.Place(ctx, order)
	require.NoError(t, err)
	assert.False(t, ok)

	open, err := st.GetOpenOrdersByUser(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, open, "a rejected placement must not persist an order")
}

func TestSettle_NoSelfMatchInvariant(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	// The buy order is inserted directly below, so its 10@10 cash is reserved
	// here as Place would have done.
	_, err := st.UpsertFund(ctx, domain.Fund{UserId: 1, Currency: domain.USD, TotalBalance: d("1000.00"), ReservedBalance: d("100.00")})
	require.NoError(t, err)
	seedFund(t, ctx, st, 2, domain.USD, "0.00")
	seedPosition(t, ctx, st, 2, 1, 50)

	pos, err := st.GetPosition(ctx, 2, 1)
	require.NoError(t, err)
	pos.ReservedQuantity = 10
	_, err = st.UpsertPosition(ctx, pos)
	require.NoError(t, err)

	eng := New(st)
	buyer, err := st.InsertOrder(ctx, domain.Order{UserId: 1, StockId: 1, Currency: domain.USD, Side: domain.Buy, Type: domain.LimitBuy, Price: d("10.00"), Quantity: 10, Status: domain.Open})
	require.NoError(t, err)
	seller, err := st.InsertOrder(ctx, domain.Order{UserId: 2, StockId: 1, Currency: domain.USD, Side: domain.Sell, Type: domain.LimitSell, Price: d("10.00"), Quantity: 10, Status: domain.Open})
	require.NoError(t, err)

	buyer.AmountFilled, seller.AmountFilled = 10, 10
	buyer.Status, seller.Status = domain.Filled, domain.Filled

	trade := domain.Transaction{
		StockId: 1, Currency: domain.USD, BuyOrderId: buyer.OrderId, SellOrderId: seller.OrderId,
		BuyerId: buyer.UserId, SellerId: seller.UserId, Price: d("10.00"), Quantity: 10, Timestamp: time.Now().UTC(),
	}
	persisted, err := eng.Settle(ctx, trade, buyer, seller)
	require.NoError(t, err)
	assert.NotEqual(t, persisted.BuyerId, persisted.SellerId)
}
