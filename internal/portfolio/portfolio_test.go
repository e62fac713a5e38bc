package portfolio

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/domain"
	"bourse/internal/store/memstore"
)

func TestFundReserve_RejectsAmountBeyondAvailable(t *testing.T) {
	f := &domain.Fund{TotalBalance: d("100.00")}
	assert.False(t, FundReserve(f, d("100.01")))
	assert.True(t, f.ReservedBalance.IsZero())
}

func TestFund_ReservationRoundTripReturnsPriorState(t *testing.T) {
	f := &domain.Fund{TotalBalance: d("500.00")}
	require.True(t, FundReserve(f, d("200.00")))
	require.True(t, FundUnreserve(f, d("200.00")))
	assert.True(t, f.TotalBalance.Equal(d("500.00")))
	assert.True(t, f.ReservedBalance.IsZero())
}

func TestFund_ReserveThenConsumeEqualsWithdraw(t *testing.T) {
	viaConsume := &domain.Fund{TotalBalance: d("500.00")}
	require.True(t, FundReserve(viaConsume, d("200.00")))
	require.True(t, FundConsumeReserved(viaConsume, d("200.00")))

	viaWithdraw := &domain.Fund{TotalBalance: d("500.00")}
	require.True(t, FundWithdraw(viaWithdraw, d("200.00")))

	assert.True(t, viaConsume.TotalBalance.Equal(viaWithdraw.TotalBalance))
}

func TestFundConsumeReserved_NeverExceedsReserved(t *testing.T) {
	f := &domain.Fund{TotalBalance: d("100.00"), ReservedBalance: d("50.00")}
	assert.False(t, FundConsumeReserved(f, d("50.01")))
	assert.True(t, FundConsumeReserved(f, d("50.00")))
	assert.True(t, f.TotalBalance.Equal(d("50.00")))
	assert.True(t, f.ReservedBalance.IsZero())
}

func TestPosition_ReserveThenConsumeReserved(t *testing.T) {
	p := &domain.Position{Quantity: 100}
	require.True(t, PositionReserve(p, 40))
	assert.False(t, PositionReserve(p, 61), "only 60 remain available")
	require.True(t, PositionConsumeReserved(p, 40))
	assert.Equal(t, int64(60), p.Quantity)
	assert.Equal(t, int64(0), p.ReservedQuantity)
}

func TestPositionAdd_RejectsNonPositiveQuantity(t *testing.T) {
	p := &domain.Position{}
	assert.False(t, PositionAdd(p, 0))
	assert.False(t, PositionAdd(p, -5))
	assert.True(t, PositionAdd(p, 5))
	assert.Equal(t, int64(5), p.Quantity)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNormalize_IsANoOpWhenStoreHasNoDuplicateRows(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	_, err := st.UpsertFund(ctx, domain.Fund{UserId: 1, Currency: domain.USD, TotalBalance: d("100.00"), ReservedBalance: d("10.00")})
	require.NoError(t, err)
	_, err = st.UpsertPosition(ctx, domain.Position{UserId: 1, StockId: 7, Quantity: 20, ReservedQuantity: 5})
	require.NoError(t, err)

	require.NoError(t, Normalize(ctx, st, 1))

	funds, err := st.ListFundsByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, funds, 1)
	assert.True(t, funds[0].TotalBalance.Equal(d("100.00")))
	assert.True(t, funds[0].ReservedBalance.Equal(d("10.00")))

	positions, err := st.ListPositionsByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(20), positions[0].Quantity)
	assert.Equal(t, int64(5), positions[0].ReservedQuantity)
}
