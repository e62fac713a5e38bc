package wire

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bourse/internal/domain"
)

func TestPlaceOrder_RoundTripsThroughEncodeAndParse(t *testing.T) {
	order := domain.Order{
		UserId: 7, StockId: 42, Currency: domain.EUR,
		Side: domain.Buy, Type: domain.LimitBuy,
		Price: decimal.RequireFromString("123.45"), Quantity: 10,
	}
	encoded := EncodePlaceOrder(order)

	decoded, err := ParseMessage(encoded)
	require.NoError(t, err)
	msg, ok := decoded.(PlaceOrderMessage)
	require.True(t, ok)

	assert.Equal(t, domain.LimitBuy, msg.OrderType)
	assert.Equal(t, domain.EUR, msg.Currency)
	assert.True(t, msg.Price.Equal(decimal.RequireFromString("123.45")))
	assert.Equal(t, int64(10), msg.Quantity)
	assert.Equal(t, domain.Buy, msg.Side)
	assert.Equal(t, int64(7), msg.UserId)
	assert.Equal(t, int64(42), msg.StockId)

	reconstructed := msg.Order()
	assert.Equal(t, order.UserId, reconstructed.UserId)
	assert.True(t, reconstructed.Price.Equal(order.Price))
}

func TestPlaceOrder_RoundTripsSlippageAndBuyBudget(t *testing.T) {
	order := domain.Order{
		UserId: 1, StockId: 1, Currency: domain.USD,
		Side: domain.Buy, Type: domain.SlippageMarketBuy,
		Price: decimal.RequireFromString("50.00"), SlippagePercent: decimal.RequireFromString("2.5"),
		Quantity: 3,
	}
	decoded, err := ParseMessage(EncodePlaceOrder(order))
	require.NoError(t, err)
	msg := decoded.(PlaceOrderMessage)
	assert.True(t, msg.SlippagePercent.Equal(decimal.RequireFromString("2.5")))

	marketOrder := domain.Order{
		UserId: 1, StockId: 1, Currency: domain.USD,
		Side: domain.Buy, Type: domain.TrueMarketBuy,
		BuyBudget: decimal.RequireFromString("1000.00"), Quantity: 5,
	}
	decoded2, err := ParseMessage(EncodePlaceOrder(marketOrder))
	require.NoError(t, err)
	msg2 := decoded2.(PlaceOrderMessage)
	assert.True(t, msg2.BuyBudget.Equal(decimal.RequireFromString("1000.00")))
}

func TestCancelOrder_RoundTripsThroughEncodeAndParse(t *testing.T) {
	decoded, err := ParseMessage(EncodeCancelOrder(99))
	require.NoError(t, err)
	msg, ok := decoded.(CancelOrderMessage)
	require.True(t, ok)
	assert.Equal(t, int64(99), msg.OrderId)
}

func TestModifyOrder_RoundTripsWithAndWithoutNewPrice(t *testing.T) {
	decoded, err := ParseMessage(EncodeModifyOrder(5, 20, nil))
	require.NoError(t, err)
	msg := decoded.(ModifyOrderMessage)
	assert.Equal(t, int64(5), msg.OrderId)
	assert.Equal(t, int64(20), msg.NewQuantity)
	assert.False(t, msg.HasNewPrice)

	newPrice := decimal.RequireFromString("77.77")
	decoded2, err := ParseMessage(EncodeModifyOrder(5, 20, &newPrice))
	require.NoError(t, err)
	msg2 := decoded2.(ModifyOrderMessage)
	require.True(t, msg2.HasNewPrice)
	assert.True(t, msg2.NewPrice.Equal(newPrice))
}

func TestParseMessage_RejectsUnknownType(t *testing.T) {
	_, err := ParseMessage([]byte{0xFF, 0xFF})
	assert.ErrorIs(t, err, ErrInvalidMessageType)
}

func TestParseMessage_RejectsTooShortMessage(t *testing.T) {
	_, err := ParseMessage([]byte{0x00})
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

func TestReport_SerializeEmbedsMessageTail(t *testing.T) {
	r := NewErrorReport(assertableError("insufficient funds"))
	buf, err := r.Serialize()
	require.NoError(t, err)
	assert.True(t, len(buf) > reportFixedHeaderLen)
	assert.Equal(t, byte(ErrorReport), buf[0])
}

type assertableError string

func (e assertableError) Error() string { return string(e) }
