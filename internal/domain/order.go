package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stock is a tradable security. Created once by catalog bootstrap; never
// deleted by the core.
type Stock struct {
	StockId     int64
	Symbol      string // uppercase, 1-10 chars of [A-Z0-9.-], unique
	CompanyName string
}

// Order is a single buy or sell instruction. OrderId is server-assigned at
// persistence time (§3); zero means "not yet placed".
type Order struct {
	OrderId         int64
	UserId          int64
	StockId         int64
	Currency        Currency
	Side            Side
	Type            OrderType
	Price           decimal.Decimal // positive; zero for TrueMarket
	SlippagePercent decimal.Decimal // 0-100, SlippageMarket only
	Quantity        int64           // original requested quantity
	AmountFilled    int64
	Status          OrderStatus
	BuyBudget       decimal.Decimal // TrueMarketBuy only
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RemainingQuantity is Quantity - AmountFilled, never negative in a
// consistent order.
func (o *Order) RemainingQuantity() int64 {
	r := o.Quantity - o.AmountFilled
	if r < 0 {
		return 0
	}
	return r
}

// IsRestable reports whether the order belongs on the book: open and limit.
func (o *Order) IsRestable() bool {
	return o.Status == Open && o.Type.IsLimit()
}

// EffectiveTakerLimit returns the price beyond which the taker will not
// cross, per §4.2 step 5. anchor is the order's own Price field, used as the
// slippage anchor for SlippageMarket orders (§9: "the caller-supplied anchor
// is authoritative").
func (o *Order) EffectiveTakerLimit() decimal.Decimal {
	switch o.Type {
	case LimitBuy, LimitSell:
		return o.Price
	case SlippageMarketBuy:
		return o.Price.Mul(decimal.NewFromInt(1).Add(o.SlippagePercent.Div(decimal.NewFromInt(100))))
	case SlippageMarketSell:
		return o.Price.Mul(decimal.NewFromInt(1).Sub(o.SlippagePercent.Div(decimal.NewFromInt(100))))
	default:
		// TrueMarket: no limit, always crosses.
		return decimal.Zero
	}
}

// Transaction is an immutable trade record. All fields are write-once.
type Transaction struct {
	TransactionId int64
	StockId       int64
	Currency      Currency
	BuyOrderId    int64
	SellOrderId   int64
	BuyerId       int64
	SellerId      int64
	Price         decimal.Decimal
	Quantity      int64
	Timestamp     time.Time
}

// Fund is a per (user, currency) cash row.
type Fund struct {
	FundId          int64
	UserId          int64
	Currency        Currency
	TotalBalance    decimal.Decimal
	ReservedBalance decimal.Decimal
}

func (f *Fund) Available() decimal.Decimal {
	return f.TotalBalance.Sub(f.ReservedBalance)
}

// Position is a per (user, stock) share row.
type Position struct {
	PositionId       int64
	UserId           int64
	StockId          int64
	Quantity         int64
	ReservedQuantity int64
}

func (p *Position) Available() int64 {
	return p.Quantity - p.ReservedQuantity
}
