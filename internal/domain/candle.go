package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one closed (or live) OHLCV bucket. The unique key is
// (StockId, Currency, BucketSeconds, OpenTime).
type Candle struct {
	StockId    int64
	Currency   Currency
	Bucket     CandleResolution
	OpenTime   time.Time
	CloseTime  time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     int64
	TradeCount int64
}

// Clone returns a value copy suitable for handing to a reader without
// sharing mutable aggregator state.
func (c *Candle) Clone() Candle {
	return *c
}
