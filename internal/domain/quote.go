package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LiveQuote is the durable shape of a session quote. The mutable, serialized
// object that applies ticks lives in internal/marketdata; this is its
// snapshot/wire representation.
type LiveQuote struct {
	StockId         int64
	Currency        Currency
	Open            decimal.Decimal
	High            decimal.Decimal
	Low             decimal.Decimal
	LastPrice       decimal.Decimal
	Volume          int64
	ChangePct       decimal.Decimal
	LastUpdated     time.Time
	SessionStartUtc time.Time
}
