package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AIUser configures one synthetic-liquidity participant. Probability
// parameters are all in [0,1]; limit parameters are percentages in [0,100]
// unless noted.
type AIUser struct {
	AiUserId int64
	UserId   int64 // 1:1 with User

	Seed             int64
	DecisionInterval time.Duration
	Watchlist        []int64 // StockId set

	OnlineProb             decimal.Decimal
	TradeProb               decimal.Decimal
	UseMarketProb           decimal.Decimal
	UseSlippageMarketProb   decimal.Decimal
	Aggressiveness          decimal.Decimal // jitter multiplier in limit offset calc

	MaxDailyTrades   int
	MaxOpenOrders    int
	MinCashReservePrc decimal.Decimal
	MaxCashReservePrc decimal.Decimal
	MinTradeAmountPrc decimal.Decimal
	MaxTradeAmountPrc decimal.Decimal
	PerPositionMaxPrc decimal.Decimal

	// Per-day counters, reset at UTC midnight.
	TradesToday int
	LastResetAt time.Time

	// IsEnabled is recomputed once per online-probability tick.
	IsEnabled bool
}
