package gormstore

import (
	"strconv"
	"strings"
	"time"

	"bourse/internal/domain"
)

func toStockRow(s domain.Stock) stockRow {
	return stockRow{StockId: s.StockId, Symbol: s.Symbol, CompanyName: s.CompanyName}
}

func fromStockRow(r stockRow) domain.Stock {
	return domain.Stock{StockId: r.StockId, Symbol: r.Symbol, CompanyName: r.CompanyName}
}

func toOrderRow(o domain.Order) orderRow {
	return orderRow{
		OrderId:         o.OrderId,
		UserId:          o.UserId,
		StockId:         o.StockId,
		Currency:        int(o.Currency),
		Side:            int(o.Side),
		Type:            int(o.Type),
		Price:           o.Price,
		SlippagePercent: o.SlippagePercent,
		Quantity:        o.Quantity,
		AmountFilled:    o.AmountFilled,
		Status:          int(o.Status),
		BuyBudget:       o.BuyBudget,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func fromOrderRow(r orderRow) domain.Order {
	return domain.Order{
		OrderId:         r.OrderId,
		UserId:          r.UserId,
		StockId:         r.StockId,
		Currency:        domain.Currency(r.Currency),
		Side:            domain.Side(r.Side),
		Type:            domain.OrderType(r.Type),
		Price:           r.Price,
		SlippagePercent: r.SlippagePercent,
		Quantity:        r.Quantity,
		AmountFilled:    r.AmountFilled,
		Status:          domain.OrderStatus(r.Status),
		BuyBudget:       r.BuyBudget,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func fromOrderRows(rows []orderRow) []domain.Order {
	out := make([]domain.Order, len(rows))
	for i, r := range rows {
		out[i] = fromOrderRow(r)
	}
	return out
}

func toTransactionRow(t domain.Transaction) transactionRow {
	return transactionRow{
		TransactionId: t.TransactionId,
		StockId:       t.StockId,
		Currency:      int(t.Currency),
		BuyOrderId:    t.BuyOrderId,
		SellOrderId:   t.SellOrderId,
		BuyerId:       t.BuyerId,
		SellerId:      t.SellerId,
		Price:         t.Price,
		Quantity:      t.Quantity,
		Timestamp:     t.Timestamp,
	}
}

func fromTransactionRow(r transactionRow) domain.Transaction {
	return domain.Transaction{
		TransactionId: r.TransactionId,
		StockId:       r.StockId,
		Currency:      domain.Currency(r.Currency),
		BuyOrderId:    r.BuyOrderId,
		SellOrderId:   r.SellOrderId,
		BuyerId:       r.BuyerId,
		SellerId:      r.SellerId,
		Price:         r.Price,
		Quantity:      r.Quantity,
		Timestamp:     r.Timestamp,
	}
}

func toFundRow(f domain.Fund) fundRow {
	return fundRow{
		FundId:          f.FundId,
		UserId:          f.UserId,
		Currency:        int(f.Currency),
		TotalBalance:    f.TotalBalance,
		ReservedBalance: f.ReservedBalance,
	}
}

func fromFundRow(r fundRow) domain.Fund {
	return domain.Fund{
		FundId:          r.FundId,
		UserId:          r.UserId,
		Currency:        domain.Currency(r.Currency),
		TotalBalance:    r.TotalBalance,
		ReservedBalance: r.ReservedBalance,
	}
}

func toPositionRow(p domain.Position) positionRow {
	return positionRow{
		PositionId:       p.PositionId,
		UserId:           p.UserId,
		StockId:          p.StockId,
		Quantity:         p.Quantity,
		ReservedQuantity: p.ReservedQuantity,
	}
}

func fromPositionRow(r positionRow) domain.Position {
	return domain.Position{
		PositionId:       r.PositionId,
		UserId:           r.UserId,
		StockId:          r.StockId,
		Quantity:         r.Quantity,
		ReservedQuantity: r.ReservedQuantity,
	}
}

func toCandleRow(c domain.Candle) candleRow {
	return candleRow{
		StockId:    c.StockId,
		Currency:   int(c.Currency),
		Bucket:     int64(c.Bucket),
		OpenTime:   c.OpenTime,
		CloseTime:  c.CloseTime,
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		Volume:     c.Volume,
		TradeCount: c.TradeCount,
	}
}

func fromCandleRow(r candleRow) domain.Candle {
	return domain.Candle{
		StockId:    r.StockId,
		Currency:   domain.Currency(r.Currency),
		Bucket:     domain.CandleResolution(r.Bucket),
		OpenTime:   r.OpenTime,
		CloseTime:  r.CloseTime,
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
	}
}

func toAIUserRow(a domain.AIUser) aiUserRow {
	ids := make([]string, len(a.Watchlist))
	for i, id := range a.Watchlist {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return aiUserRow{
		AiUserId:              a.AiUserId,
		UserId:                a.UserId,
		Seed:                  a.Seed,
		DecisionIntervalNanos: a.DecisionInterval.Nanoseconds(),
		WatchlistCSV:          strings.Join(ids, ","),
		OnlineProb:            a.OnlineProb,
		TradeProb:             a.TradeProb,
		UseMarketProb:         a.UseMarketProb,
		UseSlippageMarketProb: a.UseSlippageMarketProb,
		Aggressiveness:        a.Aggressiveness,
		MaxDailyTrades:        a.MaxDailyTrades,
		MaxOpenOrders:         a.MaxOpenOrders,
		MinCashReservePrc:     a.MinCashReservePrc,
		MaxCashReservePrc:     a.MaxCashReservePrc,
		MinTradeAmountPrc:     a.MinTradeAmountPrc,
		MaxTradeAmountPrc:     a.MaxTradeAmountPrc,
		PerPositionMaxPrc:     a.PerPositionMaxPrc,
		TradesToday:           a.TradesToday,
		LastResetAt:           a.LastResetAt,
	}
}

func fromAIUserRow(r aiUserRow) domain.AIUser {
	var watchlist []int64
	if r.WatchlistCSV != "" {
		parts := strings.Split(r.WatchlistCSV, ",")
		watchlist = make([]int64, 0, len(parts))
		for _, p := range parts {
			id, err := strconv.ParseInt(p, 10, 64)
			if err == nil {
				watchlist = append(watchlist, id)
			}
		}
	}
	return domain.AIUser{
		AiUserId:              r.AiUserId,
		UserId:                r.UserId,
		Seed:                  r.Seed,
		DecisionInterval:      time.Duration(r.DecisionIntervalNanos),
		Watchlist:             watchlist,
		OnlineProb:            r.OnlineProb,
		TradeProb:             r.TradeProb,
		UseMarketProb:         r.UseMarketProb,
		UseSlippageMarketProb: r.UseSlippageMarketProb,
		Aggressiveness:        r.Aggressiveness,
		MaxDailyTrades:        r.MaxDailyTrades,
		MaxOpenOrders:         r.MaxOpenOrders,
		MinCashReservePrc:     r.MinCashReservePrc,
		MaxCashReservePrc:     r.MaxCashReservePrc,
		MinTradeAmountPrc:     r.MinTradeAmountPrc,
		MaxTradeAmountPrc:     r.MaxTradeAmountPrc,
		PerPositionMaxPrc:     r.PerPositionMaxPrc,
		TradesToday:           r.TradesToday,
		LastResetAt:           r.LastResetAt,
	}
}
