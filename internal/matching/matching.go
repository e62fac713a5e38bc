// Package matching implements the stateless taker-vs-book matching engine.
// Grounded on the teacher's internal/engine/orderbook.go Match/handleMarket
// loop (sweep the opposite side until depleted or the taker is filled),
// generalized to decimal-priced five-order-type crossing rules and an
// explicit maker-eligibility skip for self-matching.
package matching

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"bourse/internal/book"
	"bourse/internal/domain"
)

// Match crosses taker against the opposite side of b in price-time priority,
// mutating both taker and any makers it fills in place, and returns the
// resulting trades in match order together with the maker order touched by
// each trade (same length and order as trades) — the pointer the book
// itself owns, already reflecting the fill, so callers can persist it
// without a separate read. It never rests the taker — callers rest an order
// still Open and of a limit type after Match returns.
func Match(taker *domain.Order, b *book.Book) ([]domain.Transaction, []*domain.Order) {
	var trades []domain.Transaction
	var makers []*domain.Order
	opposite := domain.Sell
	if taker.Side == domain.Sell {
		opposite = domain.Buy
	}

	for taker.RemainingQuantity() > 0 {
		maker, ok := b.PeekBest(opposite, taker.UserId)
		if !ok {
			break
		}

		if !maker.IsRestable() {
			b.RemoveById(maker.OrderId)
			continue
		}

		if maker.StockId != taker.StockId || maker.Currency != taker.Currency {
			log.Error().
				Int64("makerOrderId", maker.OrderId).
				Int64("makerStockId", maker.StockId).
				Int64("takerStockId", taker.StockId).
				Msg("matching: maker stock/currency mismatch, repairing book")
			b.RemoveById(maker.OrderId)
			continue
		}

		if !crossed(taker, maker) {
			break
		}

		qty := min64(taker.RemainingQuantity(), maker.RemainingQuantity())
		if taker.Type == domain.TrueMarketBuy {
			spent := fillCost(trades)
			remainingBudget := taker.BuyBudget.Sub(spent)
			affordable := remainingBudget.Div(maker.Price).IntPart()
			if affordable < qty {
				qty = affordable
			}
			if qty <= 0 {
				break
			}
		}

		trade := buildTrade(taker, maker, maker.Price, qty)
		applyFill(taker, qty)
		applyFill(maker, qty)
		trades = append(trades, trade)
		makers = append(makers, maker)

		if !maker.IsRestable() {
			b.RemoveById(maker.OrderId)
		}
	}

	return trades, makers
}

// crossed reports whether taker's effective limit reaches maker's resting
// price (spec step 5).
func crossed(taker, maker *domain.Order) bool {
	if taker.Type == domain.TrueMarketBuy || taker.Type == domain.TrueMarketSell {
		return true
	}
	limit := taker.EffectiveTakerLimit()
	if taker.Side == domain.Buy {
		return maker.Price.LessThanOrEqual(limit)
	}
	return maker.Price.GreaterThanOrEqual(limit)
}

func applyFill(o *domain.Order, qty int64) {
	o.AmountFilled += qty
	if o.AmountFilled >= o.Quantity {
		o.Status = domain.Filled
	}
}

func buildTrade(taker, maker *domain.Order, price decimal.Decimal, qty int64) domain.Transaction {
	t := domain.Transaction{
		StockId:  taker.StockId,
		Currency: taker.Currency,
		Price:    price,
		Quantity: qty,
	}
	if taker.Side == domain.Buy {
		t.BuyOrderId, t.BuyerId = taker.OrderId, taker.UserId
		t.SellOrderId, t.SellerId = maker.OrderId, maker.UserId
	} else {
		t.BuyOrderId, t.BuyerId = maker.OrderId, maker.UserId
		t.SellOrderId, t.SellerId = taker.OrderId, taker.UserId
	}
	return t
}

func fillCost(trades []domain.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range trades {
		total = total.Add(t.Price.Mul(decimal.NewFromInt(t.Quantity)))
	}
	return total
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
