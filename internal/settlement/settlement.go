// Package settlement owns every state transition that must be atomic across
// Order/Transaction/Fund/Position: reservation on placement, settling a
// fill, cancelling a remainder and the reservation delta implied by a
// modify. Every method wraps store.Store.RunInTransaction, following the
// teacher's fmt.Errorf("...: %w") wrapping idiom throughout internal/net.
package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"bourse/internal/domain"
	"bourse/internal/money"
	"bourse/internal/portfolio"
	"bourse/internal/store"
)

// Engine is the settlement facade, grounded on spec.md §4.4.
type Engine struct {
	store store.Store
}

func New(st store.Store) *Engine {
	return &Engine{store: st}
}

// Place reserves the assets an order requires and persists it with a
// server-assigned OrderId and status Open. If reservation fails it returns
// (zero-order, false, nil) — an InvalidParameters rejection — without
// persisting anything.
func (e *Engine) Place(ctx context.Context, order domain.Order) (domain.Order, bool, error) {
	var placed domain.Order
	ok := false
	err := e.store.RunInTransaction(ctx, func(tx store.Store) error {
		reserveAmount, reserveShares, err := reservationFor(order)
		if err != nil {
			return err
		}

		if reserveAmount.GreaterThan(decimal.Zero) {
			fund, err := tx.GetFund(ctx, order.UserId, order.Currency)
			if err != nil {
				return fmt.Errorf("loading fund: %w", err)
			}
			if !portfolio.FundReserve(&fund, reserveAmount) {
				return nil // insufficient funds; ok stays false, ErrInsufficient not raised
			}
			if _, err := tx.UpsertFund(ctx, fund); err != nil {
				return fmt.Errorf("reserving fund: %w", err)
			}
		}

		if reserveShares > 0 {
			pos, err := tx.GetPosition(ctx, order.UserId, order.StockId)
			if err != nil {
				return fmt.Errorf("loading position: %w", err)
			}
			if !portfolio.PositionReserve(&pos, reserveShares) {
				return nil
			}
			if _, err := tx.UpsertPosition(ctx, pos); err != nil {
				return fmt.Errorf("reserving position: %w", err)
			}
		}

		inserted, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}
		placed = inserted
		ok = true
		return nil
	})
	if err != nil {
		return domain.Order{}, false, err
	}
	return placed, ok, nil
}

// reservationFor computes (cashToReserve, sharesToReserve) for an order at
// placement time (§4.4).
func reservationFor(order domain.Order) (decimal.Decimal, int64, error) {
	switch order.Type {
	case domain.LimitBuy:
		return money.Round(order.Price.Mul(decimal.NewFromInt(order.Quantity)), order.Currency), 0, nil
	case domain.LimitSell, domain.TrueMarketSell, domain.SlippageMarketSell:
		return decimal.Zero, order.Quantity, nil
	case domain.TrueMarketBuy:
		return money.Round(order.BuyBudget, order.Currency), 0, nil
	case domain.SlippageMarketBuy:
		worst := order.Price.
			Mul(decimal.NewFromInt(1).Add(order.SlippagePercent.Div(decimal.NewFromInt(100)))).
			Mul(decimal.NewFromInt(order.Quantity))
		return money.Round(worst, order.Currency), 0, nil
	default:
		return decimal.Zero, 0, fmt.Errorf("settlement: unknown order type %s", order.Type)
	}
}

// Settle persists trade and applies its fund/position mutations, along with
// updated buy/sell order rows, all in one transaction (§4.4). Reserved
// amounts are released via ConsumeReserved on the reserving side and
// credited via Add on the receiving side, so reserved quantities are never
// double-decremented.
func (e *Engine) Settle(ctx context.Context, trade domain.Transaction, buyOrder, sellOrder domain.Order) (domain.Transaction, error) {
	var persisted domain.Transaction
	err := e.store.RunInTransaction(ctx, func(tx store.Store) error {
		// Cash legs settle at the currency's precision (§9); the share
		// count and price itself are untouched.
		notional := money.Round(trade.Price.Mul(decimal.NewFromInt(trade.Quantity)), trade.Currency)

		buyerFund, err := tx.GetFund(ctx, buyOrder.UserId, trade.Currency)
		if err != nil {
			return fmt.Errorf("loading buyer fund: %w", err)
		}
		if !consumeBuyerCash(&buyerFund, notional) {
			return fmt.Errorf("%w: buyer %d reserved cash insufficient for trade", domain.ErrStructuralFault, buyOrder.UserId)
		}
		if _, err := tx.UpsertFund(ctx, buyerFund); err != nil {
			return fmt.Errorf("debiting buyer fund: %w", err)
		}

		buyerPosition, err := tx.GetPosition(ctx, buyOrder.UserId, trade.StockId)
		if err != nil {
			return fmt.Errorf("loading buyer position: %w", err)
		}
		portfolio.PositionAdd(&buyerPosition, trade.Quantity)
		if _, err := tx.UpsertPosition(ctx, buyerPosition); err != nil {
			return fmt.Errorf("crediting buyer position: %w", err)
		}

		sellerPosition, err := tx.GetPosition(ctx, sellOrder.UserId, trade.StockId)
		if err != nil {
			return fmt.Errorf("loading seller position: %w", err)
		}
		if !portfolio.PositionConsumeReserved(&sellerPosition, trade.Quantity) {
			return fmt.Errorf("%w: seller %d reserved shares insufficient for trade", domain.ErrStructuralFault, sellOrder.UserId)
		}
		if _, err := tx.UpsertPosition(ctx, sellerPosition); err != nil {
			return fmt.Errorf("debiting seller position: %w", err)
		}

		sellerFund, err := tx.GetFund(ctx, sellOrder.UserId, trade.Currency)
		if err != nil {
			return fmt.Errorf("loading seller fund: %w", err)
		}
		portfolio.FundAdd(&sellerFund, notional)
		if _, err := tx.UpsertFund(ctx, sellerFund); err != nil {
			return fmt.Errorf("crediting seller fund: %w", err)
		}

		if err := tx.UpdateOrder(ctx, buyOrder); err != nil {
			return fmt.Errorf("updating buy order: %w", err)
		}
		if err := tx.UpdateOrder(ctx, sellOrder); err != nil {
			return fmt.Errorf("updating sell order: %w", err)
		}

		inserted, err := tx.InsertTransaction(ctx, trade)
		if err != nil {
			return fmt.Errorf("inserting transaction: %w", err)
		}
		persisted = inserted
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	return persisted, nil
}

// consumeBuyerCash releases notional out of the buyer's reservation. Every
// buy type reserves at least notional per fill (LimitBuy/SlippageMarketBuy
// reserve it exactly or with slippage headroom, TrueMarketBuy reserves the
// whole BuyBudget up front); any unspent headroom is released later by
// CancelRemainder, not here.
func consumeBuyerCash(f *domain.Fund, notional decimal.Decimal) bool {
	return portfolio.FundConsumeReserved(f, notional)
}

// CancelRemainder releases the unused reservation proportional to an order's
// unfilled remainder and marks it Cancelled (§4.4).
func (e *Engine) CancelRemainder(ctx context.Context, orderId int64) (domain.Order, error) {
	var cancelled domain.Order
	err := e.store.RunInTransaction(ctx, func(tx store.Store) error {
		order, err := tx.GetOrder(ctx, orderId)
		if err != nil {
			return fmt.Errorf("loading order: %w", err)
		}
		if order.Status != domain.Open {
			return fmt.Errorf("%w: order %d is not open", domain.ErrCancelled, orderId)
		}

		if err := releaseRemainder(ctx, tx, order); err != nil {
			return err
		}

		order.Status = domain.Cancelled
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("updating order: %w", err)
		}
		cancelled = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return cancelled, nil
}

// releaseRemainder unreserves whatever the order still holds for its unfilled
// quantity, proportional to the original reservation.
func releaseRemainder(ctx context.Context, tx store.Store, order domain.Order) error {
	remaining := order.RemainingQuantity()
	if remaining <= 0 {
		return nil
	}

	switch order.Type {
	case domain.LimitBuy:
		amount := money.Round(order.Price.Mul(decimal.NewFromInt(remaining)), order.Currency)
		return unreserveFund(ctx, tx, order.UserId, order.Currency, amount)
	case domain.TrueMarketBuy:
		spent := money.Round(order.Price.Mul(decimal.NewFromInt(order.AmountFilled)), order.Currency)
		unspent := order.BuyBudget.Sub(spent)
		if unspent.LessThanOrEqual(decimal.Zero) {
			return nil
		}
		return unreserveFund(ctx, tx, order.UserId, order.Currency, unspent)
	case domain.SlippageMarketBuy:
		worstPerShare := order.Price.Mul(decimal.NewFromInt(1).Add(order.SlippagePercent.Div(decimal.NewFromInt(100))))
		amount := money.Round(worstPerShare.Mul(decimal.NewFromInt(remaining)), order.Currency)
		return unreserveFund(ctx, tx, order.UserId, order.Currency, amount)
	case domain.LimitSell, domain.TrueMarketSell, domain.SlippageMarketSell:
		return unreservePosition(ctx, tx, order.UserId, order.StockId, remaining)
	default:
		return fmt.Errorf("settlement: unknown order type %s", order.Type)
	}
}

func unreserveFund(ctx context.Context, tx store.Store, userId int64, currency domain.Currency, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	fund, err := tx.GetFund(ctx, userId, currency)
	if err != nil {
		return fmt.Errorf("loading fund: %w", err)
	}
	// Clamp: accumulated rounding across many small fills could otherwise
	// push the release request a hair past what remains reserved.
	if amount.GreaterThan(fund.ReservedBalance) {
		amount = fund.ReservedBalance
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	if !portfolio.FundUnreserve(&fund, amount) {
		return fmt.Errorf("%w: cannot unreserve %s for user %d", domain.ErrStructuralFault, amount, userId)
	}
	_, err = tx.UpsertFund(ctx, fund)
	return err
}

func unreservePosition(ctx context.Context, tx store.Store, userId int64, stockId int64, qty int64) error {
	if qty <= 0 {
		return nil
	}
	pos, err := tx.GetPosition(ctx, userId, stockId)
	if err != nil {
		return fmt.Errorf("loading position: %w", err)
	}
	if qty > pos.ReservedQuantity {
		qty = pos.ReservedQuantity
	}
	if qty <= 0 {
		return nil
	}
	if !portfolio.PositionUnreserve(&pos, qty) {
		return fmt.Errorf("%w: cannot unreserve %d shares for user %d", domain.ErrStructuralFault, qty, userId)
	}
	_, err = tx.UpsertPosition(ctx, pos)
	return err
}

// ModifyDelta computes and applies the reservation delta implied by
// replacing an order's price/quantity, before the caller re-matches it
// (§4.4, §4.3's Cancel+Replace semantics).
func (e *Engine) ModifyDelta(ctx context.Context, before, after domain.Order) error {
	return e.store.RunInTransaction(ctx, func(tx store.Store) error {
		// Reservation is linear in quantity for every order type, so the
		// currently-held reservation is what reservationFor would compute for
		// an order whose Quantity is its *remaining* quantity, not its
		// original one.
		beforeRemaining := before
		beforeRemaining.Quantity = before.RemainingQuantity()
		afterRemaining := after
		afterRemaining.Quantity = after.RemainingQuantity()

		beforeAmount, beforeShares, err := reservationFor(beforeRemaining)
		if err != nil {
			return err
		}
		afterAmount, afterShares, err := reservationFor(afterRemaining)
		if err != nil {
			return err
		}

		if err := applyFundDelta(ctx, tx, before.UserId, before.Currency, afterAmount.Sub(beforeAmount)); err != nil {
			return err
		}
		return applyPositionDelta(ctx, tx, before.UserId, before.StockId, afterShares-beforeShares)
	})
}

func applyFundDelta(ctx context.Context, tx store.Store, userId int64, currency domain.Currency, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	fund, err := tx.GetFund(ctx, userId, currency)
	if err != nil {
		return fmt.Errorf("loading fund: %w", err)
	}
	if delta.GreaterThan(decimal.Zero) {
		if !portfolio.FundReserve(&fund, delta) {
			return fmt.Errorf("%w: insufficient available funds for modify", domain.ErrStructuralFault)
		}
	} else {
		if !portfolio.FundUnreserve(&fund, delta.Neg()) {
			return fmt.Errorf("%w: cannot release modify delta", domain.ErrStructuralFault)
		}
	}
	_, err = tx.UpsertFund(ctx, fund)
	return err
}

func applyPositionDelta(ctx context.Context, tx store.Store, userId int64, stockId int64, delta int64) error {
	if delta == 0 {
		return nil
	}
	pos, err := tx.GetPosition(ctx, userId, stockId)
	if err != nil {
		return fmt.Errorf("loading position: %w", err)
	}
	if delta > 0 {
		if !portfolio.PositionReserve(&pos, delta) {
			return fmt.Errorf("%w: insufficient available shares for modify", domain.ErrStructuralFault)
		}
	} else {
		if !portfolio.PositionUnreserve(&pos, -delta) {
			return fmt.Errorf("%w: cannot release modify delta", domain.ErrStructuralFault)
		}
	}
	_, err = tx.UpsertPosition(ctx, pos)
	return err
}
