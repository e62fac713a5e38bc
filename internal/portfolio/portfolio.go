// Package portfolio implements the cash/share state machine: Add, Withdraw,
// Reserve, Unreserve and ConsumeReserved over Fund and Position, plus a
// Normalize sweep that consolidates duplicate rows.
//
// These are pure, in-memory mutators over *domain.Fund / *domain.Position —
// grounded on spec.md §4.5's "primitive, idempotent-when-safe mutations with
// explicit failure semantics". internal/settlement is the only caller that
// wires them to persistence, inside one RunInTransaction body.
package portfolio

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"bourse/internal/domain"
	"bourse/internal/store"
)

// FundAdd credits amount to f.TotalBalance. amount must be positive.
func FundAdd(f *domain.Fund, amount decimal.Decimal) bool {
	if amount.LessThanOrEqual(decimal.Zero) {
		return false
	}
	f.TotalBalance = f.TotalBalance.Add(amount)
	return true
}

// FundWithdraw debits amount from f.TotalBalance; amount must not exceed
// Available.
func FundWithdraw(f *domain.Fund, amount decimal.Decimal) bool {
	if amount.LessThanOrEqual(decimal.Zero) || amount.GreaterThan(f.Available()) {
		return false
	}
	f.TotalBalance = f.TotalBalance.Sub(amount)
	return true
}

// FundReserve earmarks amount as unavailable; amount must not exceed
// Available.
func FundReserve(f *domain.Fund, amount decimal.Decimal) bool {
	if amount.LessThanOrEqual(decimal.Zero) || amount.GreaterThan(f.Available()) {
		return false
	}
	f.ReservedBalance = f.ReservedBalance.Add(amount)
	return true
}

// FundUnreserve releases a previously earmarked amount back to Available;
// amount must not exceed Reserved.
func FundUnreserve(f *domain.Fund, amount decimal.Decimal) bool {
	if amount.LessThanOrEqual(decimal.Zero) || amount.GreaterThan(f.ReservedBalance) {
		return false
	}
	f.ReservedBalance = f.ReservedBalance.Sub(amount)
	return true
}

// FundConsumeReserved finalizes a reserved amount as spent: Reserved and
// Total both decrease. amount must not exceed Reserved.
func FundConsumeReserved(f *domain.Fund, amount decimal.Decimal) bool {
	if amount.LessThanOrEqual(decimal.Zero) || amount.GreaterThan(f.ReservedBalance) {
		return false
	}
	f.ReservedBalance = f.ReservedBalance.Sub(amount)
	f.TotalBalance = f.TotalBalance.Sub(amount)
	return true
}

// PositionAdd credits qty shares to p.Quantity; qty must be positive.
func PositionAdd(p *domain.Position, qty int64) bool {
	if qty <= 0 {
		return false
	}
	p.Quantity += qty
	return true
}

// PositionWithdraw removes qty shares from p.Quantity; qty must not exceed
// Available.
func PositionWithdraw(p *domain.Position, qty int64) bool {
	if qty <= 0 || qty > p.Available() {
		return false
	}
	p.Quantity -= qty
	return true
}

// PositionReserve earmarks qty shares; qty must not exceed Available.
func PositionReserve(p *domain.Position, qty int64) bool {
	if qty <= 0 || qty > p.Available() {
		return false
	}
	p.ReservedQuantity += qty
	return true
}

// PositionUnreserve releases qty reserved shares; qty must not exceed
// ReservedQuantity.
func PositionUnreserve(p *domain.Position, qty int64) bool {
	if qty <= 0 || qty > p.ReservedQuantity {
		return false
	}
	p.ReservedQuantity -= qty
	return true
}

// PositionConsumeReserved finalizes qty reserved shares as delivered:
// ReservedQuantity and Quantity both decrease.
func PositionConsumeReserved(p *domain.Position, qty int64) bool {
	if qty <= 0 || qty > p.ReservedQuantity {
		return false
	}
	p.ReservedQuantity -= qty
	p.Quantity -= qty
	return true
}

// Normalize consolidates duplicate Fund rows per (userId, currency) and
// duplicate Position rows per (userId, stockId), summing Totals and
// Reserved, clamping Reserved to Total and Total to >= 0, and deleting all
// but the lowest-id row per key, all within one transaction (§4.5).
func Normalize(ctx context.Context, st store.Store, userId int64) error {
	return st.RunInTransaction(ctx, func(tx store.Store) error {
		if err := normalizeFunds(ctx, tx, userId); err != nil {
			return fmt.Errorf("normalizing funds: %w", err)
		}
		if err := normalizePositions(ctx, tx, userId); err != nil {
			return fmt.Errorf("normalizing positions: %w", err)
		}
		return nil
	})
}

func normalizeFunds(ctx context.Context, tx store.Store, userId int64) error {
	funds, err := tx.ListFundsByUser(ctx, userId)
	if err != nil {
		return err
	}
	groups := make(map[domain.Currency][]domain.Fund)
	for _, f := range funds {
		groups[f.Currency] = append(groups[f.Currency], f)
	}
	for _, rows := range groups {
		if len(rows) < 2 {
			continue
		}
		keep := rows[0]
		for _, r := range rows[1:] {
			if r.FundId < keep.FundId {
				keep = r
			}
		}
		total := decimal.Zero
		reserved := decimal.Zero
		for _, r := range rows {
			total = total.Add(r.TotalBalance)
			reserved = reserved.Add(r.ReservedBalance)
		}
		if total.LessThan(decimal.Zero) {
			total = decimal.Zero
		}
		if reserved.GreaterThan(total) {
			reserved = total
		}
		keep.TotalBalance = total
		keep.ReservedBalance = reserved
		if _, err := tx.UpsertFund(ctx, keep); err != nil {
			return err
		}
		for _, r := range rows {
			if r.FundId != keep.FundId {
				if err := tx.DeleteFund(ctx, r.FundId); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func normalizePositions(ctx context.Context, tx store.Store, userId int64) error {
	positions, err := tx.ListPositionsByUser(ctx, userId)
	if err != nil {
		return err
	}
	groups := make(map[int64][]domain.Position)
	for _, p := range positions {
		groups[p.StockId] = append(groups[p.StockId], p)
	}
	for _, rows := range groups {
		if len(rows) < 2 {
			continue
		}
		keep := rows[0]
		for _, r := range rows[1:] {
			if r.PositionId < keep.PositionId {
				keep = r
			}
		}
		var total, reserved int64
		for _, r := range rows {
			total += r.Quantity
			reserved += r.ReservedQuantity
		}
		if total < 0 {
			total = 0
		}
		if reserved > total {
			reserved = total
		}
		keep.Quantity = total
		keep.ReservedQuantity = reserved
		if _, err := tx.UpsertPosition(ctx, keep); err != nil {
			return err
		}
		for _, r := range rows {
			if r.PositionId != keep.PositionId {
				if err := tx.DeletePosition(ctx, r.PositionId); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
