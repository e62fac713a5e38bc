// Package execution implements OrderExecutionService: the umbrella entry
// point that sequences validate -> reserve -> match -> settle -> publish
// under the per-book gate (§4.3).
package execution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"bourse/internal/catalog"
	"bourse/internal/domain"
)

// Validator runs the pure, synchronous checks of §4.7. It has distinct entry
// points for input (pre-construction), new (post-construction), modify and
// cancel.
type Validator struct {
	catalog *catalog.Catalog
}

func NewValidator(c *catalog.Catalog) *Validator {
	return &Validator{catalog: c}
}

// ValidateInput checks the raw request fields before an Order is
// constructed.
func (v *Validator) ValidateInput(userId, stockId int64, currency domain.Currency, quantity int64) error {
	if userId <= 0 {
		return fmt.Errorf("invalid userId %d", userId)
	}
	if stockId <= 0 {
		return fmt.Errorf("invalid stockId %d", stockId)
	}
	if !v.catalog.Exists(stockId) {
		return fmt.Errorf("stock %d does not exist", stockId)
	}
	if !currency.Valid() {
		return fmt.Errorf("unsupported currency %s", currency)
	}
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	return nil
}

// ValidateNew checks a fully-constructed Order against its type's rules.
func (v *Validator) ValidateNew(o domain.Order) error {
	if err := v.ValidateInput(o.UserId, o.StockId, o.Currency, o.Quantity); err != nil {
		return err
	}
	switch o.Type {
	case domain.LimitBuy, domain.LimitSell:
		if o.Price.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("limit order requires a positive price")
		}
		if !o.SlippagePercent.IsZero() {
			return fmt.Errorf("limit order must not specify slippage")
		}
	case domain.TrueMarketBuy, domain.TrueMarketSell:
		if !o.Price.IsZero() {
			return fmt.Errorf("true market order price must be zero")
		}
		if !o.SlippagePercent.IsZero() {
			return fmt.Errorf("true market order must not specify slippage")
		}
		if o.Type == domain.TrueMarketBuy && o.BuyBudget.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("true market buy requires a positive BuyBudget")
		}
	case domain.SlippageMarketBuy, domain.SlippageMarketSell:
		if o.Price.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("slippage market order requires a positive anchor price")
		}
		if o.SlippagePercent.LessThan(decimal.Zero) || o.SlippagePercent.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("slippage percent must be within [0,100]")
		}
	default:
		return fmt.Errorf("unknown order type %s", o.Type)
	}
	return nil
}

// ValidateModify checks a proposed price/quantity change against the
// current order. newPrice is nil when the price is not being changed.
func (v *Validator) ValidateModify(current domain.Order, newQuantity int64, newPrice *decimal.Decimal) error {
	if current.Status != domain.Open {
		return fmt.Errorf("%w: order %d is not open", domain.ErrCancelled, current.OrderId)
	}
	if newPrice != nil && !current.Type.IsLimit() {
		return fmt.Errorf("price may only be changed on limit orders")
	}
	if newQuantity <= 0 {
		return fmt.Errorf("new quantity must be positive")
	}
	if newQuantity < current.AmountFilled {
		return fmt.Errorf("new quantity %d may not drop below already-filled %d", newQuantity, current.AmountFilled)
	}
	return nil
}

// ValidateCancel checks that an order can be cancelled.
func (v *Validator) ValidateCancel(current domain.Order) error {
	if current.Status != domain.Open {
		return fmt.Errorf("%w: order %d is not open", domain.ErrCancelled, current.OrderId)
	}
	return nil
}
