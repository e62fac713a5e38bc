package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"bourse/internal/book"
	"bourse/internal/bookcache"
	"bourse/internal/domain"
	"bourse/internal/matching"
	"bourse/internal/settlement"
	"bourse/internal/store"
)

// TickPublisher receives trade ticks once settlement has committed them, in
// match order, outside the book gate (§4.3 step 4, §5 "Tick publication...
// happens after settlement completes, in match order").
type TickPublisher interface {
	PublishTrade(trade domain.Transaction)
}

// Service is OrderExecutionService: validate -> reserve -> match -> settle
// -> publish.
type Service struct {
	store      store.Store
	books      *bookcache.Cache
	settlement *settlement.Engine
	validator  *Validator
	publishers []TickPublisher
}

func NewService(st store.Store, books *bookcache.Cache, settlementEngine *settlement.Engine, validator *Validator, publishers ...TickPublisher) *Service {
	return &Service{
		store:      st,
		books:      books,
		settlement: settlementEngine,
		validator:  validator,
		publishers: publishers,
	}
}

// PlaceAndMatch is the whole order lifecycle for a brand-new order (§4.3).
func (s *Service) PlaceAndMatch(ctx context.Context, order domain.Order) domain.OrderResult {
	if err := s.validator.ValidateNew(order); err != nil {
		return domain.Rejected(domain.StatusInvalidParameters, err.Error())
	}

	placed, ok, err := s.settlement.Place(ctx, order)
	if err != nil {
		log.Error().Err(err).Msg("execution: placing order failed")
		return domain.Rejected(domain.StatusOperationFailed, err.Error())
	}
	if !ok {
		return domain.Rejected(domain.StatusInvalidParameters, "insufficient reservable balance")
	}

	key := bookcache.Key{StockId: placed.StockId, Currency: placed.Currency}
	var trades []domain.Transaction
	current := placed

	err = s.books.WithBookLock(ctx, key, func(b *book.Book) error {
		matched, makers := matching.Match(&current, b)
		settled, err := s.settleTrades(ctx, &current, matched, makers)
		if err != nil {
			return err
		}
		trades = settled

		if err := s.store.UpdateOrder(ctx, current); err != nil {
			return fmt.Errorf("persisting matched order: %w", err)
		}

		if current.IsRestable() {
			if err := b.UpsertOrder(&current); err != nil {
				return fmt.Errorf("resting order: %w", err)
			}
		} else if current.Status == domain.Open {
			cancelled, err := s.settlement.CancelRemainder(ctx, current.OrderId)
			if err != nil {
				return fmt.Errorf("cancelling unfilled market remainder: %w", err)
			}
			current = cancelled
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int64("orderId", placed.OrderId).Msg("execution: matching failed")
		return domain.Rejected(domain.StatusOperationFailed, err.Error())
	}

	s.publish(trades)
	return resultFor(current, trades)
}

// Cancel loads the order, validates, then under the book gate removes it
// from the book (if present) and releases any remainder (§4.3).
func (s *Service) Cancel(ctx context.Context, orderId int64) domain.OrderResult {
	order, err := s.store.GetOrder(ctx, orderId)
	if err != nil {
		return domain.Rejected(domain.StatusOperationFailed, err.Error())
	}
	if err := s.validator.ValidateCancel(order); err != nil {
		return domain.Rejected(domain.StatusAlreadyClosed, err.Error())
	}

	key := bookcache.Key{StockId: order.StockId, Currency: order.Currency}
	var cancelled domain.Order
	err = s.books.WithBookLock(ctx, key, func(b *book.Book) error {
		b.RemoveById(orderId)
		result, err := s.settlement.CancelRemainder(ctx, orderId)
		if err != nil {
			return err
		}
		cancelled = result
		return nil
	})
	if err != nil {
		return domain.Rejected(domain.StatusOperationFailed, err.Error())
	}
	return domain.OrderResult{Status: domain.StatusSuccess, Order: &cancelled}
}

// Modify is Cancel+Replace within the same gate window: remove, apply
// changes, re-match, then re-rest if still Open Limit (§4.3). A modification
// that changes price or increases remaining quantity loses time priority; a
// pure quantity decrease retains it (§5, §9 "Repository ambiguity" — this
// spec's richer rule is the one implemented).
func (s *Service) Modify(ctx context.Context, orderId int64, newQuantity int64, newPrice *decimal.Decimal) domain.OrderResult {
	order, err := s.store.GetOrder(ctx, orderId)
	if err != nil {
		return domain.Rejected(domain.StatusOperationFailed, err.Error())
	}
	if err := s.validator.ValidateModify(order, newQuantity, newPrice); err != nil {
		return domain.Rejected(domain.StatusInvalidParameters, err.Error())
	}

	before := order
	after := order
	after.Quantity = newQuantity
	movesLevel := newQuantity > order.Quantity
	if newPrice != nil {
		movesLevel = movesLevel || !newPrice.Equal(order.Price)
		after.Price = *newPrice
	}

	key := bookcache.Key{StockId: order.StockId, Currency: order.Currency}
	var trades []domain.Transaction
	current := after

	err = s.books.WithBookLock(ctx, key, func(b *book.Book) error {
		wasResting := before.IsRestable()
		retainsPriority := wasResting && !movesLevel
		if wasResting && !retainsPriority {
			b.RemoveById(orderId)
		}

		if err := s.settlement.ModifyDelta(ctx, before, after); err != nil {
			return fmt.Errorf("applying modify reservation delta: %w", err)
		}

		switch {
		case retainsPriority:
			// Pure quantity decrease: update the resting order in place so
			// it keeps its spot in the FIFO queue instead of re-queuing at
			// the back.
			if updated, ok := b.UpdateQuantity(orderId, after.Quantity); ok {
				current = *updated
			}
		case movesLevel || !wasResting:
			matched, makers := matching.Match(&current, b)
			settled, err := s.settleTrades(ctx, &current, matched, makers)
			if err != nil {
				return err
			}
			trades = settled
		}

		if err := s.store.UpdateOrder(ctx, current); err != nil {
			return fmt.Errorf("persisting modified order: %w", err)
		}
		if !retainsPriority && current.IsRestable() {
			if err := b.UpsertOrder(&current); err != nil {
				return fmt.Errorf("resting modified order: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Rejected(domain.StatusOperationFailed, err.Error())
	}

	s.publish(trades)
	return resultFor(current, trades)
}

// settleTrades persists each matched trade and its buy/sell order pair.
// makers holds, at the same index, the book's own order pointer for that
// trade's maker — already mutated by Match — so no extra store read is
// needed to learn its post-fill state.
func (s *Service) settleTrades(ctx context.Context, taker *domain.Order, matched []domain.Transaction, makers []*domain.Order) ([]domain.Transaction, error) {
	settled := make([]domain.Transaction, 0, len(matched))
	for i, trade := range matched {
		trade.Timestamp = time.Now().UTC()
		maker := makers[i]
		var buyOrder, sellOrder domain.Order
		if taker.Side == domain.Buy {
			buyOrder, sellOrder = *taker, *maker
		} else {
			buyOrder, sellOrder = *maker, *taker
		}
		persisted, err := s.settlement.Settle(ctx, trade, buyOrder, sellOrder)
		if err != nil {
			return nil, fmt.Errorf("settling trade: %w", err)
		}
		settled = append(settled, persisted)
	}
	return settled, nil
}

func (s *Service) publish(trades []domain.Transaction) {
	for _, trade := range trades {
		for _, p := range s.publishers {
			p.PublishTrade(trade)
		}
	}
}

func resultFor(order domain.Order, trades []domain.Transaction) domain.OrderResult {
	switch {
	case order.Status == domain.Filled:
		return domain.Success(&order, trades)
	case len(trades) > 0:
		r := domain.Success(&order, trades)
		r.Status = domain.StatusPartialFill
		return r
	case order.IsRestable():
		r := domain.Success(&order, trades)
		r.Status = domain.StatusPlacedOnBook
		return r
	default:
		return domain.OrderResult{Status: domain.StatusNoLiquidity, Order: &order}
	}
}
