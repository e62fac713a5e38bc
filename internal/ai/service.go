// Package ai implements the synthetic-liquidity trading loop (§4.10),
// a tomb.v2-supervised background goroutine ticking at a fixed interval,
// grounded on the teacher's WorkerPool.Setup select-on-Dying shape
// (internal/worker.go) generalized from a fixed worker count to one
// decision pass over every enabled AiUser.
package ai

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"bourse/internal/domain"
	"bourse/internal/execution"
	"bourse/internal/marketdata"
	"bourse/internal/money"
	"bourse/internal/store"
	"bourse/internal/telemetry"
)

// Service runs the periodic AI trading loop over every configured AiUser.
type Service struct {
	store     store.Store
	exec      *execution.Service
	market    *marketdata.Service
	baseSeed  int64

	rngs       map[int64]*rand.Rand // AiUserId -> per-user RNG, reseeded daily
	lastReset  time.Time
	priceCache map[int64]decimal.Decimal // StockId -> last known price
}

func NewService(st store.Store, exec *execution.Service, market *marketdata.Service, baseSeed int64) *Service {
	return &Service{
		store:      st,
		exec:       exec,
		market:     market,
		baseSeed:   baseSeed,
		rngs:       make(map[int64]*rand.Rand),
		priceCache: make(map[int64]decimal.Decimal),
	}
}

// Run ticks at interval until the tomb is dying, mirroring the teacher's
// WorkerPool.Setup select(t.Dying()) loop.
func (s *Service) Run(t *tomb.Tomb, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return nil
		case now := <-ticker.C:
			s.tick(context.Background(), now.UTC())
		}
	}
}

// dailySeed derives a deterministic per-(user, day) seed from the service's
// base seed (§4.10: "Seeding is deterministic per (user, day)").
func dailySeed(base, userId int64, day time.Time) int64 {
	y, m, d := day.Date()
	dayCode := int64(y)*10000 + int64(m)*100 + int64(d)
	h := int64(1469598103934665603) // FNV offset basis, truncated to fit int64 arithmetic below
	for _, v := range []int64{base, userId, dayCode} {
		h ^= v
		h *= 1099511628211
	}
	if h < 0 {
		h = -h
	}
	return h
}

func (s *Service) tick(ctx context.Context, now time.Time) {
	users, err := s.store.ListAIUsers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("ai: failed to list AI users")
		return
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	newDay := s.lastReset.IsZero() || dayStart.After(s.lastReset)
	if newDay {
		s.lastReset = dayStart
	}

	for _, user := range users {
		if newDay {
			user.TradesToday = 0
			user.LastResetAt = dayStart
			s.rngs[user.AiUserId] = rand.New(rand.NewSource(dailySeed(s.baseSeed, user.UserId, dayStart)))
		}
		rng := s.rngs[user.AiUserId]
		if rng == nil {
			rng = rand.New(rand.NewSource(dailySeed(s.baseSeed, user.UserId, dayStart)))
			s.rngs[user.AiUserId] = rng
		}

		user.IsEnabled = rng.Float64() < clampFloat(user.OnlineProb.InexactFloat64())
		if !user.IsEnabled {
			if _, err := s.store.UpsertAIUser(ctx, user); err != nil {
				log.Error().Err(err).Int64("aiUserId", user.AiUserId).Msg("ai: failed to persist disabled state")
			}
			continue
		}

		if err := s.decide(ctx, &user, rng, now); err != nil {
			log.Error().Err(err).Int64("aiUserId", user.AiUserId).Msg("ai: decision failed")
			telemetry.IncAIDecision("error")
		}

		if _, err := s.store.UpsertAIUser(ctx, user); err != nil {
			log.Error().Err(err).Int64("aiUserId", user.AiUserId).Msg("ai: failed to persist AI user state")
		}
	}
}

func clampFloat(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// decide runs one user's per-tick decision (§4.10 steps 4a-4f).
func (s *Service) decide(ctx context.Context, user *domain.AIUser, rng *rand.Rand, now time.Time) error {
	if rng.Float64() > user.TradeProb.InexactFloat64() {
		telemetry.IncAIDecision("skip")
		return nil
	}
	if user.TradesToday >= user.MaxDailyTrades {
		telemetry.IncAIDecision("daily_cap")
		return nil
	}

	funds, err := s.store.ListFundsByUser(ctx, user.UserId)
	if err != nil {
		return fmt.Errorf("loading funds: %w", err)
	}
	positions, err := s.store.ListPositionsByUser(ctx, user.UserId)
	if err != nil {
		return fmt.Errorf("loading positions: %w", err)
	}
	openOrders, err := s.store.GetOpenOrdersByUser(ctx, user.UserId)
	if err != nil {
		return fmt.Errorf("loading open orders: %w", err)
	}
	if len(openOrders) >= user.MaxOpenOrders {
		telemetry.IncAIDecision("order_cap")
		return nil
	}

	currency := domain.USD
	if len(funds) > 0 {
		currency = funds[0].Currency
	}
	s.RefreshPriceCache(user.Watchlist, currency)

	side, ok := s.chooseSide(user, rng, funds, positions)
	if !ok {
		telemetry.IncAIDecision("no_eligible_side")
		return nil
	}

	stockId, price, ok := s.chooseStock(user, rng, side, positions)
	if !ok {
		telemetry.IncAIDecision("no_eligible_stock")
		return nil
	}

	orderType := s.chooseOrderType(side, rng, user)

	quantity, limitPrice, slippage, buyBudget := s.sizeOrder(user, rng, side, orderType, price, funds, positions, stockId)
	if quantity <= 0 {
		telemetry.IncAIDecision("zero_quantity")
		return nil
	}

	order := domain.Order{
		UserId: user.UserId, StockId: stockId, Currency: currency,
		Side: side, Type: orderType, Price: limitPrice,
		SlippagePercent: slippage, Quantity: quantity, BuyBudget: buyBudget,
		Status: domain.Open,
	}

	result := s.exec.PlaceAndMatch(ctx, order)
	if result.Status == domain.StatusInvalidParameters || result.Status == domain.StatusOperationFailed {
		telemetry.IncAIDecision("rejected")
		return nil
	}

	telemetry.IncOrderPlaced(side.String(), orderType.String())
	telemetry.IncAIDecision("placed")
	user.TradesToday++
	return nil
}

// chooseSide applies the cash-reserve-aware buy bias (§4.10 step 4b): shift
// the buy probability by up to 0.40 toward selling when cash% is below
// MinCashReservePrc, toward buying when above MaxCashReservePrc.
func (s *Service) chooseSide(user *domain.AIUser, rng *rand.Rand, funds []domain.Fund, positions []domain.Position) (domain.Side, bool) {
	cash, total := portfolioCashAndValue(funds, positions, s.priceCache)
	if total.IsZero() {
		return domain.Buy, true
	}
	cashPct := cash.Div(total).Mul(decimal.NewFromInt(100))

	buyBias := decimal.NewFromFloat(0.5)
	const maxShift = 0.40
	if cashPct.LessThan(user.MinCashReservePrc) {
		buyBias = buyBias.Sub(decimal.NewFromFloat(maxShift))
	} else if cashPct.GreaterThan(user.MaxCashReservePrc) {
		buyBias = buyBias.Add(decimal.NewFromFloat(maxShift))
	}
	buyBias = money.Clamp01(buyBias)

	if rng.Float64() < buyBias.InexactFloat64() {
		return domain.Buy, true
	}
	if !hasSellableQuantity(positions) {
		return domain.Buy, true
	}
	return domain.Sell, true
}

func hasSellableQuantity(positions []domain.Position) bool {
	for _, p := range positions {
		if p.Available() > 0 {
			return true
		}
	}
	return false
}

// portfolioCashAndValue returns the user's spendable (unreserved) cash and
// the total mark-to-market portfolio value (cash + positions at current
// prices).
func portfolioCashAndValue(funds []domain.Fund, positions []domain.Position, priceCache map[int64]decimal.Decimal) (cash, total decimal.Decimal) {
	for _, f := range funds {
		cash = cash.Add(f.Available())
		total = total.Add(f.TotalBalance)
	}
	for _, p := range positions {
		price, ok := priceCache[p.StockId]
		if !ok {
			continue
		}
		total = total.Add(price.Mul(decimal.NewFromInt(p.Quantity)))
	}
	return cash, total
}

// chooseStock picks a watchlist stock (§4.10 step 4c). When side is Sell
// only stocks with a sellable quantity are candidates; if there are none,
// no stock is chosen.
func (s *Service) chooseStock(user *domain.AIUser, rng *rand.Rand, side domain.Side, positions []domain.Position) (int64, decimal.Decimal, bool) {
	if len(user.Watchlist) == 0 {
		return 0, decimal.Zero, false
	}

	candidates := user.Watchlist
	if side == domain.Sell {
		sellable := make(map[int64]bool)
		for _, p := range positions {
			if p.Available() > 0 {
				sellable[p.StockId] = true
			}
		}
		var filtered []int64
		for _, id := range user.Watchlist {
			if sellable[id] {
				filtered = append(filtered, id)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		} else {
			return 0, decimal.Zero, false
		}
	}

	stockId := candidates[rng.Intn(len(candidates))]
	price, ok := s.priceCache[stockId]
	if !ok {
		return 0, decimal.Zero, false
	}
	return stockId, price, true
}

// chooseOrderType picks market-vs-limit by UseMarketProb, then
// slippage-vs-true by UseSlippageMarketProb (§4.10 step 4b).
func (s *Service) chooseOrderType(side domain.Side, rng *rand.Rand, user *domain.AIUser) domain.OrderType {
	useMarket := rng.Float64() < user.UseMarketProb.InexactFloat64()
	if !useMarket {
		if side == domain.Buy {
			return domain.LimitBuy
		}
		return domain.LimitSell
	}
	useSlippage := rng.Float64() < user.UseSlippageMarketProb.InexactFloat64()
	if useSlippage {
		if side == domain.Buy {
			return domain.SlippageMarketBuy
		}
		return domain.SlippageMarketSell
	}
	if side == domain.Buy {
		return domain.TrueMarketBuy
	}
	return domain.TrueMarketSell
}

// sizeOrder computes price/quantity per §4.10 step 4d-4e: limit offset =
// lerp(Min,Max)*(1+jitter*Aggressiveness), clamped to Max; limit-buy uses
// market*(1-offset), limit-sell market*(1+offset); quantity from
// trade%*portfolioValue, clamped by available funds/shares and
// PerPositionMaxPrc.
func (s *Service) sizeOrder(user *domain.AIUser, rng *rand.Rand, side domain.Side, orderType domain.OrderType, market decimal.Decimal, funds []domain.Fund, positions []domain.Position, stockId int64) (quantity int64, limitPrice decimal.Decimal, slippage decimal.Decimal, buyBudget decimal.Decimal) {
	cash, total := portfolioCashAndValue(funds, positions, s.priceCache)

	tradePct := money.Lerp(user.MinTradeAmountPrc, user.MaxTradeAmountPrc, decimal.NewFromFloat(rng.Float64())).Div(decimal.NewFromInt(100))
	notional := money.Clamp(total.Mul(tradePct), decimal.Zero, total.Mul(user.PerPositionMaxPrc).Div(decimal.NewFromInt(100)))

	jitter := decimal.NewFromFloat(rng.Float64()*2 - 1) // [-1, 1]
	offsetPct := money.Lerp(decimal.NewFromInt(0), decimal.NewFromInt(2), decimal.NewFromFloat(rng.Float64())).
		Mul(decimal.NewFromInt(1).Add(jitter.Mul(user.Aggressiveness))).
		Div(decimal.NewFromInt(100))
	maxOffset := decimal.NewFromInt(2).Div(decimal.NewFromInt(100))
	if offsetPct.GreaterThan(maxOffset) {
		offsetPct = maxOffset
	}
	if offsetPct.LessThan(decimal.Zero) {
		offsetPct = decimal.Zero
	}

	switch orderType {
	case domain.LimitBuy:
		limitPrice = market.Mul(decimal.NewFromInt(1).Sub(offsetPct))
	case domain.LimitSell:
		limitPrice = market.Mul(decimal.NewFromInt(1).Add(offsetPct))
	case domain.SlippageMarketBuy, domain.SlippageMarketSell:
		limitPrice = market
		slippage = offsetPct.Mul(decimal.NewFromInt(100))
	}

	if side == domain.Buy {
		if orderType == domain.TrueMarketBuy {
			buyBudget = money.Clamp(notional, decimal.Zero, cash)
			if buyBudget.LessThanOrEqual(decimal.Zero) {
				return 0, limitPrice, slippage, buyBudget
			}
			// Quantity is a cap, not a target — matching.Match meters the
			// actual fill against BuyBudget maker-by-maker. Size the cap
			// from the budget at the reference price so it doesn't starve
			// a true-market buy down to one share regardless of budget.
			capQty := buyBudget.Div(market).IntPart()
			if capQty <= 0 {
				capQty = 1
			}
			return capQty, limitPrice, slippage, buyBudget
		}
		refPrice := limitPrice
		if refPrice.IsZero() {
			refPrice = market
		}
		affordableNotional := money.Clamp(notional, decimal.Zero, cash)
		quantity = affordableNotional.Div(refPrice).IntPart()
		return quantity, limitPrice, slippage, buyBudget
	}

	available := availableQuantity(positions, stockId)
	refPrice := limitPrice
	if refPrice.IsZero() {
		refPrice = market
	}
	wanted := notional.Div(refPrice).IntPart()
	if wanted > available {
		wanted = available
	}
	return wanted, limitPrice, slippage, buyBudget
}

func availableQuantity(positions []domain.Position, stockId int64) int64 {
	for _, p := range positions {
		if p.StockId == stockId {
			return p.Available()
		}
	}
	return 0
}

// RefreshPriceCache updates the AI loop's stock price cache from market
// data (§4.10 step 3: "refresh a stock price cache from market data").
// Called once per user per tick, right before the cache is read by
// chooseSide/chooseStock/sizeOrder, so it always reflects that user's
// settlement currency.
func (s *Service) RefreshPriceCache(stockIds []int64, currency domain.Currency) {
	for _, id := range stockIds {
		if q, ok := s.market.Snapshot(id, currency); ok {
			s.priceCache[id] = q.LastPrice
		}
	}
}
