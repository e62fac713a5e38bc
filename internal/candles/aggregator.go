// Package candles implements per-(stock, currency, resolution) OHLCV
// aggregation from trade ticks, grounded on the teacher's OrderBook
// local-mutex pattern (internal/engine/orderbook.go) generalized from order
// state to candle state, plus the teacher's worker-pool/tomb idiom
// (internal/worker.go) for the background flush loop.
package candles

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"bourse/internal/domain"
)

// Aggregator maintains the single live candle for one (StockId, Currency,
// Resolution) key. A local mutex guards the live candle and its dedup set
// (§5); closed candles are handed off to a lock-free-in-spirit but, absent a
// lock-free queue in the pack, mutex-guarded Queue (see DESIGN.md).
type Aggregator struct {
	stockId    int64
	currency   domain.Currency
	resolution domain.CandleResolution

	mu         sync.Mutex
	live       *domain.Candle
	seenTrades map[int64]struct{}
	lastClosed time.Time       // CloseTime of the most recently closed candle, zero if none yet
	lastClose  decimal.Decimal // Close of the most recently closed (or flushed) candle, used as the flat gap-fill price

	closed *Queue
}

func NewAggregator(stockId int64, currency domain.Currency, resolution domain.CandleResolution, closed *Queue) *Aggregator {
	return &Aggregator{
		stockId:    stockId,
		currency:   currency,
		resolution: resolution,
		seenTrades: make(map[int64]struct{}),
		closed:     closed,
	}
}

func (a *Aggregator) bucketStart(t time.Time) time.Time {
	secs := int64(a.resolution)
	unix := t.UTC().Unix()
	floored := (unix / secs) * secs
	return time.Unix(floored, 0).UTC()
}

// OnTick applies one trade tick (§4.8). id is the trade's TransactionId used
// for within-candle deduplication.
func (a *Aggregator) OnTick(id int64, price decimal.Decimal, quantity int64, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.bucketStart(ts)

	if a.live == nil {
		a.emitGapCandlesLocked(start)
		a.openLiveLocked(start, price)
	} else if start.Before(a.live.OpenTime) {
		log.Warn().
			Int64("stockId", a.stockId).
			Time("tickBucket", start).
			Time("liveOpen", a.live.OpenTime).
			Msg("candles: dropping out-of-order tick")
		return
	} else if start.After(a.live.OpenTime) {
		a.closeLiveLocked()
		a.emitGapCandlesLocked(start)
		a.openLiveLocked(start, price)
	}

	if _, dup := a.seenTrades[id]; dup {
		return
	}
	a.seenTrades[id] = struct{}{}

	c := a.live
	if c.High.LessThan(price) {
		c.High = price
	}
	if c.Low.GreaterThan(price) {
		c.Low = price
	}
	c.Close = price
	c.Volume += quantity
	c.TradeCount++
}

// openLiveLocked starts a fresh live candle seeded by price. Caller holds mu.
func (a *Aggregator) openLiveLocked(start time.Time, price decimal.Decimal) {
	a.live = &domain.Candle{
		StockId:   a.stockId,
		Currency:  a.currency,
		Bucket:    a.resolution,
		OpenTime:  start,
		CloseTime: start.Add(time.Duration(a.resolution) * time.Second),
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
	}
	a.seenTrades = make(map[int64]struct{})
}

// closeLiveLocked hands the live candle to the closed queue. Caller holds mu.
func (a *Aggregator) closeLiveLocked() {
	if a.live == nil {
		return
	}
	a.lastClosed = a.live.CloseTime
	a.lastClose = a.live.Close
	a.closed.Push(a.live.Clone())
	a.live = nil
}

// emitGapCandlesLocked emits flat candles covering the silent interval
// between the last closed candle and start, capped at MaxGapCandles (§4.8,
// §9: a conservative anti-runaway guard, not padded indefinitely).
func (a *Aggregator) emitGapCandlesLocked(start time.Time) {
	if a.lastClosed.IsZero() {
		return
	}
	step := time.Duration(a.resolution) * time.Second
	cursor := a.lastClosed
	filled := 0
	flat := a.lastClose
	for cursor.Before(start) && filled < domain.MaxGapCandles {
		gap := domain.Candle{
			StockId:   a.stockId,
			Currency:  a.currency,
			Bucket:    a.resolution,
			OpenTime:  cursor,
			CloseTime: cursor.Add(step),
			Open:      flat,
			High:      flat,
			Low:       flat,
			Close:     flat,
		}
		a.closed.Push(gap)
		cursor = cursor.Add(step)
		a.lastClosed = cursor
		filled++
	}
	if cursor.Before(start) {
		log.Warn().
			Int64("stockId", a.stockId).
			Time("from", cursor).
			Time("to", start).
			Msg("candles: gap exceeds MaxGapCandles, not padding further")
	}
}

// FlushIfElapsed closes the live candle if its window has elapsed by now.
func (a *Aggregator) FlushIfElapsed(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.live != nil && !a.live.CloseTime.After(now) {
		a.closeLiveLocked()
	}
}

// TryGetLiveSnapshot returns a clone of the live candle, if any.
func (a *Aggregator) TryGetLiveSnapshot() (domain.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.live == nil {
		return domain.Candle{}, false
	}
	return a.live.Clone(), true
}

// Queue is a mutex-guarded FIFO of closed candles awaiting persistence. The
// pack's lock-free data structures (tidwall/btree) solve ordered sets, not
// MPSC queues, so a guarded slice is the justified stdlib choice here (see
// DESIGN.md).
type Queue struct {
	mu    sync.Mutex
	items []domain.Candle
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(c domain.Candle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, c)
}

// Drain removes and returns all queued candles, in FIFO order.
func (q *Queue) Drain() []domain.Candle {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}
