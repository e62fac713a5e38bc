package candles

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"bourse/internal/domain"
	"bourse/internal/store"
)

type key struct {
	stockId    int64
	currency   domain.Currency
	resolution domain.CandleResolution
}

// Service owns one Aggregator per (stock, currency, resolution) for every
// supported resolution, drains their closed-candle queues into persistence,
// and answers range/aggregation queries. Grounded on the teacher's
// WorkerPool.Setup tomb-supervised loop (internal/worker.go).
type Service struct {
	st store.Store

	mu    sync.Mutex
	aggs  map[key]*Aggregator
	queue *Queue
}

func NewService(st store.Store) *Service {
	return &Service{
		st:    st,
		aggs:  make(map[key]*Aggregator),
		queue: NewQueue(),
	}
}

func (s *Service) aggregatorFor(stockId int64, currency domain.Currency, res domain.CandleResolution) *Aggregator {
	k := key{stockId, currency, res}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.aggs[k]; ok {
		return a
	}
	a := NewAggregator(stockId, currency, res, s.queue)
	s.aggs[k] = a
	return a
}

// OnTrade fans a settled trade out to every supported resolution's
// aggregator (§4.8: "One CandleAggregator per (StockId, Currency,
// Resolution)").
func (s *Service) OnTrade(trade domain.Transaction) {
	for _, res := range domain.SupportedResolutions {
		a := s.aggregatorFor(trade.StockId, trade.Currency, res)
		a.OnTick(trade.TransactionId, trade.Price, trade.Quantity, trade.Timestamp)
	}
}

// Run supervises the periodic flush-and-drain loop under tomb, mirroring the
// teacher's WorkerPool.Setup select-on-Dying shape.
func (s *Service) Run(t *tomb.Tomb, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return
		case now := <-ticker.C:
			s.flushAndDrain(context.Background(), now)
		}
	}
}

func (s *Service) flushAndDrain(ctx context.Context, now time.Time) {
	s.mu.Lock()
	aggs := make([]*Aggregator, 0, len(s.aggs))
	for _, a := range s.aggs {
		aggs = append(aggs, a)
	}
	s.mu.Unlock()

	for _, a := range aggs {
		a.FlushIfElapsed(now)
	}

	for _, c := range s.queue.Drain() {
		if _, err := s.st.UpsertCandle(ctx, c); err != nil {
			log.Error().Err(err).
				Int64("stockId", c.StockId).
				Time("openTime", c.OpenTime).
				Msg("candles: failed to persist closed candle")
		}
	}
}

// Range returns persisted candles for the given key over [from, to).
func (s *Service) Range(ctx context.Context, stockId int64, currency domain.Currency, res domain.CandleResolution, from, to time.Time) ([]domain.Candle, error) {
	return s.st.GetCandlesByStockIdAndTimeRange(ctx, stockId, currency, res, from, to)
}

// Aggregate combines consecutive source-resolution candles into target
// buckets (§4.8: "aggregate N equal-resolution source candles into one
// target"). When requireFullCoverage is true, any target bucket missing one
// or more source candles is omitted from the result rather than partially
// filled.
func Aggregate(source []domain.Candle, target domain.CandleResolution, requireFullCoverage bool) ([]domain.Candle, error) {
	if len(source) == 0 {
		return nil, nil
	}
	srcRes := source[0].Bucket
	if int64(target)%int64(srcRes) != 0 {
		return nil, fmt.Errorf("target resolution %d is not a multiple of source resolution %d", target, srcRes)
	}
	factor := int64(target) / int64(srcRes)

	buckets := make(map[time.Time][]domain.Candle)
	for _, c := range source {
		bucketStart := time.Unix((c.OpenTime.Unix()/int64(target))*int64(target), 0).UTC()
		buckets[bucketStart] = append(buckets[bucketStart], c)
	}

	out := make([]domain.Candle, 0, len(buckets))
	for start, group := range buckets {
		if requireFullCoverage && int64(len(group)) < factor {
			log.Warn().
				Time("bucketStart", start).
				Int("have", len(group)).
				Int64("want", factor).
				Msg("candles: incomplete coverage, dropping aggregated bucket")
			continue
		}
		out = append(out, combine(group, start, target))
	}
	return out, nil
}

func combine(group []domain.Candle, start time.Time, target domain.CandleResolution) domain.Candle {
	high := group[0].High
	low := group[0].Low
	volume := int64(0)
	trades := int64(0)
	for _, c := range group {
		if c.High.GreaterThan(high) {
			high = c.High
		}
		if c.Low.LessThan(low) {
			low = c.Low
		}
		volume += c.Volume
		trades += c.TradeCount
	}
	return domain.Candle{
		StockId:    group[0].StockId,
		Currency:   group[0].Currency,
		Bucket:     target,
		OpenTime:   start,
		CloseTime:  start.Add(time.Duration(target) * time.Second),
		Open:       group[0].Open,
		High:       high,
		Low:        low,
		Close:      group[len(group)-1].Close,
		Volume:     volume,
		TradeCount: trades,
	}
}

// FixCandles reconstructs missing candles for [from, to) at resolution res
// by replaying stored trades through a scratch aggregator (§4.8).
func (s *Service) FixCandles(ctx context.Context, stockId int64, currency domain.Currency, res domain.CandleResolution, from, to time.Time) (int, error) {
	trades, err := s.st.GetTransactionsByStockIdAndTimeRange(ctx, stockId, currency, from, to)
	if err != nil {
		return 0, fmt.Errorf("loading trades for candle repair: %w", err)
	}

	scratch := NewQueue()
	agg := NewAggregator(stockId, currency, res, scratch)
	for _, trade := range trades {
		agg.OnTick(trade.TransactionId, trade.Price, trade.Quantity, trade.Timestamp)
	}
	agg.FlushIfElapsed(to.Add(time.Duration(res) * time.Second))

	written := 0
	for _, c := range scratch.Drain() {
		if c.OpenTime.Before(from) || !c.OpenTime.Before(to) {
			continue
		}
		if _, err := s.st.UpsertCandle(ctx, c); err != nil {
			return written, fmt.Errorf("persisting repaired candle: %w", err)
		}
		written++
	}
	return written, nil
}
