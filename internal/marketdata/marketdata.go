// Package marketdata maintains live session quotes and a short ring buffer
// of recent ticks per (stock, currency), generalizing the teacher's
// concurrent-map-of-sessions pattern (internal/server/server.go's
// clientSessions map guarded by a mutex) from connections to quotes.
package marketdata

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bourse/internal/domain"
)

type key struct {
	stockId  int64
	currency domain.Currency
}

// Tick is one raw trade observation fed into a quote's ring buffer.
type Tick struct {
	Price    decimal.Decimal
	Quantity int64
	Time     time.Time
}

// quote is the mutable, serialized object backing one domain.LiveQuote;
// ApplyTick on a given instance is always called under its own mutex (§5:
// "each LiveQuote serializes its own ApplyTick").
type quote struct {
	mu    sync.Mutex
	state domain.LiveQuote
	ring  []Tick
}

// Service maintains a concurrent map of quotes keyed by (stock, currency).
// It keeps no subscriber count: fan-out to subscribers lives in
// internal/feed, and this package only owns quote state.
type Service struct {
	ringWindow time.Duration

	mu     sync.RWMutex
	quotes map[key]*quote
}

func NewService(ringWindow time.Duration) *Service {
	return &Service{
		ringWindow: ringWindow,
		quotes:     make(map[key]*quote),
	}
}

func (s *Service) quoteFor(stockId int64, currency domain.Currency) *quote {
	k := key{stockId, currency}
	s.mu.RLock()
	q, ok := s.quotes[k]
	s.mu.RUnlock()
	if ok {
		return q
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.quotes[k]; ok {
		return q
	}
	q = &quote{state: domain.LiveQuote{StockId: stockId, Currency: currency}}
	s.quotes[k] = q
	return q
}

// ApplyTick updates the (stockId, currency) quote with one new trade
// observation (§4.9). utcTime is only applied to LastPrice/LastUpdated if it
// is not older than the quote's current LastUpdated (monotonic latest-tick
// semantics); a new UTC calendar day resets the session.
func (s *Service) ApplyTick(stockId int64, currency domain.Currency, price decimal.Decimal, shares int64, utcTime time.Time) {
	q := s.quoteFor(stockId, currency)
	utcTime = utcTime.UTC()

	q.mu.Lock()
	defer q.mu.Unlock()

	if isNewSession(q.state.SessionStartUtc, utcTime) {
		q.state.SessionStartUtc = startOfDay(utcTime)
		q.state.Open = price
		q.state.High = price
		q.state.Low = price
		q.state.Volume = 0
	}

	if q.state.High.LessThan(price) {
		q.state.High = price
	}
	if q.state.Low.GreaterThan(price) {
		q.state.Low = price
	}
	q.state.Volume += shares

	if utcTime.Equal(q.state.LastUpdated) || utcTime.After(q.state.LastUpdated) {
		q.state.LastPrice = price
		q.state.LastUpdated = utcTime
		if !q.state.Open.IsZero() {
			q.state.ChangePct = price.Sub(q.state.Open).Div(q.state.Open).Mul(decimal.NewFromInt(100))
		}
	}

	q.pushTickLocked(Tick{Price: price, Quantity: shares, Time: utcTime}, s.ringWindow)
}

func isNewSession(sessionStart, tick time.Time) bool {
	if sessionStart.IsZero() {
		return true
	}
	return startOfDay(tick).After(sessionStart)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// pushTickLocked appends to the ring buffer and evicts ticks older than
// ringWindow relative to the newest tick. Caller holds q.mu.
func (q *quote) pushTickLocked(t Tick, ringWindow time.Duration) {
	q.ring = append(q.ring, t)
	cutoff := t.Time.Add(-ringWindow)
	i := 0
	for i < len(q.ring) && q.ring[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		q.ring = append(q.ring[:0], q.ring[i:]...)
	}
}

// Snapshot returns the current LiveQuote for (stockId, currency), if any
// tick has ever been applied.
func (s *Service) Snapshot(stockId int64, currency domain.Currency) (domain.LiveQuote, bool) {
	s.mu.RLock()
	q, ok := s.quotes[key{stockId, currency}]
	s.mu.RUnlock()
	if !ok {
		return domain.LiveQuote{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state.LastUpdated.IsZero() {
		return domain.LiveQuote{}, false
	}
	return q.state, true
}

// RecentTicks returns the ticks currently retained in the ring buffer,
// oldest first, trimmed to the configured ring window relative to now.
func (s *Service) RecentTicks(stockId int64, currency domain.Currency, now time.Time) []Tick {
	s.mu.RLock()
	q, ok := s.quotes[key{stockId, currency}]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := now.Add(-s.ringWindow)
	out := make([]Tick, 0, len(q.ring))
	for _, t := range q.ring {
		if t.Time.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// BuildFromHistory seeds a quote's ring buffer and session state from
// historical trades, e.g. after a restart (§4.9: "supports historical
// bootstrap via BuildFromHistory").
func (s *Service) BuildFromHistory(stockId int64, currency domain.Currency, trades []domain.Transaction) {
	for _, trade := range trades {
		s.ApplyTick(stockId, currency, trade.Price, trade.Quantity, trade.Timestamp)
	}
}
