// Package memstore is the in-process reference implementation of
// store.Store: maps guarded by a single mutex, generalizing the teacher's
// map+sync.Mutex session-tracking idiom (internal/net/server.go
// clientSessions) to full CRUD.
package memstore

import (
	"context"
	"sync"
	"time"

	"bourse/internal/domain"
	"bourse/internal/store"
)

type Store struct {
	mu sync.Mutex

	nextOrderId  int64
	nextTxnId    int64
	nextFundId   int64
	nextPosId    int64
	nextAiUserId int64

	stocks      map[int64]domain.Stock
	users       map[int64]store.User
	orders      map[int64]domain.Order
	txns        map[int64]domain.Transaction
	funds       map[int64]domain.Fund // keyed by FundId
	positions   map[int64]domain.Position
	candles     map[candleKey]domain.Candle
	aiUsers     map[int64]domain.AIUser
}

type candleKey struct {
	stockId    int64
	currency   domain.Currency
	resolution domain.CandleResolution
	openTime   int64
}

func New() *Store {
	return &Store{
		stocks:    make(map[int64]domain.Stock),
		users:     make(map[int64]store.User),
		orders:    make(map[int64]domain.Order),
		txns:      make(map[int64]domain.Transaction),
		funds:     make(map[int64]domain.Fund),
		positions: make(map[int64]domain.Position),
		candles:   make(map[candleKey]domain.Candle),
		aiUsers:   make(map[int64]domain.AIUser),
	}
}

// RunInTransaction: the in-memory store already serializes every call
// through a single mutex, so holding the lock for the whole body rules out
// any other goroutine observing intermediate state. That alone isn't
// all-or-nothing, though — body itself can still fail partway through, so a
// snapshot of every map and id counter is taken up front and restored if
// body returns an error. body runs against the same *Store (it already
// satisfies store.Store).
func (s *Store) RunInTransaction(ctx context.Context, body store.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotLocked()
	if err := body(&locked{s}); err != nil {
		s.restoreLocked(snapshot)
		return err
	}
	return nil
}

// storeSnapshot holds a point-in-time copy of every table and id counter,
// taken and restored only while s.mu is held.
type storeSnapshot struct {
	nextOrderId, nextTxnId, nextFundId, nextPosId, nextAiUserId int64

	stocks    map[int64]domain.Stock
	users     map[int64]store.User
	orders    map[int64]domain.Order
	txns      map[int64]domain.Transaction
	funds     map[int64]domain.Fund
	positions map[int64]domain.Position
	candles   map[candleKey]domain.Candle
	aiUsers   map[int64]domain.AIUser
}

func (s *Store) snapshotLocked() storeSnapshot {
	return storeSnapshot{
		nextOrderId:  s.nextOrderId,
		nextTxnId:    s.nextTxnId,
		nextFundId:   s.nextFundId,
		nextPosId:    s.nextPosId,
		nextAiUserId: s.nextAiUserId,
		stocks:       cloneMap(s.stocks),
		users:        cloneMap(s.users),
		orders:       cloneMap(s.orders),
		txns:         cloneMap(s.txns),
		funds:        cloneMap(s.funds),
		positions:    cloneMap(s.positions),
		candles:      cloneMap(s.candles),
		aiUsers:      cloneMap(s.aiUsers),
	}
}

func (s *Store) restoreLocked(snap storeSnapshot) {
	s.nextOrderId = snap.nextOrderId
	s.nextTxnId = snap.nextTxnId
	s.nextFundId = snap.nextFundId
	s.nextPosId = snap.nextPosId
	s.nextAiUserId = snap.nextAiUserId
	s.stocks = snap.stocks
	s.users = snap.users
	s.orders = snap.orders
	s.txns = snap.txns
	s.funds = snap.funds
	s.positions = snap.positions
	s.candles = snap.candles
	s.aiUsers = snap.aiUsers
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// locked wraps Store so nested calls from inside RunInTransaction's body
// don't attempt to re-acquire the mutex.
type locked struct{ s *Store }

func (l *locked) RunInTransaction(ctx context.Context, body store.TxFunc) error {
	return body(l)
}
func (l *locked) InsertStock(ctx context.Context, s domain.Stock) (domain.Stock, error) {
	return l.s.insertStock(s)
}
func (l *locked) GetStock(ctx context.Context, id int64) (domain.Stock, error) {
	return l.s.getStock(id)
}
func (l *locked) ListStocks(ctx context.Context) ([]domain.Stock, error) { return l.s.listStocks() }
func (l *locked) InsertUser(ctx context.Context, u store.User) (store.User, error) {
	return l.s.insertUser(u)
}
func (l *locked) GetUser(ctx context.Context, id int64) (store.User, error) {
	return l.s.getUser(id)
}
func (l *locked) InsertOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	return l.s.insertOrder(o)
}
func (l *locked) UpdateOrder(ctx context.Context, o domain.Order) error { return l.s.updateOrder(o) }
func (l *locked) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	return l.s.getOrder(id)
}
func (l *locked) DeleteOrder(ctx context.Context, id int64) error { return l.s.deleteOrder(id) }
func (l *locked) GetOpenLimitOrders(ctx context.Context, stockId int64, currency domain.Currency) ([]domain.Order, error) {
	return l.s.getOpenLimitOrders(stockId, currency)
}
func (l *locked) GetOpenOrdersByUser(ctx context.Context, userId int64) ([]domain.Order, error) {
	return l.s.getOpenOrdersByUser(userId)
}
func (l *locked) InsertTransaction(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	return l.s.insertTransaction(t)
}
func (l *locked) GetTransactionsByStockIdAndTimeRange(ctx context.Context, stockId int64, currency domain.Currency, from, to time.Time) ([]domain.Transaction, error) {
	return l.s.getTransactionsByStockIdAndTimeRange(stockId, currency, from, to)
}
func (l *locked) UpsertFund(ctx context.Context, f domain.Fund) (domain.Fund, error) {
	return l.s.upsertFund(f)
}
func (l *locked) GetFund(ctx context.Context, userId int64, currency domain.Currency) (domain.Fund, error) {
	return l.s.getFund(userId, currency)
}
func (l *locked) ListFundsByUser(ctx context.Context, userId int64) ([]domain.Fund, error) {
	return l.s.listFundsByUser(userId)
}
func (l *locked) DeleteFund(ctx context.Context, fundId int64) error { return l.s.deleteFund(fundId) }
func (l *locked) UpsertPosition(ctx context.Context, p domain.Position) (domain.Position, error) {
	return l.s.upsertPosition(p)
}
func (l *locked) GetPosition(ctx context.Context, userId int64, stockId int64) (domain.Position, error) {
	return l.s.getPosition(userId, stockId)
}
func (l *locked) ListPositionsByUser(ctx context.Context, userId int64) ([]domain.Position, error) {
	return l.s.listPositionsByUser(userId)
}
func (l *locked) DeletePosition(ctx context.Context, positionId int64) error {
	return l.s.deletePosition(positionId)
}
func (l *locked) UpsertCandle(ctx context.Context, c domain.Candle) (domain.Candle, error) {
	return l.s.upsertCandle(c)
}
func (l *locked) GetCandlesByStockIdAndTimeRange(ctx context.Context, stockId int64, currency domain.Currency, resolution domain.CandleResolution, from, to time.Time) ([]domain.Candle, error) {
	return l.s.getCandlesByStockIdAndTimeRange(stockId, currency, resolution, from, to)
}
func (l *locked) ListAIUsers(ctx context.Context) ([]domain.AIUser, error) { return l.s.listAIUsers() }
func (l *locked) UpsertAIUser(ctx context.Context, a domain.AIUser) (domain.AIUser, error) {
	return l.s.upsertAIUser(a)
}

// Public methods acquire the mutex themselves; they must not be called from
// within a RunInTransaction body (use the locked wrapper passed to body
// instead), matching RunInTransaction's own non-reentrant lock.

func (s *Store) InsertStock(ctx context.Context, st domain.Stock) (domain.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertStock(st)
}
func (s *Store) GetStock(ctx context.Context, id int64) (domain.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getStock(id)
}
func (s *Store) ListStocks(ctx context.Context) ([]domain.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listStocks()
}
func (s *Store) InsertUser(ctx context.Context, u store.User) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertUser(u)
}
func (s *Store) GetUser(ctx context.Context, id int64) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getUser(id)
}
func (s *Store) InsertOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertOrder(o)
}
func (s *Store) UpdateOrder(ctx context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateOrder(o)
}
func (s *Store) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrder(id)
}
func (s *Store) DeleteOrder(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteOrder(id)
}
func (s *Store) GetOpenLimitOrders(ctx context.Context, stockId int64, currency domain.Currency) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOpenLimitOrders(stockId, currency)
}
func (s *Store) GetOpenOrdersByUser(ctx context.Context, userId int64) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOpenOrdersByUser(userId)
}
func (s *Store) InsertTransaction(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTransaction(t)
}
func (s *Store) GetTransactionsByStockIdAndTimeRange(ctx context.Context, stockId int64, currency domain.Currency, from, to time.Time) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getTransactionsByStockIdAndTimeRange(stockId, currency, from, to)
}
func (s *Store) UpsertFund(ctx context.Context, f domain.Fund) (domain.Fund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertFund(f)
}
func (s *Store) GetFund(ctx context.Context, userId int64, currency domain.Currency) (domain.Fund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getFund(userId, currency)
}
func (s *Store) ListFundsByUser(ctx context.Context, userId int64) ([]domain.Fund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listFundsByUser(userId)
}
func (s *Store) DeleteFund(ctx context.Context, fundId int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteFund(fundId)
}
func (s *Store) UpsertPosition(ctx context.Context, p domain.Position) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertPosition(p)
}
func (s *Store) GetPosition(ctx context.Context, userId int64, stockId int64) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getPosition(userId, stockId)
}
func (s *Store) ListPositionsByUser(ctx context.Context, userId int64) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listPositionsByUser(userId)
}
func (s *Store) DeletePosition(ctx context.Context, positionId int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletePosition(positionId)
}
func (s *Store) UpsertCandle(ctx context.Context, c domain.Candle) (domain.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCandle(c)
}
func (s *Store) GetCandlesByStockIdAndTimeRange(ctx context.Context, stockId int64, currency domain.Currency, resolution domain.CandleResolution, from, to time.Time) ([]domain.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCandlesByStockIdAndTimeRange(stockId, currency, resolution, from, to)
}
func (s *Store) ListAIUsers(ctx context.Context) ([]domain.AIUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listAIUsers()
}
func (s *Store) UpsertAIUser(ctx context.Context, a domain.AIUser) (domain.AIUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertAIUser(a)
}

// --- unlocked implementations, called only while s.mu is held ---

func (s *Store) insertStock(st domain.Stock) (domain.Stock, error) {
	s.stocks[st.StockId] = st
	return st, nil
}
func (s *Store) getStock(id int64) (domain.Stock, error) {
	st, ok := s.stocks[id]
	if !ok {
		return domain.Stock{}, domain.ErrNotFound
	}
	return st, nil
}
func (s *Store) listStocks() ([]domain.Stock, error) {
	out := make([]domain.Stock, 0, len(s.stocks))
	for _, st := range s.stocks {
		out = append(out, st)
	}
	return out, nil
}
func (s *Store) insertUser(u store.User) (store.User, error) {
	s.users[u.UserId] = u
	return u, nil
}
func (s *Store) getUser(id int64) (store.User, error) {
	u, ok := s.users[id]
	if !ok {
		return store.User{}, domain.ErrNotFound
	}
	return u, nil
}
func (s *Store) insertOrder(o domain.Order) (domain.Order, error) {
	s.nextOrderId++
	o.OrderId = s.nextOrderId
	s.orders[o.OrderId] = o
	return o, nil
}
func (s *Store) updateOrder(o domain.Order) error {
	if _, ok := s.orders[o.OrderId]; !ok {
		return domain.ErrNotFound
	}
	s.orders[o.OrderId] = o
	return nil
}
func (s *Store) getOrder(id int64) (domain.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}
func (s *Store) deleteOrder(id int64) error {
	delete(s.orders, id)
	return nil
}
func (s *Store) getOpenLimitOrders(stockId int64, currency domain.Currency) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.orders {
		if o.StockId == stockId && o.Currency == currency && o.IsRestable() {
			out = append(out, o)
		}
	}
	return out, nil
}
func (s *Store) getOpenOrdersByUser(userId int64) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.orders {
		if o.UserId == userId && o.Status == domain.Open {
			out = append(out, o)
		}
	}
	return out, nil
}
func (s *Store) insertTransaction(t domain.Transaction) (domain.Transaction, error) {
	s.nextTxnId++
	t.TransactionId = s.nextTxnId
	s.txns[t.TransactionId] = t
	return t, nil
}
func (s *Store) getTransactionsByStockIdAndTimeRange(stockId int64, currency domain.Currency, from, to time.Time) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, t := range s.txns {
		if t.StockId == stockId && t.Currency == currency &&
			!t.Timestamp.Before(from) && t.Timestamp.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}
func (s *Store) upsertFund(f domain.Fund) (domain.Fund, error) {
	for id, existing := range s.funds {
		if existing.UserId == f.UserId && existing.Currency == f.Currency {
			f.FundId = id
			s.funds[id] = f
			return f, nil
		}
	}
	s.nextFundId++
	f.FundId = s.nextFundId
	s.funds[f.FundId] = f
	return f, nil
}
func (s *Store) getFund(userId int64, currency domain.Currency) (domain.Fund, error) {
	for _, f := range s.funds {
		if f.UserId == userId && f.Currency == currency {
			return f, nil
		}
	}
	return domain.Fund{UserId: userId, Currency: currency}, nil
}
func (s *Store) listFundsByUser(userId int64) ([]domain.Fund, error) {
	var out []domain.Fund
	for _, f := range s.funds {
		if f.UserId == userId {
			out = append(out, f)
		}
	}
	return out, nil
}
func (s *Store) deleteFund(fundId int64) error {
	delete(s.funds, fundId)
	return nil
}
func (s *Store) upsertPosition(p domain.Position) (domain.Position, error) {
	for id, existing := range s.positions {
		if existing.UserId == p.UserId && existing.StockId == p.StockId {
			p.PositionId = id
			s.positions[id] = p
			return p, nil
		}
	}
	s.nextPosId++
	p.PositionId = s.nextPosId
	s.positions[p.PositionId] = p
	return p, nil
}
func (s *Store) getPosition(userId int64, stockId int64) (domain.Position, error) {
	for _, p := range s.positions {
		if p.UserId == userId && p.StockId == stockId {
			return p, nil
		}
	}
	return domain.Position{UserId: userId, StockId: stockId}, nil
}
func (s *Store) listPositionsByUser(userId int64) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.positions {
		if p.UserId == userId {
			out = append(out, p)
		}
	}
	return out, nil
}
func (s *Store) deletePosition(positionId int64) error {
	delete(s.positions, positionId)
	return nil
}
func (s *Store) upsertCandle(c domain.Candle) (domain.Candle, error) {
	key := candleKey{c.StockId, c.Currency, c.Bucket, c.OpenTime.Unix()}
	s.candles[key] = c
	return c, nil
}
func (s *Store) getCandlesByStockIdAndTimeRange(stockId int64, currency domain.Currency, resolution domain.CandleResolution, from, to time.Time) ([]domain.Candle, error) {
	var out []domain.Candle
	for _, c := range s.candles {
		if c.StockId == stockId && c.Currency == currency && c.Bucket == resolution &&
			!c.OpenTime.Before(from) && c.OpenTime.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}
func (s *Store) listAIUsers() ([]domain.AIUser, error) {
	out := make([]domain.AIUser, 0, len(s.aiUsers))
	for _, a := range s.aiUsers {
		out = append(out, a)
	}
	return out, nil
}
func (s *Store) upsertAIUser(a domain.AIUser) (domain.AIUser, error) {
	if a.AiUserId == 0 {
		s.nextAiUserId++
		a.AiUserId = s.nextAiUserId
	}
	s.aiUsers[a.AiUserId] = a
	return a, nil
}

var _ store.Store = (*Store)(nil)
var _ store.Store = (*locked)(nil)
