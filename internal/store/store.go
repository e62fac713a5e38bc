// Package store defines the persistence contract the core consumes
// (spec.md §6). The core never depends on a concrete database; two
// implementations are provided — memstore (reference, in-process) and
// gormstore (gorm.io/gorm over SQLite) — both satisfying Store.
package store

import (
	"context"
	"time"

	"bourse/internal/domain"
)

// User is the minimal identity row the core needs to exist; full profile
// CRUD, auth and password hashing are out of scope (spec.md §1).
type User struct {
	UserId int64
	Name   string
}

// TxFunc is the body of a RunInTransaction call. Returning an error aborts
// the whole batch (§4.4, §6).
type TxFunc func(tx Store) error

// Store is the minimum required persistence surface (§6). All methods that
// accept a context honor cancellation between steps, never mid-transaction
// (§5).
type Store interface {
	// RunInTransaction executes body with all-or-nothing semantics over its
	// Orders/Transactions/Funds/Positions work.
	RunInTransaction(ctx context.Context, body TxFunc) error

	InsertStock(ctx context.Context, s domain.Stock) (domain.Stock, error)
	GetStock(ctx context.Context, stockId int64) (domain.Stock, error)
	ListStocks(ctx context.Context) ([]domain.Stock, error)

	InsertUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, userId int64) (User, error)

	InsertOrder(ctx context.Context, o domain.Order) (domain.Order, error)
	UpdateOrder(ctx context.Context, o domain.Order) error
	GetOrder(ctx context.Context, orderId int64) (domain.Order, error)
	DeleteOrder(ctx context.Context, orderId int64) error
	GetOpenLimitOrders(ctx context.Context, stockId int64, currency domain.Currency) ([]domain.Order, error)
	GetOpenOrdersByUser(ctx context.Context, userId int64) ([]domain.Order, error)

	InsertTransaction(ctx context.Context, t domain.Transaction) (domain.Transaction, error)
	GetTransactionsByStockIdAndTimeRange(ctx context.Context, stockId int64, currency domain.Currency, from, to time.Time) ([]domain.Transaction, error)

	UpsertFund(ctx context.Context, f domain.Fund) (domain.Fund, error)
	GetFund(ctx context.Context, userId int64, currency domain.Currency) (domain.Fund, error)
	ListFundsByUser(ctx context.Context, userId int64) ([]domain.Fund, error)
	DeleteFund(ctx context.Context, fundId int64) error

	UpsertPosition(ctx context.Context, p domain.Position) (domain.Position, error)
	GetPosition(ctx context.Context, userId int64, stockId int64) (domain.Position, error)
	ListPositionsByUser(ctx context.Context, userId int64) ([]domain.Position, error)
	DeletePosition(ctx context.Context, positionId int64) error

	UpsertCandle(ctx context.Context, c domain.Candle) (domain.Candle, error)
	GetCandlesByStockIdAndTimeRange(ctx context.Context, stockId int64, currency domain.Currency, resolution domain.CandleResolution, from, to time.Time) ([]domain.Candle, error)

	ListAIUsers(ctx context.Context) ([]domain.AIUser, error)
	UpsertAIUser(ctx context.Context, a domain.AIUser) (domain.AIUser, error)
}
