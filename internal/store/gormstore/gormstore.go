// Package gormstore persists the exchange's durable state through
// gorm.io/gorm over SQLite, grounded on
// web3guy0-polybot/internal/database/database.go's gorm.Open/AutoMigrate
// pattern. The core never imports this package directly — it is wired in by
// cmd/bourse-server behind the store.Store interface.
package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bourse/internal/domain"
	"bourse/internal/store"
)

// --- gorm row models (wire-shape distinct from internal/domain on purpose:
// the store boundary maps between them) ---

type stockRow struct {
	StockId     int64 `gorm:"primaryKey"`
	Symbol      string `gorm:"uniqueIndex"`
	CompanyName string
}

type userRow struct {
	UserId int64 `gorm:"primaryKey"`
	Name   string
}

type orderRow struct {
	OrderId         int64 `gorm:"primaryKey;autoIncrement"`
	UserId          int64 `gorm:"index"`
	StockId         int64 `gorm:"index"`
	Currency        int
	Side            int
	Type            int
	Price           decimal.Decimal `gorm:"type:decimal(20,8)"`
	SlippagePercent decimal.Decimal `gorm:"type:decimal(6,3)"`
	Quantity        int64
	AmountFilled    int64
	Status          int `gorm:"index"`
	BuyBudget       decimal.Decimal `gorm:"type:decimal(20,8)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type transactionRow struct {
	TransactionId int64 `gorm:"primaryKey;autoIncrement"`
	StockId       int64 `gorm:"index"`
	Currency      int
	BuyOrderId    int64
	SellOrderId   int64
	BuyerId       int64
	SellerId      int64
	Price         decimal.Decimal `gorm:"type:decimal(20,8)"`
	Quantity      int64
	Timestamp     time.Time `gorm:"index"`
}

type fundRow struct {
	FundId          int64 `gorm:"primaryKey;autoIncrement"`
	UserId          int64 `gorm:"uniqueIndex:idx_fund_user_ccy"`
	Currency        int   `gorm:"uniqueIndex:idx_fund_user_ccy"`
	TotalBalance    decimal.Decimal `gorm:"type:decimal(20,8)"`
	ReservedBalance decimal.Decimal `gorm:"type:decimal(20,8)"`
}

type positionRow struct {
	PositionId       int64 `gorm:"primaryKey;autoIncrement"`
	UserId           int64 `gorm:"uniqueIndex:idx_position_user_stock"`
	StockId          int64 `gorm:"uniqueIndex:idx_position_user_stock"`
	Quantity         int64
	ReservedQuantity int64
}

type candleRow struct {
	StockId    int64 `gorm:"uniqueIndex:idx_candle_key"`
	Currency   int   `gorm:"uniqueIndex:idx_candle_key"`
	Bucket     int64 `gorm:"uniqueIndex:idx_candle_key"`
	OpenTime   time.Time `gorm:"uniqueIndex:idx_candle_key"`
	CloseTime  time.Time
	Open       decimal.Decimal `gorm:"type:decimal(20,8)"`
	High       decimal.Decimal `gorm:"type:decimal(20,8)"`
	Low        decimal.Decimal `gorm:"type:decimal(20,8)"`
	Close      decimal.Decimal `gorm:"type:decimal(20,8)"`
	Volume     int64
	TradeCount int64
}

type aiUserRow struct {
	AiUserId              int64 `gorm:"primaryKey;autoIncrement"`
	UserId                int64 `gorm:"uniqueIndex"`
	Seed                  int64
	DecisionIntervalNanos int64
	WatchlistCSV          string
	OnlineProb            decimal.Decimal `gorm:"type:decimal(6,4)"`
	TradeProb             decimal.Decimal `gorm:"type:decimal(6,4)"`
	UseMarketProb         decimal.Decimal `gorm:"type:decimal(6,4)"`
	UseSlippageMarketProb decimal.Decimal `gorm:"type:decimal(6,4)"`
	Aggressiveness        decimal.Decimal `gorm:"type:decimal(6,4)"`
	MaxDailyTrades        int
	MaxOpenOrders         int
	MinCashReservePrc     decimal.Decimal `gorm:"type:decimal(6,3)"`
	MaxCashReservePrc     decimal.Decimal `gorm:"type:decimal(6,3)"`
	MinTradeAmountPrc     decimal.Decimal `gorm:"type:decimal(6,3)"`
	MaxTradeAmountPrc     decimal.Decimal `gorm:"type:decimal(6,3)"`
	PerPositionMaxPrc     decimal.Decimal `gorm:"type:decimal(6,3)"`
	TradesToday           int
	LastResetAt           time.Time
}

// Store is a gorm-backed store.Store.
type Store struct {
	db *gorm.DB
}

// Open connects to a SQLite database file (":memory:" for an ephemeral
// instance) and runs AutoMigrate over every model.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	if err := db.AutoMigrate(
		&stockRow{}, &userRow{}, &orderRow{}, &transactionRow{},
		&fundRow{}, &positionRow{}, &candleRow{}, &aiUserRow{},
	); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	log.Info().Str("path", path).Msg("gormstore ready")
	return &Store{db: db}, nil
}

func (s *Store) RunInTransaction(ctx context.Context, body store.TxFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return body(&Store{db: tx})
	})
}

func (s *Store) InsertStock(ctx context.Context, st domain.Stock) (domain.Stock, error) {
	row := toStockRow(st)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return domain.Stock{}, err
	}
	return fromStockRow(row), nil
}

func (s *Store) GetStock(ctx context.Context, stockId int64) (domain.Stock, error) {
	var row stockRow
	if err := s.db.WithContext(ctx).First(&row, "stock_id = ?", stockId).Error; err != nil {
		return domain.Stock{}, wrapNotFound(err)
	}
	return fromStockRow(row), nil
}

func (s *Store) ListStocks(ctx context.Context) ([]domain.Stock, error) {
	var rows []stockRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Stock, len(rows))
	for i, r := range rows {
		out[i] = fromStockRow(r)
	}
	return out, nil
}

func (s *Store) InsertUser(ctx context.Context, u store.User) (store.User, error) {
	row := userRow{UserId: u.UserId, Name: u.Name}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return store.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, userId int64) (store.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "user_id = ?", userId).Error; err != nil {
		return store.User{}, wrapNotFound(err)
	}
	return store.User{UserId: row.UserId, Name: row.Name}, nil
}

func (s *Store) InsertOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	row := toOrderRow(o)
	row.OrderId = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return domain.Order{}, err
	}
	return fromOrderRow(row), nil
}

func (s *Store) UpdateOrder(ctx context.Context, o domain.Order) error {
	row := toOrderRow(o)
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) GetOrder(ctx context.Context, orderId int64) (domain.Order, error) {
	var row orderRow
	if err := s.db.WithContext(ctx).First(&row, "order_id = ?", orderId).Error; err != nil {
		return domain.Order{}, wrapNotFound(err)
	}
	return fromOrderRow(row), nil
}

func (s *Store) DeleteOrder(ctx context.Context, orderId int64) error {
	return s.db.WithContext(ctx).Delete(&orderRow{}, "order_id = ?", orderId).Error
}

func (s *Store) GetOpenLimitOrders(ctx context.Context, stockId int64, currency domain.Currency) ([]domain.Order, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).Where(
		"stock_id = ? AND currency = ? AND status = ? AND (type = ? OR type = ?)",
		stockId, int(currency), int(domain.Open), int(domain.LimitBuy), int(domain.LimitSell),
	).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromOrderRows(rows), nil
}

func (s *Store) GetOpenOrdersByUser(ctx context.Context, userId int64) ([]domain.Order, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).Where("user_id = ? AND status = ?", userId, int(domain.Open)).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromOrderRows(rows), nil
}

func (s *Store) InsertTransaction(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	row := toTransactionRow(t)
	row.TransactionId = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return domain.Transaction{}, err
	}
	return fromTransactionRow(row), nil
}

func (s *Store) GetTransactionsByStockIdAndTimeRange(ctx context.Context, stockId int64, currency domain.Currency, from, to time.Time) ([]domain.Transaction, error) {
	var rows []transactionRow
	err := s.db.WithContext(ctx).Where(
		"stock_id = ? AND currency = ? AND timestamp >= ? AND timestamp < ?",
		stockId, int(currency), from, to,
	).Order("timestamp asc").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Transaction, len(rows))
	for i, r := range rows {
		out[i] = fromTransactionRow(r)
	}
	return out, nil
}

func (s *Store) UpsertFund(ctx context.Context, f domain.Fund) (domain.Fund, error) {
	row := toFundRow(f)
	var existing fundRow
	err := s.db.WithContext(ctx).Where("user_id = ? AND currency = ?", f.UserId, int(f.Currency)).First(&existing).Error
	if err == nil {
		row.FundId = existing.FundId
		if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
			return domain.Fund{}, err
		}
		return fromFundRow(row), nil
	}
	row.FundId = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return domain.Fund{}, err
	}
	return fromFundRow(row), nil
}

func (s *Store) GetFund(ctx context.Context, userId int64, currency domain.Currency) (domain.Fund, error) {
	var row fundRow
	err := s.db.WithContext(ctx).Where("user_id = ? AND currency = ?", userId, int(currency)).First(&row).Error
	if err != nil {
		return domain.Fund{UserId: userId, Currency: currency}, nil
	}
	return fromFundRow(row), nil
}

func (s *Store) ListFundsByUser(ctx context.Context, userId int64) ([]domain.Fund, error) {
	var rows []fundRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userId).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Fund, len(rows))
	for i, r := range rows {
		out[i] = fromFundRow(r)
	}
	return out, nil
}

func (s *Store) DeleteFund(ctx context.Context, fundId int64) error {
	return s.db.WithContext(ctx).Delete(&fundRow{}, "fund_id = ?", fundId).Error
}

func (s *Store) UpsertPosition(ctx context.Context, p domain.Position) (domain.Position, error) {
	row := toPositionRow(p)
	var existing positionRow
	err := s.db.WithContext(ctx).Where("user_id = ? AND stock_id = ?", p.UserId, p.StockId).First(&existing).Error
	if err == nil {
		row.PositionId = existing.PositionId
		if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
			return domain.Position{}, err
		}
		return fromPositionRow(row), nil
	}
	row.PositionId = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return domain.Position{}, err
	}
	return fromPositionRow(row), nil
}

func (s *Store) GetPosition(ctx context.Context, userId int64, stockId int64) (domain.Position, error) {
	var row positionRow
	err := s.db.WithContext(ctx).Where("user_id = ? AND stock_id = ?", userId, stockId).First(&row).Error
	if err != nil {
		return domain.Position{UserId: userId, StockId: stockId}, nil
	}
	return fromPositionRow(row), nil
}

func (s *Store) ListPositionsByUser(ctx context.Context, userId int64) ([]domain.Position, error) {
	var rows []positionRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userId).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Position, len(rows))
	for i, r := range rows {
		out[i] = fromPositionRow(r)
	}
	return out, nil
}

func (s *Store) DeletePosition(ctx context.Context, positionId int64) error {
	return s.db.WithContext(ctx).Delete(&positionRow{}, "position_id = ?", positionId).Error
}

func (s *Store) UpsertCandle(ctx context.Context, c domain.Candle) (domain.Candle, error) {
	row := toCandleRow(c)
	err := s.db.WithContext(ctx).
		Where("stock_id = ? AND currency = ? AND bucket = ? AND open_time = ?",
			row.StockId, row.Currency, row.Bucket, row.OpenTime).
		Assign(row).
		FirstOrCreate(&row).Error
	if err != nil {
		return domain.Candle{}, err
	}
	return fromCandleRow(row), nil
}

func (s *Store) GetCandlesByStockIdAndTimeRange(ctx context.Context, stockId int64, currency domain.Currency, resolution domain.CandleResolution, from, to time.Time) ([]domain.Candle, error) {
	var rows []candleRow
	err := s.db.WithContext(ctx).Where(
		"stock_id = ? AND currency = ? AND bucket = ? AND open_time >= ? AND open_time < ?",
		stockId, int(currency), int64(resolution), from, to,
	).Order("open_time asc").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Candle, len(rows))
	for i, r := range rows {
		out[i] = fromCandleRow(r)
	}
	return out, nil
}

func (s *Store) ListAIUsers(ctx context.Context) ([]domain.AIUser, error) {
	var rows []aiUserRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AIUser, len(rows))
	for i, r := range rows {
		out[i] = fromAIUserRow(r)
	}
	return out, nil
}

func (s *Store) UpsertAIUser(ctx context.Context, a domain.AIUser) (domain.AIUser, error) {
	row := toAIUserRow(a)
	if row.AiUserId == 0 {
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return domain.AIUser{}, err
		}
		return fromAIUserRow(row), nil
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return domain.AIUser{}, err
	}
	return fromAIUserRow(row), nil
}

func wrapNotFound(err error) error {
	if err == gorm.ErrRecordNotFound {
		return domain.ErrNotFound
	}
	return err
}

var _ store.Store = (*Store)(nil)
