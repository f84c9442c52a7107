package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"papertrade/internal/models"
)

// PaperStore - PostgreSQL хранилище состояния бумажного брокера
//
// Собирает репозитории таблиц в единый контракт хранилища брокера.
type PaperStore struct {
	db        *sql.DB
	orders    *OrderRepository
	fills     *FillRepository
	positions *PositionRepository
	account   *AccountRepository
}

// NewPaperStore создает хранилище поверх открытого подключения
func NewPaperStore(db *sql.DB) *PaperStore {
	return &PaperStore{
		db:        db,
		orders:    NewOrderRepository(db),
		fills:     NewFillRepository(db),
		positions: NewPositionRepository(db),
		account:   NewAccountRepository(db),
	}
}

// SaveOrder сохраняет ордер
func (s *PaperStore) SaveOrder(ctx context.Context, o *models.Order) error {
	return s.orders.Save(ctx, o)
}

// SaveFill сохраняет исполнение
func (s *PaperStore) SaveFill(ctx context.Context, f *models.Fill) error {
	return s.fills.Create(ctx, f)
}

// SavePosition сохраняет позицию
func (s *PaperStore) SavePosition(ctx context.Context, p *models.Position) error {
	return s.positions.Upsert(ctx, p)
}

// DeletePosition удаляет закрытую позицию
func (s *PaperStore) DeletePosition(ctx context.Context, symbol string) error {
	return s.positions.Delete(ctx, symbol)
}

// SaveAccount сохраняет счёт
func (s *PaperStore) SaveAccount(ctx context.Context, a *models.Account) error {
	return s.account.Save(ctx, a)
}

// ListOrders возвращает все ордера
func (s *PaperStore) ListOrders(ctx context.Context) ([]*models.Order, error) {
	return s.orders.GetAll(ctx)
}

// ListFills возвращает все исполнения
func (s *PaperStore) ListFills(ctx context.Context) ([]*models.Fill, error) {
	return s.fills.GetAll(ctx)
}

// ListPositions возвращает открытые позиции
func (s *PaperStore) ListPositions(ctx context.Context) ([]*models.Position, error) {
	return s.positions.GetAll(ctx)
}

// GetAccount возвращает счёт, nil если не сохранялся
func (s *PaperStore) GetAccount(ctx context.Context) (*models.Account, error) {
	return s.account.Get(ctx)
}

// Reset очищает все таблицы одной транзакцией
func (s *PaperStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"paper_fills", "paper_orders", "paper_positions", "paper_account"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}

	return tx.Commit()
}

// Migrate создаёт таблицы если их нет
func (s *PaperStore) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

// IsTransient сообщает, имеет ли смысл повторить операцию.
// Для ошибок PostgreSQL повторяются классы 08 (соединение), 53 и 57.
func IsTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return true
		}
		return false
	}
	// ошибки сети до установки соединения
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS paper_orders (
		id              TEXT PRIMARY KEY,
		symbol          TEXT NOT NULL,
		side            TEXT NOT NULL,
		type            TEXT NOT NULL,
		quantity        DOUBLE PRECISION NOT NULL,
		orig_quantity   DOUBLE PRECISION NOT NULL,
		price           DOUBLE PRECISION NOT NULL DEFAULT 0,
		stop_price      DOUBLE PRECISION NOT NULL DEFAULT 0,
		tif             TEXT NOT NULL,
		status          TEXT NOT NULL,
		reason          TEXT NOT NULL DEFAULT '',
		triggered       BOOLEAN NOT NULL DEFAULT FALSE,
		filled_quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
		average_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
		fee             DOUBLE PRECISION NOT NULL DEFAULT 0,
		fee_bps         DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		cancelled_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_paper_orders_status ON paper_orders (status)`,
	`CREATE TABLE IF NOT EXISTS paper_fills (
		id         TEXT PRIMARY KEY,
		order_id   TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		side       TEXT NOT NULL,
		quantity   DOUBLE PRECISION NOT NULL,
		price      DOUBLE PRECISION NOT NULL,
		fee        DOUBLE PRECISION NOT NULL,
		fee_bps    DOUBLE PRECISION NOT NULL,
		liquidity  TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_paper_fills_order ON paper_fills (order_id)`,
	`CREATE TABLE IF NOT EXISTS paper_positions (
		symbol         TEXT PRIMARY KEY,
		side           TEXT NOT NULL,
		quantity       DOUBLE PRECISION NOT NULL,
		average_price  DOUBLE PRECISION NOT NULL,
		unrealized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
		realized_pnl   DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_fees     DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS paper_account (
		id             INTEGER PRIMARY KEY,
		balance        DOUBLE PRECISION NOT NULL,
		equity         DOUBLE PRECISION NOT NULL,
		realized_pnl   DOUBLE PRECISION NOT NULL,
		unrealized_pnl DOUBLE PRECISION NOT NULL,
		total_pnl      DOUBLE PRECISION NOT NULL,
		daily_pnl      DOUBLE PRECISION NOT NULL,
		total_fees     DOUBLE PRECISION NOT NULL,
		fees_accrued   DOUBLE PRECISION NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
}
