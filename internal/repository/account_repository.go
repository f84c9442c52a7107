package repository

import (
	"context"
	"database/sql"
	"errors"

	"papertrade/internal/models"
)

// AccountRepository - работа с таблицей paper_account
//
// Счёт один на сессию, хранится в строке с id = 1.
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository создает новый экземпляр репозитория
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Save сохраняет счёт
func (r *AccountRepository) Save(ctx context.Context, a *models.Account) error {
	query := `
		INSERT INTO paper_account (id, balance, equity, realized_pnl, unrealized_pnl, total_pnl, daily_pnl, total_fees, fees_accrued, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			balance = EXCLUDED.balance,
			equity = EXCLUDED.equity,
			realized_pnl = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			total_pnl = EXCLUDED.total_pnl,
			daily_pnl = EXCLUDED.daily_pnl,
			total_fees = EXCLUDED.total_fees,
			fees_accrued = EXCLUDED.fees_accrued,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		a.Balance,
		a.Equity,
		a.RealizedPnL,
		a.UnrealizedPnL,
		a.TotalPnL,
		a.DailyPnL,
		a.TotalFees,
		a.FeesAccrued,
		a.UpdatedAt,
	)
	return err
}

// Get возвращает счёт или nil если он ещё не сохранялся
func (r *AccountRepository) Get(ctx context.Context) (*models.Account, error) {
	query := `
		SELECT balance, equity, realized_pnl, unrealized_pnl, total_pnl, daily_pnl, total_fees, fees_accrued, updated_at
		FROM paper_account
		WHERE id = 1`

	a := &models.Account{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&a.Balance,
		&a.Equity,
		&a.RealizedPnL,
		&a.UnrealizedPnL,
		&a.TotalPnL,
		&a.DailyPnL,
		&a.TotalFees,
		&a.FeesAccrued,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return a, nil
}

// Delete удаляет счёт
func (r *AccountRepository) Delete(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM paper_account`)
	return err
}
