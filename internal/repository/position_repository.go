package repository

import (
	"context"
	"database/sql"

	"papertrade/internal/models"
)

// PositionRepository - работа с таблицей paper_positions (одна строка на символ)
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Upsert сохраняет позицию по символу
func (r *PositionRepository) Upsert(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO paper_positions (symbol, side, quantity, average_price, unrealized_pnl, realized_pnl, total_fees, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol) DO UPDATE SET
			side = EXCLUDED.side,
			quantity = EXCLUDED.quantity,
			average_price = EXCLUDED.average_price,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			realized_pnl = EXCLUDED.realized_pnl,
			total_fees = EXCLUDED.total_fees,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		p.Symbol,
		p.Side,
		p.Quantity,
		p.AveragePrice,
		p.UnrealizedPnL,
		p.RealizedPnL,
		p.TotalFees,
		p.LastUpdate,
	)
	return err
}

// Delete удаляет позицию по символу. Отсутствие строки не ошибка.
func (r *PositionRepository) Delete(ctx context.Context, symbol string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM paper_positions WHERE symbol = $1`, symbol)
	return err
}

// GetAll возвращает все позиции
func (r *PositionRepository) GetAll(ctx context.Context) ([]*models.Position, error) {
	query := `
		SELECT symbol, side, quantity, average_price, unrealized_pnl, realized_pnl, total_fees, updated_at
		FROM paper_positions
		ORDER BY symbol ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p := &models.Position{}
		err := rows.Scan(
			&p.Symbol,
			&p.Side,
			&p.Quantity,
			&p.AveragePrice,
			&p.UnrealizedPnL,
			&p.RealizedPnL,
			&p.TotalFees,
			&p.LastUpdate,
		)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

