package repository

import (
	"context"
	"database/sql"

	"papertrade/internal/models"
)

// FillRepository - работа с таблицей paper_fills
//
// Исполнения только добавляются, повторная запись того же id игнорируется.
type FillRepository struct {
	db *sql.DB
}

// NewFillRepository создает новый экземпляр репозитория
func NewFillRepository(db *sql.DB) *FillRepository {
	return &FillRepository{db: db}
}

// Create записывает исполнение
func (r *FillRepository) Create(ctx context.Context, f *models.Fill) error {
	query := `
		INSERT INTO paper_fills (id, order_id, symbol, side, quantity, price, fee, fee_bps, liquidity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		f.ID,
		f.OrderID,
		f.Symbol,
		string(f.Side),
		f.Quantity,
		f.Price,
		f.Fee,
		f.FeeBps,
		f.Liquidity,
		f.Timestamp,
	)
	return err
}

// GetAll возвращает все исполнения в хронологическом порядке
func (r *FillRepository) GetAll(ctx context.Context) ([]*models.Fill, error) {
	query := `
		SELECT id, order_id, symbol, side, quantity, price, fee, fee_bps, liquidity, created_at
		FROM paper_fills
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []*models.Fill
	for rows.Next() {
		f := &models.Fill{}
		var side string
		err := rows.Scan(
			&f.ID,
			&f.OrderID,
			&f.Symbol,
			&side,
			&f.Quantity,
			&f.Price,
			&f.Fee,
			&f.FeeBps,
			&f.Liquidity,
			&f.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		f.Side = models.Side(side)
		fills = append(fills, f)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return fills, nil
}

