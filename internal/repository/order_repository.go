package repository

import (
	"context"
	"database/sql"

	"papertrade/internal/models"
)

// OrderRepository - работа с таблицей paper_orders
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, symbol, side, type, quantity, orig_quantity, price, stop_price, tif, status, reason,
		triggered, filled_quantity, average_price, fee, fee_bps, created_at, updated_at, cancelled_at`

// Save вставляет ордер или обновляет его изменяемые поля
func (r *OrderRepository) Save(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO paper_orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			triggered = EXCLUDED.triggered,
			filled_quantity = EXCLUDED.filled_quantity,
			average_price = EXCLUDED.average_price,
			fee = EXCLUDED.fee,
			fee_bps = EXCLUDED.fee_bps,
			updated_at = EXCLUDED.updated_at,
			cancelled_at = EXCLUDED.cancelled_at`

	_, err := r.db.ExecContext(ctx, query,
		o.ID,
		o.Symbol,
		string(o.Side),
		string(o.Type),
		o.Quantity,
		o.OrigQuantity,
		o.Price,
		o.StopPrice,
		string(o.TIF),
		string(o.Status),
		o.Reason,
		o.Triggered,
		o.FilledQuantity,
		o.AveragePrice,
		o.Fee,
		o.FeeBps,
		o.CreatedAt,
		o.UpdatedAt,
		o.CancelledAt,
	)
	return err
}

// GetAll возвращает все ордера в порядке создания
func (r *OrderRepository) GetAll(ctx context.Context) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM paper_orders ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// rowScanner - общий интерфейс *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	o := &models.Order{}
	var side, typ, tif, status string
	var cancelledAt sql.NullTime

	err := row.Scan(
		&o.ID,
		&o.Symbol,
		&side,
		&typ,
		&o.Quantity,
		&o.OrigQuantity,
		&o.Price,
		&o.StopPrice,
		&tif,
		&status,
		&o.Reason,
		&o.Triggered,
		&o.FilledQuantity,
		&o.AveragePrice,
		&o.Fee,
		&o.FeeBps,
		&o.CreatedAt,
		&o.UpdatedAt,
		&cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	o.Side = models.Side(side)
	o.Type = models.OrderType(typ)
	o.TIF = models.TimeInForce(tif)
	o.Status = models.OrderStatus(status)
	if cancelledAt.Valid {
		t := cancelledAt.Time
		o.CancelledAt = &t
	}
	return o, nil
}
