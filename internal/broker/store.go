package broker

import (
	"context"

	"go.uber.org/zap"

	"papertrade/internal/models"
)

// Store - хранилище состояния брокера
//
// Брокер зеркалирует в него каждое изменение. Ошибки записи логируются
// и считаются в метриках, но не влияют на торговлю.
type Store interface {
	SaveOrder(ctx context.Context, order *models.Order) error
	SaveFill(ctx context.Context, fill *models.Fill) error
	SavePosition(ctx context.Context, pos *models.Position) error
	DeletePosition(ctx context.Context, symbol string) error
	SaveAccount(ctx context.Context, acc *models.Account) error

	ListOrders(ctx context.Context) ([]*models.Order, error)
	ListFills(ctx context.Context) ([]*models.Fill, error)
	ListPositions(ctx context.Context) ([]*models.Position, error)
	// GetAccount возвращает nil, nil если счёт ещё не сохранялся
	GetAccount(ctx context.Context) (*models.Account, error)

	Reset(ctx context.Context) error
}

// nopStore - хранилище по умолчанию (драйвер memory)
type nopStore struct{}

func (nopStore) SaveOrder(context.Context, *models.Order) error { return nil }
func (nopStore) SaveFill(context.Context, *models.Fill) error { return nil }
func (nopStore) SavePosition(context.Context, *models.Position) error { return nil }
func (nopStore) DeletePosition(context.Context, string) error { return nil }
func (nopStore) SaveAccount(context.Context, *models.Account) error { return nil }
func (nopStore) ListOrders(context.Context) ([]*models.Order, error) { return nil, nil }
func (nopStore) ListFills(context.Context) ([]*models.Fill, error) { return nil, nil }
func (nopStore) ListPositions(context.Context) ([]*models.Position, error) { return nil, nil }
func (nopStore) GetAccount(context.Context) (*models.Account, error) { return nil, nil }
func (nopStore) Reset(context.Context) error { return nil }

// Операции хранилища для логов и метрик
const (
	opSaveOrder      = "save_order"
	opSaveFill       = "save_fill"
	opSavePosition   = "save_position"
	opDeletePosition = "delete_position"
	opSaveAccount    = "save_account"
	opReset          = "reset"
)

// storeFailed логирует ошибку записи и считает её в метриках
func (b *PaperBroker) storeFailed(op string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	b.metrics.IncStoreError(op)
	b.logger.Warn("store write failed", append(fields, zap.String("op", op), zap.Error(err))...)
}

func (b *PaperBroker) persistOrder(ctx context.Context, o *models.Order) {
	b.storeFailed(opSaveOrder, b.store.SaveOrder(ctx, o.Clone()), zap.String("order_id", o.ID))
}

func (b *PaperBroker) persistFill(ctx context.Context, f models.Fill) {
	b.storeFailed(opSaveFill, b.store.SaveFill(ctx, &f), zap.String("fill_id", f.ID))
}

func (b *PaperBroker) persistPosition(ctx context.Context, change PositionChange) {
	if change.Closed {
		b.storeFailed(opDeletePosition, b.store.DeletePosition(ctx, change.Position.Symbol),
			zap.String("symbol", change.Position.Symbol))
		return
	}
	pos := change.Position
	b.storeFailed(opSavePosition, b.store.SavePosition(ctx, &pos), zap.String("symbol", pos.Symbol))
}

func (b *PaperBroker) persistAccount(ctx context.Context) {
	acc := b.ledger.Account()
	b.storeFailed(opSaveAccount, b.store.SaveAccount(ctx, &acc))
}
