package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	jsoniter "github.com/json-iterator/go"

	"papertrade/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PebbleStore - хранилище состояния брокера в локальной KV базе Pebble
//
// Записи ордеров, позиций и счёта синхронные, исполнения пишутся без
// fsync: при падении теряется хвост истории, но не состояние счёта.
type PebbleStore struct {
	db *pebble.DB
}

// Option - опция открытия хранилища
type Option func(*pebble.Options)

// WithFS подменяет файловую систему (vfs.NewMem() в тестах)
func WithFS(fs vfs.FS) Option {
	return func(o *pebble.Options) {
		o.FS = fs
	}
}

// Open открывает базу по пути path
func Open(path string, opts ...Option) (*PebbleStore, error) {
	options := &pebble.Options{}
	for _, opt := range opts {
		opt(options)
	}

	db, err := pebble.Open(path, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close закрывает базу
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// ============================================================
// Запись
// ============================================================

// SaveOrder сохраняет ордер (перезаписывает по id)
func (s *PebbleStore) SaveOrder(_ context.Context, o *models.Order) error {
	return s.put(orderKey(o.ID), o, pebble.Sync)
}

// SaveFill сохраняет исполнение
func (s *PebbleStore) SaveFill(_ context.Context, f *models.Fill) error {
	return s.put(fillKey(f.Timestamp, f.ID), f, pebble.NoSync)
}

// SavePosition сохраняет позицию по символу
func (s *PebbleStore) SavePosition(_ context.Context, p *models.Position) error {
	return s.put(positionKey(p.Symbol), p, pebble.Sync)
}

// DeletePosition удаляет позицию
func (s *PebbleStore) DeletePosition(_ context.Context, symbol string) error {
	if err := s.db.Delete(positionKey(symbol), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}
	return nil
}

// SaveAccount сохраняет счёт
func (s *PebbleStore) SaveAccount(_ context.Context, a *models.Account) error {
	return s.put(accountKey(), a, pebble.Sync)
}

func (s *PebbleStore) put(key []byte, v interface{}, opts *pebble.WriteOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.db.Set(key, data, opts); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// ============================================================
// Чтение
// ============================================================

// ListOrders возвращает все ордера
func (s *PebbleStore) ListOrders(ctx context.Context) ([]*models.Order, error) {
	var orders []*models.Order
	err := s.scan(ctx, []byte(prefixOrder), func(val []byte) error {
		var o models.Order
		if err := json.Unmarshal(val, &o); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}
		orders = append(orders, &o)
		return nil
	})
	return orders, err
}

// ListFills возвращает исполнения в хронологическом порядке
func (s *PebbleStore) ListFills(ctx context.Context) ([]*models.Fill, error) {
	var fills []*models.Fill
	err := s.scan(ctx, []byte(prefixFill), func(val []byte) error {
		var f models.Fill
		if err := json.Unmarshal(val, &f); err != nil {
			return fmt.Errorf("failed to unmarshal fill: %w", err)
		}
		fills = append(fills, &f)
		return nil
	})
	return fills, err
}

// ListPositions возвращает позиции по возрастанию символа
func (s *PebbleStore) ListPositions(ctx context.Context) ([]*models.Position, error) {
	var positions []*models.Position
	err := s.scan(ctx, []byte(prefixPosition), func(val []byte) error {
		var p models.Position
		if err := json.Unmarshal(val, &p); err != nil {
			return fmt.Errorf("failed to unmarshal position: %w", err)
		}
		positions = append(positions, &p)
		return nil
	})
	return positions, err
}

// GetAccount возвращает счёт или nil если он ещё не сохранялся
func (s *PebbleStore) GetAccount(_ context.Context) (*models.Account, error) {
	data, closer, err := s.db.Get(accountKey())
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	defer closer.Close()

	var acc models.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return &acc, nil
}

// scan обходит ключи с префиксом. Битая запись прерывает обход с ошибкой.
func (s *PebbleStore) scan(ctx context.Context, prefix []byte, fn func(val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// ============================================================
// Сброс
// ============================================================

// Reset удаляет всё состояние одним атомарным батчем
func (s *PebbleStore) Reset(_ context.Context) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, prefix := range []string{prefixOrder, prefixFill, prefixPosition} {
		p := []byte(prefix)
		if err := batch.DeleteRange(p, keyUpperBound(p), nil); err != nil {
			return fmt.Errorf("failed to reset %s: %w", prefix, err)
		}
	}
	if err := batch.Delete(accountKey(), nil); err != nil {
		return fmt.Errorf("failed to reset account: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}
	return nil
}
