package broker

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"papertrade/internal/config"
	"papertrade/internal/matching"
	"papertrade/pkg/utils"
)

// TickProcessor - потребитель тиков цены
type TickProcessor interface {
	ProcessTick(ctx context.Context, symbol string, price float64)
}

// MockFeed - фид цен на случайном блуждании
//
// Пока реального фида нет, каждые stopWatcherMs цена каждого символа
// сдвигается на случайную величину в пределах ±step/2 и ограничивается
// диапазоном [min, max]. Интервал перечитывается из текущих параметров
// на каждой итерации, так что изменение stopWatcherMs применяется на лету.
type MockFeed struct {
	processor TickProcessor
	params    matching.ParamsSource
	logger    *zap.Logger

	mu     sync.Mutex
	prices map[string]float64
	rng    *rand.Rand
	min    float64
	max    float64
	step   float64
}

// NewMockFeed создаёт mock-фид со стартовыми ценами из конфигурации
func NewMockFeed(processor TickProcessor, params matching.ParamsSource, cfg config.FeedConfig, seed int64, logger *zap.Logger) *MockFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	prices := make(map[string]float64, len(cfg.Seeds))
	for symbol, price := range cfg.Seeds {
		prices[normalizeSymbol(symbol)] = utils.Clamp(price, cfg.MinPrice, cfg.MaxPrice)
	}
	return &MockFeed{
		processor: processor,
		params:    params,
		logger:    logger,
		prices:    prices,
		rng:       rand.New(rand.NewSource(seed)),
		min:       cfg.MinPrice,
		max:       cfg.MaxPrice,
		step:      cfg.Step,
	}
}

// Prices возвращает копию текущих цен фида
func (f *MockFeed) Prices() map[string]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]float64, len(f.prices))
	for k, v := range f.prices {
		out[k] = v
	}
	return out
}

// Step делает один шаг случайного блуждания и возвращает новые цены
func (f *MockFeed) Step() map[string]float64 {
	p := f.params.Get()

	f.mu.Lock()
	defer f.mu.Unlock()

	for symbol, price := range f.prices {
		delta := (f.rng.Float64() - 0.5) * f.step
		f.prices[symbol] = utils.Clamp(p.RoundTick(price+delta), f.min, f.max)
	}

	out := make(map[string]float64, len(f.prices))
	for k, v := range f.prices {
		out[k] = v
	}
	return out
}

// Publish отправляет цены в процессор в стабильном порядке символов
func (f *MockFeed) Publish(ctx context.Context, prices map[string]float64) {
	symbols := make([]string, 0, len(prices))
	for s := range prices {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		f.processor.ProcessTick(ctx, s, prices[s])
	}
}

// Run публикует стартовые цены и затем шаги блуждания до отмены ctx
func (f *MockFeed) Run(ctx context.Context) error {
	f.Publish(ctx, f.Prices())
	f.logger.Info("mock price feed started", zap.Int("symbols", len(f.prices)))

	timer := time.NewTimer(f.params.Get().StopWatcherInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("mock price feed stopped")
			return ctx.Err()
		case <-timer.C:
			f.Publish(ctx, f.Step())
			timer.Reset(f.params.Get().StopWatcherInterval())
		}
	}
}
