package matching

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"papertrade/internal/config"
	"papertrade/internal/models"
)

// book.go - синтетический стакан
//
// Назначение:
// Без реального L2 стакана движку нужна хоть какая-то модель ликвидности.
// SyntheticBook строит 5 уровней противоположной стороны вокруг последней цены.
//
// Для buy ордера строятся asks (по возрастанию цены, лучший первый),
// для sell - bids (по убыванию цены, лучший первый).

// SyntheticLevels - количество уровней синтетического стакана
const SyntheticLevels = 5

// Ошибки построения стакана
var (
	ErrNoPrice     = errors.New("no reference price")
	ErrUnknownSide = errors.New("unknown order side")
)

// Level - один уровень стакана
type Level struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Book - одна сторона стакана, отсортированная от лучшей цены к худшей
type Book struct {
	Levels []Level `json:"levels"`
}

// Best возвращает лучший уровень
func (b Book) Best() (Level, bool) {
	if len(b.Levels) == 0 {
		return Level{}, false
	}
	return b.Levels[0], true
}

// Depth возвращает суммарный объём стакана
func (b Book) Depth() float64 {
	total := decimal.Zero
	for _, l := range b.Levels {
		total = total.Add(decimal.NewFromFloat(l.Quantity))
	}
	return total.InexactFloat64()
}

// BookBuilder строит противоположную сторону стакана для ордера
//
// Реальный адаптер биржи может подменить синтетический стакан,
// не затрагивая алгоритмы матчинга.
type BookBuilder interface {
	BuildOpposite(last float64, side models.Side) (Book, error)
}

// ParamsSource отдаёт текущие торговые параметры
type ParamsSource interface {
	Get() config.Params
}

// SyntheticBook - BookBuilder на основе торговых параметров
type SyntheticBook struct {
	params ParamsSource
}

// NewSyntheticBook создаёт построитель синтетического стакана
func NewSyntheticBook(params ParamsSource) *SyntheticBook {
	return &SyntheticBook{params: params}
}

// BuildOpposite строит стакан по текущим параметрам
func (s *SyntheticBook) BuildOpposite(last float64, side models.Side) (Book, error) {
	return BuildSynthetic(last, side, s.params.Get())
}

// BuildSynthetic строит синтетический стакан противоположной стороны.
//
// Детерминирована: одинаковые (last, side, params) дают одинаковый стакан.
//
// Формулы:
//
//	step  = max(tickSize, last × maxSlippageBps / 10000 / 5)
//	price = roundTick(last ± step × i)     (+ для buy, - для sell)
//	qty   = lotSize × (i + 1) × 5
//
// Уровни с неположительной ценой отбрасываются.
//
// Пример (last = 50000, maxSlippageBps = 50, tick = 0.01, lot = 0.001):
//
//	step = 50
//	buy:  50000×0.005, 50050×0.01, 50100×0.015, 50150×0.02, 50200×0.025
func BuildSynthetic(last float64, side models.Side, p config.Params) (Book, error) {
	if last <= 0 || math.IsNaN(last) || math.IsInf(last, 0) {
		return Book{}, ErrNoPrice
	}
	if !side.Valid() {
		return Book{}, ErrUnknownSide
	}

	step := math.Max(p.TickSize, last*(p.MaxSlippageBps/1e4)/SyntheticLevels)
	lot := decimal.NewFromFloat(p.LotSize)

	levels := make([]Level, 0, SyntheticLevels)
	for i := 0; i < SyntheticLevels; i++ {
		var price float64
		if side == models.SideBuy {
			price = p.RoundTick(last + step*float64(i))
		} else {
			price = p.RoundTick(last - step*float64(i))
		}
		if price <= 0 {
			continue
		}
		qty := lot.Mul(decimal.NewFromInt(int64((i + 1) * 5))).InexactFloat64()
		levels = append(levels, Level{Price: price, Quantity: qty})
	}

	return Book{Levels: levels}, nil
}
