package matching

import (
	"math"

	"github.com/shopspring/decimal"

	"papertrade/internal/models"
)

// engine.go - алгоритмы матчинга
//
// Все функции чистые: принимают стакан и параметры ордера,
// возвращают результат без побочных эффектов.
//
// Уровни потребляются строго в порядке стакана (он уже отсортирован
// от лучшей цены к худшей), вторичный tie-break не нужен.

// LevelFill - исполнение на одном уровне стакана
type LevelFill struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Result - результат матчинга
type Result struct {
	FilledQty float64     `json:"filled_qty"`
	AvgPrice  float64     `json:"avg_price"` // 0 если ничего не исполнено
	Remaining float64     `json:"remaining"` // остаток, который может стоять в книге
	Discarded float64     `json:"discarded"` // остаток IOC, отброшенный без постановки
	Fills     []LevelFill `json:"fills"`
}

// SlippageBps возвращает отклонение цены от эталонной в базисных пунктах
//
//	bps = |price - ref| / ref × 10000
func SlippageBps(price, ref float64) float64 {
	if ref <= 0 {
		return 0
	}
	return math.Abs(price-ref) / ref * 1e4
}

// MatchMarket исполняет рыночный ордер по стакану.
//
// Идёт по уровням от лучшего к худшему, забирая min(remaining, level.qty).
// Перед потреблением уровня считается его отклонение от первого уровня;
// если оно больше maxSlippageBps - проход останавливается, даже если
// ликвидность ещё есть. Это жёсткий лимит проскальзывания.
//
// Пустой стакан: ничего не исполнено, AvgPrice = 0, Remaining = qty.
func MatchMarket(qty float64, book Book, maxSlippageBps float64) Result {
	first, ok := book.Best()
	if !ok || qty <= 0 {
		return Result{Remaining: math.Max(qty, 0)}
	}

	return walk(qty, book, func(l Level) bool {
		return SlippageBps(l.Price, first.Price) <= maxSlippageBps
	})
}

// MatchLimit исполняет лимитный ордер по стакану.
//
// Уровень пересекается если:
//   - buy:  level.price <= limit
//   - sell: level.price >= limit
//
// Проход идёт пока уровни пересекаются, лимита проскальзывания нет:
// риск ограничен самой лимитной ценой. Для IOC неисполненный остаток
// переносится в Discarded, Remaining всегда 0.
func MatchLimit(limit, qty float64, side models.Side, book Book, tif models.TimeInForce) Result {
	if qty <= 0 {
		return Result{}
	}

	res := walk(qty, book, func(l Level) bool {
		return Crosses(side, l.Price, limit)
	})

	if tif == models.TIFIOC {
		res.Discarded = res.Remaining
		res.Remaining = 0
	}
	return res
}

// Crosses проверяет пересечение цены с лимитной ценой ордера
func Crosses(side models.Side, price, limit float64) bool {
	if side == models.SideBuy {
		return price <= limit
	}
	return price >= limit
}

// TriggerStop проверяет срабатывание стоп-ордера
//
//   - buy:  last >= stop
//   - sell: last <= stop
func TriggerStop(side models.Side, stopPrice, lastPrice float64) bool {
	if side == models.SideBuy {
		return lastPrice >= stopPrice
	}
	return lastPrice <= stopPrice
}

// walk потребляет уровни стакана пока accept разрешает.
// Объёмы считаются в decimal, чтобы остаток не накапливал ошибку float.
func walk(qty float64, book Book, accept func(Level) bool) Result {
	remaining := decimal.NewFromFloat(qty)
	filled := decimal.Zero
	var notional float64
	var fills []LevelFill

	for _, level := range book.Levels {
		if !remaining.IsPositive() {
			break
		}
		if level.Quantity <= 0 || level.Price <= 0 {
			continue
		}
		if !accept(level) {
			break
		}

		take := decimal.Min(remaining, decimal.NewFromFloat(level.Quantity))
		takeF := take.InexactFloat64()

		notional += level.Price * takeF
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
		fills = append(fills, LevelFill{Price: level.Price, Quantity: takeF})
	}

	res := Result{
		FilledQty: filled.InexactFloat64(),
		Remaining: remaining.InexactFloat64(),
		Fills:     fills,
	}
	if res.FilledQty > 0 {
		res.AvgPrice = notional / res.FilledQty
	}
	return res
}
