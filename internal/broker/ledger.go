package broker

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/models"
	"papertrade/pkg/utils"
)

// ============================================================
// Ledger - позиции и счёт торговой сессии
// ============================================================
//
// Не потокобезопасен: владелец (PaperBroker) вызывает методы под своим мьютексом.
// Каждая сессия владеет своим Ledger, глобального состояния нет.

// Ledger хранит чистые позиции по символам и единственный счёт сессии
type Ledger struct {
	positions map[string]*models.Position
	account   models.Account
	dayStart  time.Time
	balance   float64 // стартовый баланс для Reset
}

// PositionChange - результат применения исполнения к позиции
type PositionChange struct {
	Position models.Position
	Closed   bool    // позиция обнулилась и удалена
	Realized float64 // реализованный PNL при закрытии
}

// NewLedger создаёт ledger со стартовым балансом
func NewLedger(balance float64, now time.Time) *Ledger {
	return &Ledger{
		positions: make(map[string]*models.Position),
		account:   models.NewAccount(balance, now),
		dayStart:  utils.GetDayStartFrom(now),
		balance:   balance,
	}
}

// UpdatePosition применяет исполнение к позиции по символу.
//
// Объём учитывается со знаком (buy +, sell -). Средняя цена смешивается:
//
//	newAvg = (oldQty×oldAvg + qty×price) / (oldQty + qty)
//
// включая случай, когда исполнение противоположно позиции: переворот
// через ноль отдельно не обрабатывается. Направление позиции следует
// знаку итогового объёма.
//
// Если итоговый объём ровно 0 (сравнение в decimal), позиция удаляется,
// а (price - avg) × qty для лонга или (avg - price) × qty для шорта
// идёт в realizedPnL и dailyPnL счёта.
func (l *Ledger) UpdatePosition(symbol string, side models.Side, qty, price float64, now time.Time) PositionChange {
	l.rollDay(now)

	signed := qty
	if side == models.SideSell {
		signed = -qty
	}

	pos, ok := l.positions[symbol]
	if !ok {
		pos = &models.Position{
			Symbol: symbol,
			Side:   models.SideForSigned(signed),
		}
		l.positions[symbol] = pos
	}

	oldQty := decimal.NewFromFloat(pos.SignedQuantity())
	total := oldQty.Add(decimal.NewFromFloat(signed))

	if total.IsZero() {
		realized := pos.MarkToMarket(price)
		delete(l.positions, symbol)

		l.account.RealizedPnL += realized
		l.account.DailyPnL += realized

		closed := *pos
		closed.RealizedPnL += realized
		closed.UnrealizedPnL = 0
		closed.Quantity = 0
		closed.LastUpdate = now
		return PositionChange{Position: closed, Closed: true, Realized: realized}
	}

	totalF := total.InexactFloat64()
	oldValue := oldQty.InexactFloat64() * pos.AveragePrice
	newValue := signed * price

	pos.AveragePrice = (oldValue + newValue) / totalF
	pos.Quantity = math.Abs(totalF)
	pos.Side = models.SideForSigned(totalF)
	pos.LastUpdate = now

	return PositionChange{Position: *pos}
}

// ApplyFee учитывает комиссию: totalFees и feesAccrued растут, баланс не меняется
func (l *Ledger) ApplyFee(symbol string, fee float64) {
	l.account.TotalFees += fee
	l.account.FeesAccrued += fee
	if pos, ok := l.positions[symbol]; ok {
		pos.TotalFees += fee
	}
}

// MarkToMarket пересчитывает нереализованный PNL позиций по последним ценам
// и производные поля счёта. Позиции без известной цены сохраняют прежний PNL.
func (l *Ledger) MarkToMarket(prices map[string]float64, now time.Time) {
	l.rollDay(now)

	var unrealized float64
	for symbol, pos := range l.positions {
		if mark, ok := prices[symbol]; ok && mark > 0 {
			pos.UnrealizedPnL = pos.MarkToMarket(mark)
		}
		unrealized += pos.UnrealizedPnL
	}
	l.account.Recompute(unrealized, now)
}

// PositionValue возвращает стоимость позиции по цене mark
func (l *Ledger) PositionValue(symbol string, mark float64) float64 {
	pos, ok := l.positions[symbol]
	if !ok {
		return 0
	}
	return pos.Quantity * mark
}

// Position возвращает копию позиции
func (l *Ledger) Position(symbol string) (models.Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// Positions возвращает копии позиций, отсортированные по символу
func (l *Ledger) Positions() []models.Position {
	out := make([]models.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Account возвращает копию счёта
func (l *Ledger) Account() models.Account {
	return l.account
}

// Reset возвращает ledger в начальное состояние
func (l *Ledger) Reset(now time.Time) {
	l.positions = make(map[string]*models.Position)
	l.account = models.NewAccount(l.balance, now)
	l.dayStart = utils.GetDayStartFrom(now)
}

// Restore загружает сохранённое состояние
func (l *Ledger) Restore(positions []models.Position, account *models.Account, now time.Time) {
	l.positions = make(map[string]*models.Position, len(positions))
	for i := range positions {
		p := positions[i]
		if p.Quantity == 0 {
			continue
		}
		l.positions[p.Symbol] = &p
	}
	l.dayStart = utils.GetDayStartFrom(now)
	if account != nil {
		l.account = *account
		// dailyPnL прошлых суток не переносится
		if !account.UpdatedAt.IsZero() {
			l.dayStart = utils.GetDayStartFrom(account.UpdatedAt)
		}
	}
	l.rollDay(now)
}

// rollDay обнуляет dailyPnL при переходе через границу суток UTC
func (l *Ledger) rollDay(now time.Time) {
	day := utils.GetDayStartFrom(now)
	if day.After(l.dayStart) {
		l.dayStart = day
		l.account.DailyPnL = 0
	}
}
