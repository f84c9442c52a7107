package models

import "time"

// Направления позиции
const (
	PositionLong  = "long"
	PositionShort = "short"
)

// Position - чистая позиция по символу
//
// Одна позиция на символ. Позиция с нулевым объёмом в коллекции
// не хранится: при закрытии она удаляется.
type Position struct {
	Symbol        string    `json:"symbol" db:"symbol"`
	Side          string    `json:"side" db:"side"` // long, short
	Quantity      float64   `json:"quantity" db:"quantity"`
	AveragePrice  float64   `json:"average_price" db:"average_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl" db:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl" db:"realized_pnl"`
	TotalFees     float64   `json:"total_fees" db:"total_fees"`
	LastUpdate    time.Time `json:"last_update" db:"last_update"`
}

// SignedQuantity возвращает объём со знаком: long > 0, short < 0
func (p Position) SignedQuantity() float64 {
	if p.Side == PositionShort {
		return -p.Quantity
	}
	return p.Quantity
}

// MarkToMarket рассчитывает нереализованный PNL по текущей цене
//
// Long: (mark - avg) × qty
// Short: (avg - mark) × qty
func (p Position) MarkToMarket(mark float64) float64 {
	if p.Side == PositionShort {
		return (p.AveragePrice - mark) * p.Quantity
	}
	return (mark - p.AveragePrice) * p.Quantity
}

// SideForSigned возвращает направление позиции для объёма со знаком
func SideForSigned(qty float64) string {
	if qty < 0 {
		return PositionShort
	}
	return PositionLong
}
