package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side - направление ордера
type Side string

// OrderType - тип ордера
type OrderType string

// TimeInForce - срок действия ордера
type TimeInForce string

// OrderStatus - статус ордера
type OrderStatus string

// Направления ордера
const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Типы ордеров
const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
)

// Сроки действия
const (
	TIFGTC TimeInForce = "GTC" // висит в книге до исполнения или отмены
	TIFIOC TimeInForce = "IOC" // исполнить сколько возможно, остаток отменить
)

// Статусы ордера
const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Причины отклонения и отмены ордеров
const (
	ReasonSymbolNotAllowed  = "symbol not allowed"
	ReasonInvalidQuantity   = "invalid quantity"
	ReasonInvalidSide       = "invalid side"
	ReasonInvalidTIF        = "invalid time in force"
	ReasonPriceRequired     = "price required"
	ReasonStopPriceRequired = "stop price required"
	ReasonLeverageExceeded  = "leverage exceeded"
	ReasonUnknownType       = "unknown order type"

	ReasonNoPrice         = "no_price"
	ReasonNoLiquidity     = "no_liquidity"
	ReasonIOCRemainder    = "ioc_remainder"
	ReasonUserCancelled   = "user_cancelled"
	ReasonProcessingError = "processing_error"
)

// Valid проверяет что направление известно
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite возвращает противоположное направление
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid проверяет что тип ордера известен
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopMarket, OrderTypeStopLimit:
		return true
	}
	return false
}

// NeedsPrice - требуется ли лимитная цена
func (t OrderType) NeedsPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// NeedsStopPrice - требуется ли стоп-цена
func (t OrderType) NeedsStopPrice() bool {
	return t == OrderTypeStopMarket || t == OrderTypeStopLimit
}

// Valid проверяет срок действия
func (tif TimeInForce) Valid() bool {
	return tif == TIFGTC || tif == TIFIOC
}

// OrderRequest - входные данные для размещения ордера
//
// Price и StopPrice опциональны: nil означает "не задано".
type OrderRequest struct {
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Type      OrderType   `json:"type"`
	Quantity  float64     `json:"quantity"`
	Price     *float64    `json:"price,omitempty"`
	StopPrice *float64    `json:"stop_price,omitempty"`
	TIF       TimeInForce `json:"tif,omitempty"`
}

// Order - ордер бумажной торговли
//
// Создаётся брокером при размещении, изменяется только брокером
// во время матчинга или обработки тиков. Никогда не удаляется,
// только переводится в терминальный статус.
//
// Quantity - текущий (остаточный) объём. У GTC ордера после частичного
// исполнения он уменьшается до остатка; исходный объём хранится в OrigQuantity.
type Order struct {
	ID             string      `json:"id" db:"id"`
	Symbol         string      `json:"symbol" db:"symbol"`
	Side           Side        `json:"side" db:"side"`
	Type           OrderType   `json:"type" db:"type"`
	Quantity       float64     `json:"quantity" db:"quantity"`
	OrigQuantity   float64     `json:"orig_quantity" db:"orig_quantity"`
	Price          float64     `json:"price,omitempty" db:"price"`           // 0 = не задана
	StopPrice      float64     `json:"stop_price,omitempty" db:"stop_price"` // 0 = не задана
	TIF            TimeInForce `json:"tif" db:"tif"`
	Status         OrderStatus `json:"status" db:"status"`
	Reason         string      `json:"reason,omitempty" db:"reason"`
	Triggered      bool        `json:"triggered,omitempty" db:"triggered"` // стоп сработал, STOP_LIMIT висит как лимитный
	FilledQuantity float64     `json:"filled_quantity" db:"filled_quantity"`
	AveragePrice   float64     `json:"average_price" db:"average_price"`
	Fee            float64     `json:"fee" db:"fee"`
	FeeBps         float64     `json:"fee_bps" db:"fee_bps"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
	CancelledAt    *time.Time  `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// Clone возвращает независимую копию ордера
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

// RecordFill учитывает исполнение части ордера: объём, средневзвешенную цену и комиссию.
//
// Объём суммируется в decimal: 0.005 + 0.004 должно дать ровно 0.009,
// иначе FilledQuantity полностью исполненного ордера превысит OrigQuantity.
func (o *Order) RecordFill(qty, price, fee float64) {
	if qty <= 0 {
		return
	}
	total := decimal.NewFromFloat(o.FilledQuantity).Add(decimal.NewFromFloat(qty)).InexactFloat64()
	if o.OrigQuantity > 0 && total > o.OrigQuantity {
		total = o.OrigQuantity
	}
	o.AveragePrice = (o.AveragePrice*o.FilledQuantity + price*qty) / total
	o.FilledQuantity = total
	o.Fee += fee
}
