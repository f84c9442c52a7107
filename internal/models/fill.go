package models

import "time"

// Fill - одно исполнение ордера
//
// Неизменяем после создания. Один ордер может породить несколько
// исполнений (частичные исполнения, проход по уровням книги).
type Fill struct {
	ID        string    `json:"id" db:"id"`
	OrderID   string    `json:"order_id" db:"order_id"`
	Symbol    string    `json:"symbol" db:"symbol"`
	Side      Side      `json:"side" db:"side"`
	Quantity  float64   `json:"quantity" db:"quantity"`
	Price     float64   `json:"price" db:"price"`
	Fee       float64   `json:"fee" db:"fee"`
	FeeBps    float64   `json:"fee_bps" db:"fee_bps"`
	Liquidity string    `json:"liquidity" db:"liquidity"` // maker, taker
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Notional возвращает стоимость исполнения (цена × объём)
func (f Fill) Notional() float64 {
	return f.Price * f.Quantity
}

// Тип ликвидности исполнения
const (
	LiquidityMaker = "maker"
	LiquidityTaker = "taker"
)
