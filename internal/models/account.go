package models

import "time"

// StartingBalance - стартовый баланс бумажного счёта
const StartingBalance = 10000.0

// Account - счёт торговой сессии
//
// Инварианты (пересчитываются на каждом тике и каждом расчёте):
//
//	Equity   = Balance + UnrealizedPnL - FeesAccrued
//	TotalPnL = RealizedPnL + UnrealizedPnL
type Account struct {
	Balance       float64   `json:"balance" db:"balance"`
	Equity        float64   `json:"equity" db:"equity"`
	RealizedPnL   float64   `json:"realized_pnl" db:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl" db:"unrealized_pnl"`
	TotalPnL      float64   `json:"total_pnl" db:"total_pnl"`
	DailyPnL      float64   `json:"daily_pnl" db:"daily_pnl"`
	TotalFees     float64   `json:"total_fees" db:"total_fees"`
	FeesAccrued   float64   `json:"fees_accrued" db:"fees_accrued"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// NewAccount возвращает счёт в начальном состоянии
func NewAccount(balance float64, now time.Time) Account {
	return Account{
		Balance:   balance,
		Equity:    balance,
		UpdatedAt: now,
	}
}

// Recompute пересчитывает производные поля счёта
func (a *Account) Recompute(unrealized float64, now time.Time) {
	a.UnrealizedPnL = unrealized
	a.Equity = a.Balance + unrealized - a.FeesAccrued
	a.TotalPnL = a.RealizedPnL + unrealized
	a.UpdatedAt = now
}

// RiskConfig - риск-параметры брокера
//
// Задаются при создании брокера и дальше только читаются.
// MaxPositionSize и MaxDailyLoss отдаются наружу для UI, брокер их не применяет.
type RiskConfig struct {
	MaxPositionSize float64  `json:"max_position_size"`
	MaxDailyLoss    float64  `json:"max_daily_loss"`
	MaxLeverage     float64  `json:"max_leverage"`
	SymbolAllowlist []string `json:"symbol_allowlist"`
	MakerFeeBps     float64  `json:"maker_fee_bps"`
	TakerFeeBps     float64  `json:"taker_fee_bps"`
}

// DefaultRiskConfig возвращает риск-параметры по умолчанию
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositionSize: 1000,
		MaxDailyLoss:    500,
		MaxLeverage:     10,
		SymbolAllowlist: []string{"BTCUSDT", "ETHUSDT", "ADAUSDT"},
		MakerFeeBps:     10,
		TakerFeeBps:     15,
	}
}

// Clone возвращает копию с независимым allowlist
func (r RiskConfig) Clone() RiskConfig {
	c := r
	c.SymbolAllowlist = append([]string(nil), r.SymbolAllowlist...)
	return c
}

// Allows проверяет что символ разрешён
func (r RiskConfig) Allows(symbol string) bool {
	for _, s := range r.SymbolAllowlist {
		if s == symbol {
			return true
		}
	}
	return false
}
