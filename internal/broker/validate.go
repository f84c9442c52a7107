package broker

import (
	"math"
	"strings"

	"papertrade/internal/models"
)

// normalizeSymbol приводит символ к виду BTCUSDT
func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func validNumber(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func positive(p *float64) bool {
	return p != nil && validNumber(*p) && *p > 0
}

// validate проверяет запрос и возвращает причину отклонения ("" если запрос валиден).
//
// Порядок проверок:
//  1. символ в allowlist
//  2. известные side, type, tif
//  3. quantity > 0
//  4. price для LIMIT/STOP_LIMIT, stopPrice для STOP_MARKET/STOP_LIMIT
//  5. notional / balance <= maxLeverage
//
// notional считается по лимитной цене, для STOP_MARKET по стоп-цене,
// для MARKET по последней известной цене (без цены проверка пропускается,
// ордер затем отменится с причиной no_price).
func (b *PaperBroker) validate(req models.OrderRequest, balance, last float64) string {
	if !b.risk.Allows(req.Symbol) {
		return models.ReasonSymbolNotAllowed
	}
	if !req.Side.Valid() {
		return models.ReasonInvalidSide
	}
	if !req.Type.Valid() {
		return models.ReasonUnknownType
	}
	if !req.TIF.Valid() {
		return models.ReasonInvalidTIF
	}
	if !validNumber(req.Quantity) || req.Quantity <= 0 {
		return models.ReasonInvalidQuantity
	}
	if req.Type.NeedsPrice() && !positive(req.Price) {
		return models.ReasonPriceRequired
	}
	if req.Type.NeedsStopPrice() && !positive(req.StopPrice) {
		return models.ReasonStopPriceRequired
	}

	var ref float64
	switch {
	case req.Type.NeedsPrice():
		ref = *req.Price
	case req.Type == models.OrderTypeStopMarket:
		ref = *req.StopPrice
	default:
		ref = last
	}

	notional := req.Quantity * ref
	if notional > 0 {
		if balance <= 0 || notional/balance > b.risk.MaxLeverage {
			return models.ReasonLeverageExceeded
		}
	}

	return ""
}
