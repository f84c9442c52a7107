package handlers

import (
	"math"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"papertrade/internal/models"
)

// MarketHandler принимает тики и отдаёт последние цены
//
// Endpoints:
// - POST /api/v1/ticks - подать тик цены
// - GET /api/v1/prices/{symbol} - последняя цена символа
type MarketHandler struct {
	broker Broker
}

// NewMarketHandler создает новый MarketHandler
func NewMarketHandler(broker Broker) *MarketHandler {
	return &MarketHandler{broker: broker}
}

// TickRequest - тело POST /api/v1/ticks
type TickRequest struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// TickResponse - состояние после обработки тика
type TickResponse struct {
	Symbol    string            `json:"symbol"`
	Price     float64           `json:"price"`
	Positions []models.Position `json:"positions"`
	Account   models.Account    `json:"account"`
}

// PriceResponse - последняя цена символа
type PriceResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// ProcessTick подаёт тик в брокер
//
// POST /api/v1/ticks
//
// Request:
//
//	{"symbol":"BTCUSDT","price":50100}
//
// Response 200 OK - позиции и счёт после переоценки
// Response 400 Bad Request - пустой символ или цена <= 0
func (h *MarketHandler) ProcessTick(w http.ResponseWriter, r *http.Request) {
	var req TickRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, CodeInvalidJSON, "Invalid request body", err.Error())
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		RespondWithError(w, http.StatusBadRequest, CodeInvalidRequest, "Symbol is required", "")
		return
	}
	if req.Price <= 0 || math.IsNaN(req.Price) || math.IsInf(req.Price, 0) {
		RespondWithError(w, http.StatusBadRequest, CodeInvalidRequest, "Price must be positive", "")
		return
	}

	h.broker.ProcessTick(r.Context(), symbol, req.Price)

	positions := h.broker.GetPositions()
	if positions == nil {
		positions = []models.Position{}
	}
	RespondWithJSON(w, http.StatusOK, TickResponse{
		Symbol:    symbol,
		Price:     req.Price,
		Positions: positions,
		Account:   h.broker.GetAccount(),
	})
}

// GetPrice возвращает последнюю цену символа
// GET /api/v1/prices/{symbol}
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	price, ok := h.broker.GetCurrentPrice(symbol)
	if !ok {
		RespondWithError(w, http.StatusNotFound, CodeNotFound, "No price for symbol", symbol)
		return
	}

	RespondWithJSON(w, http.StatusOK, PriceResponse{Symbol: symbol, Price: price})
}
