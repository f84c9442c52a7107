package handlers

import (
	"net/http"

	"papertrade/internal/models"
)

// AccountHandler отдаёт снимки счёта, позиций и исполнений
//
// Endpoints:
// - GET /api/v1/fills
// - GET /api/v1/positions
// - GET /api/v1/account
// - GET /api/v1/risk
// - POST /api/v1/reset
type AccountHandler struct {
	broker Broker
}

// NewAccountHandler создает новый AccountHandler
func NewAccountHandler(broker Broker) *AccountHandler {
	return &AccountHandler{broker: broker}
}

// GetFills возвращает все исполнения
// GET /api/v1/fills
func (h *AccountHandler) GetFills(w http.ResponseWriter, r *http.Request) {
	fills := h.broker.GetFills()
	if fills == nil {
		fills = []models.Fill{}
	}
	RespondWithJSON(w, http.StatusOK, fills)
}

// GetPositions возвращает открытые позиции
// GET /api/v1/positions
func (h *AccountHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.broker.GetPositions()
	if positions == nil {
		positions = []models.Position{}
	}
	RespondWithJSON(w, http.StatusOK, positions)
}

// GetAccount возвращает счёт
// GET /api/v1/account
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, h.broker.GetAccount())
}

// GetRiskConfig возвращает риск-параметры
// GET /api/v1/risk
func (h *AccountHandler) GetRiskConfig(w http.ResponseWriter, r *http.Request) {
	risk := h.broker.GetRiskConfig()
	if risk.SymbolAllowlist == nil {
		risk.SymbolAllowlist = []string{}
	}
	RespondWithJSON(w, http.StatusOK, risk)
}

// Reset сбрасывает ордера, исполнения, позиции и счёт
//
// POST /api/v1/reset
//
// Response 200 OK - счёт после сброса
func (h *AccountHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.broker.Reset(r.Context())
	RespondWithJSON(w, http.StatusOK, h.broker.GetAccount())
}
