package handlers

import (
	"net/http"

	"papertrade/internal/config"
)

// ConfigHandler управляет торговыми параметрами на лету
//
// Endpoints:
// - GET /api/v1/config - текущие параметры
// - PATCH /api/v1/config - изменить параметры
// - DELETE /api/v1/config - вернуть параметры по умолчанию
//
// Изменения живут в памяти процесса и не переживают перезапуск.
type ConfigHandler struct {
	params ParamStore
}

// NewConfigHandler создает новый ConfigHandler
func NewConfigHandler(params ParamStore) *ConfigHandler {
	return &ConfigHandler{params: params}
}

// ConfigResponse - текущие и стандартные параметры
type ConfigResponse struct {
	Params   config.Params      `json:"params"`
	Defaults config.Params      `json:"defaults"`
	Accepted map[string]float64 `json:"accepted,omitempty"`
}

// GetConfig возвращает текущие параметры
// GET /api/v1/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, ConfigResponse{
		Params:   h.params.Get(),
		Defaults: h.params.Defaults(),
	})
}

// UpdateConfig применяет patch
//
// PATCH /api/v1/config
//
// Request:
//
//	{"takerBps": 20, "maxSlippageBps": 30}
//
// Неизвестные ключи и нечисловые или отрицательные значения молча
// отбрасываются; принятая часть возвращается в поле accepted.
func (h *ConfigHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch map[string]interface{}
	if err := decodeJSON(w, r, &patch); err != nil {
		RespondWithError(w, http.StatusBadRequest, CodeInvalidJSON, "Invalid request body", err.Error())
		return
	}

	accepted := h.params.Set(patch)

	RespondWithJSON(w, http.StatusOK, ConfigResponse{
		Params:   h.params.Get(),
		Defaults: h.params.Defaults(),
		Accepted: accepted,
	})
}

// ResetConfig убирает override
// DELETE /api/v1/config
func (h *ConfigHandler) ResetConfig(w http.ResponseWriter, r *http.Request) {
	h.params.Reset()
	RespondWithJSON(w, http.StatusOK, ConfigResponse{
		Params:   h.params.Get(),
		Defaults: h.params.Defaults(),
	})
}
