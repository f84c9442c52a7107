package handlers

import (
	"net/http"
	"time"
)

// HealthHandler - liveness проверка
type HealthHandler struct {
	started time.Time
	store   string
	clients func() int
}

// NewHealthHandler создает HealthHandler. clients может быть nil.
func NewHealthHandler(store string, clients func() int) *HealthHandler {
	return &HealthHandler{started: time.Now(), store: store, clients: clients}
}

// HealthResponse - ответ /health
type HealthResponse struct {
	Status    string `json:"status"`
	Store     string `json:"store,omitempty"`
	Uptime    string `json:"uptime"`
	WSClients int    `json:"ws_clients"`
}

// Health возвращает статус процесса
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Store:  h.store,
		Uptime: time.Since(h.started).Round(time.Second).String(),
	}
	if h.clients != nil {
		resp.WSClients = h.clients()
	}
	RespondWithJSON(w, http.StatusOK, resp)
}
