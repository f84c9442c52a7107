package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"papertrade/internal/models"
)

// OrderHandler обрабатывает HTTP запросы для ордеров
//
// Endpoints:
// - POST /api/v1/orders - разместить ордер
// - GET /api/v1/orders?status=pending&symbol=BTCUSDT - список ордеров
// - GET /api/v1/orders/{id} - ордер по id
// - DELETE /api/v1/orders/{id} - отменить висящий ордер
type OrderHandler struct {
	broker Broker
}

// NewOrderHandler создает новый OrderHandler
func NewOrderHandler(broker Broker) *OrderHandler {
	return &OrderHandler{broker: broker}
}

// PlaceOrder размещает ордер
//
// POST /api/v1/orders
//
// Request:
//
//	{"symbol":"BTCUSDT","side":"buy","type":"LIMIT","quantity":0.01,"price":49000,"tif":"GTC"}
//
// Response 201 Created - ордер принят (filled, pending или cancelled по ликвидности)
// Response 422 Unprocessable Entity - ордер отклонён валидацией, тело содержит ордер с reason
// Response 400 Bad Request - некорректный JSON
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, CodeInvalidJSON, "Invalid request body", err.Error())
		return
	}

	order := h.broker.PlaceOrder(r.Context(), req)
	if order.Status == models.OrderStatusRejected {
		RespondWithJSON(w, http.StatusUnprocessableEntity, order)
		return
	}

	RespondWithJSON(w, http.StatusCreated, order)
}

// GetOrders возвращает ордера в порядке создания
//
// GET /api/v1/orders
//
// Query Parameters:
// - status (optional): pending, filled, partially_filled, cancelled, rejected
// - symbol (optional): BTCUSDT
func (h *OrderHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))

	if status != "" && !models.IsValidStatus(models.OrderStatus(status)) {
		RespondWithError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid status filter", status)
		return
	}

	orders := h.broker.GetOrders()
	result := make([]*models.Order, 0, len(orders))
	for _, o := range orders {
		if status != "" && string(o.Status) != status {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		result = append(result, o)
	}

	RespondWithJSON(w, http.StatusOK, result)
}

// GetOrder возвращает ордер по id
// GET /api/v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	order, ok := h.broker.GetOrder(id)
	if !ok {
		RespondWithError(w, http.StatusNotFound, CodeNotFound, "Order not found", id)
		return
	}

	RespondWithJSON(w, http.StatusOK, order)
}

// CancelOrder отменяет висящий ордер
//
// DELETE /api/v1/orders/{id}
//
// Response 200 OK - ордер отменён, тело содержит ордер
// Response 404 Not Found - ордер не найден
// Response 409 Conflict - ордер уже не в статусе pending
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !h.broker.CancelOrder(r.Context(), id) {
		order, ok := h.broker.GetOrder(id)
		if !ok {
			RespondWithError(w, http.StatusNotFound, CodeNotFound, "Order not found", id)
			return
		}
		RespondWithError(w, http.StatusConflict, CodeNotCancellable, "Order is not pending", string(order.Status))
		return
	}

	order, _ := h.broker.GetOrder(id)
	RespondWithJSON(w, http.StatusOK, order)
}
