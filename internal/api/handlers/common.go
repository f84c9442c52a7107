package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"papertrade/internal/config"
	"papertrade/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes - ограничение размера тела запроса
const maxBodyBytes = 1 << 20

// Коды ошибок API
const (
	CodeInvalidJSON    = "invalid_json"
	CodeInvalidRequest = "invalid_request"
	CodeOrderRejected  = "order_rejected"
	CodeNotFound       = "not_found"
	CodeNotCancellable = "not_cancellable"
	CodeUnauthorized   = "unauthorized"
	CodeRateLimited    = "rate_limited"
	CodeMethod         = "method_not_allowed"
	CodeInternal       = "internal_error"
)

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Broker - операции бумажного брокера, доступные через HTTP
type Broker interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) *models.Order
	CancelOrder(ctx context.Context, id string) bool
	ProcessTick(ctx context.Context, symbol string, price float64)
	GetOrders() []*models.Order
	GetOrder(id string) (*models.Order, bool)
	GetFills() []models.Fill
	GetPositions() []models.Position
	GetAccount() models.Account
	GetCurrentPrice(symbol string) (float64, bool)
	GetRiskConfig() models.RiskConfig
	Reset(ctx context.Context)
}

// ParamStore - торговые параметры с override на лету
type ParamStore interface {
	Get() config.Params
	Defaults() config.Params
	Set(patch map[string]interface{}) map[string]float64
	Reset()
}

// RespondWithJSON отправляет JSON ответ
func RespondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal response","code":"internal_error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

// RespondWithError отправляет JSON ответ с ошибкой
func RespondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	RespondWithJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// MethodNotAllowed отвечает 405 на известный путь с чужим методом
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, http.StatusMethodNotAllowed, CodeMethod, "Method not allowed", r.Method)
}

// decodeJSON читает тело запроса в v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return err
	}
	return nil
}
