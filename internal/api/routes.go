package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"papertrade/internal/api/handlers"
	"papertrade/internal/api/middleware"
	"papertrade/internal/websocket"
	"papertrade/pkg/crypto"
	"papertrade/pkg/ratelimit"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Broker handlers.Broker
	Params handlers.ParamStore

	Hub    *websocket.Hub // nil - без /ws/stream
	Logger *zap.Logger

	KeyVerifier    *crypto.KeyVerifier     // nil или выключенный - без аутентификации
	OrderLimiter   *ratelimit.KeyedLimiter // nil - без ограничения
	AllowedOrigins []string
	StoreDriver    string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /orders
//	│   ├── POST / - разместить ордер (rate limit)
//	│   ├── GET / - список ордеров
//	│   ├── GET /{id} - ордер по id
//	│   └── DELETE /{id} - отменить ордер
//	├── POST /ticks - подать тик цены
//	├── GET /prices/{symbol} - последняя цена
//	├── GET /fills, /positions, /account, /risk
//	├── POST /reset - сбросить сессию
//	└── GET|PATCH|DELETE /config - торговые параметры
//
// /ws/stream - WebSocket поток событий (API ключ через ?api_key=)
// /metrics - Prometheus
// /health - liveness, без аутентификации
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. APIKeyAuth (/api/v1 и /ws)
// 5. RateLimit (только POST /api/v1/orders)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()
	router.MethodNotAllowedHandler = http.HandlerFunc(handlers.MethodNotAllowed)

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Глобальные middleware
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	orderHandler := handlers.NewOrderHandler(deps.Broker)
	marketHandler := handlers.NewMarketHandler(deps.Broker)
	accountHandler := handlers.NewAccountHandler(deps.Broker)
	configHandler := handlers.NewConfigHandler(deps.Params)

	var clients func() int
	if deps.Hub != nil {
		clients = deps.Hub.ClientCount
	}
	healthHandler := handlers.NewHealthHandler(deps.StoreDriver, clients)

	auth := middleware.APIKeyAuth(deps.KeyVerifier)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(handlers.MethodNotAllowed)
	api.Use(auth)

	// Order routes
	api.Handle("/orders", middleware.RateLimit(deps.OrderLimiter)(http.HandlerFunc(orderHandler.PlaceOrder))).Methods("POST", "OPTIONS")
	api.HandleFunc("/orders", orderHandler.GetOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", orderHandler.GetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}", orderHandler.CancelOrder).Methods("DELETE", "OPTIONS")

	// Market routes
	api.HandleFunc("/ticks", marketHandler.ProcessTick).Methods("POST", "OPTIONS")
	api.HandleFunc("/prices/{symbol}", marketHandler.GetPrice).Methods("GET")

	// Account routes
	api.HandleFunc("/fills", accountHandler.GetFills).Methods("GET")
	api.HandleFunc("/positions", accountHandler.GetPositions).Methods("GET")
	api.HandleFunc("/account", accountHandler.GetAccount).Methods("GET")
	api.HandleFunc("/risk", accountHandler.GetRiskConfig).Methods("GET")
	api.HandleFunc("/reset", accountHandler.Reset).Methods("POST", "OPTIONS")

	// Config routes
	api.HandleFunc("/config", configHandler.GetConfig).Methods("GET")
	api.HandleFunc("/config", configHandler.UpdateConfig).Methods("PATCH", "OPTIONS")
	api.HandleFunc("/config", configHandler.ResetConfig).Methods("DELETE")

	// WebSocket route
	if deps.Hub != nil {
		router.Handle("/ws/stream", auth(http.HandlerFunc(deps.Hub.ServeWS))).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/health", healthHandler.Health).Methods("GET")

	return router
}
