package broker

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики бумажного брокера
// ============================================================
//
// Брокеру нужны только fire-and-forget вызовы: он зависит от интерфейса
// Metrics, а PrometheusMetrics пишет в глобальные коллекторы ниже.
// Экспорт через promhttp на /metrics.

// ============ Счётчики ============

// OrderRejects - отклонённые и отменённые движком ордера по причинам
var OrderRejects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "broker",
		Name:      "rejects_total",
		Help:      "Number of rejected or engine-cancelled orders by reason",
	},
	[]string{"reason"}, // symbol_not_allowed, leverage_exceeded, no_price, no_liquidity, processing_error
)

// FeesCharged - начисленные комиссии
var FeesCharged = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "broker",
		Name:      "fees_total",
		Help:      "Total fees charged in quote currency",
	},
	[]string{"type"}, // maker, taker
)

// StoreErrors - ошибки записи в хранилище
var StoreErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "broker",
		Name:      "store_errors_total",
		Help:      "Number of failed store writes",
	},
	[]string{"op"},
)

// EventOverflows - события, потерянные из-за переполнения очереди
var EventOverflows = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "broker",
		Name:      "event_overflows_total",
		Help:      "Number of domain events dropped because the queue was full",
	},
)

// ============ Распределения ============

// SlippageObserved - проскальзывание исполнения относительно лучшего уровня
var SlippageObserved = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "papertrade",
		Subsystem: "broker",
		Name:      "slippage_bps",
		Help:      "Execution slippage against the best book level in basis points",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 30, 50, 100},
	},
	[]string{"symbol"},
)

// ============ Состояние ============

// ActiveOrders - количество открытых ордеров
var ActiveOrders = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "papertrade",
		Subsystem: "broker",
		Name:      "active_orders",
		Help:      "Current number of pending orders",
	},
)

// PositionValue - стоимость позиции по последней цене
var PositionValue = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "papertrade",
		Subsystem: "broker",
		Name:      "position_value",
		Help:      "Open position value at the last price",
	},
	[]string{"symbol"},
)

// ============================================================
// Интерфейс и реализации
// ============================================================

// Metrics - приёмник метрик брокера
type Metrics interface {
	IncReject(reason string)
	AddFee(kind string, amount float64)
	ObserveSlippage(symbol string, bps float64)
	SetActiveOrders(n int)
	SetPositionValue(symbol string, value float64)
	IncStoreError(op string)
	IncEventOverflow()
}

// PrometheusMetrics пишет в глобальные коллекторы пакета
type PrometheusMetrics struct{}

// NewPrometheusMetrics создаёт приёмник метрик Prometheus
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

// IncReject записывает отклонение с причиной
func (PrometheusMetrics) IncReject(reason string) {
	OrderRejects.WithLabelValues(reasonLabel(reason)).Inc()
}

// AddFee записывает комиссию
func (PrometheusMetrics) AddFee(kind string, amount float64) {
	if amount > 0 {
		FeesCharged.WithLabelValues(kind).Add(amount)
	}
}

// ObserveSlippage записывает проскальзывание
func (PrometheusMetrics) ObserveSlippage(symbol string, bps float64) {
	SlippageObserved.WithLabelValues(symbol).Observe(bps)
}

// SetActiveOrders обновляет количество открытых ордеров
func (PrometheusMetrics) SetActiveOrders(n int) {
	ActiveOrders.Set(float64(n))
}

// SetPositionValue обновляет стоимость позиции, 0 удаляет серию
func (PrometheusMetrics) SetPositionValue(symbol string, value float64) {
	if value == 0 {
		PositionValue.DeleteLabelValues(symbol)
		return
	}
	PositionValue.WithLabelValues(symbol).Set(value)
}

// IncStoreError записывает ошибку хранилища
func (PrometheusMetrics) IncStoreError(op string) {
	StoreErrors.WithLabelValues(op).Inc()
}

// IncEventOverflow записывает потерянное событие
func (PrometheusMetrics) IncEventOverflow() {
	EventOverflows.Inc()
}

// reasonLabel приводит причину к виду метки: "symbol not allowed" -> "symbol_not_allowed"
func reasonLabel(reason string) string {
	return strings.ReplaceAll(strings.TrimSpace(reason), " ", "_")
}

// nopMetrics - метрики по умолчанию
type nopMetrics struct{}

func (nopMetrics) IncReject(string) {}
func (nopMetrics) AddFee(string, float64) {}
func (nopMetrics) ObserveSlippage(string, float64) {}
func (nopMetrics) SetActiveOrders(int) {}
func (nopMetrics) SetPositionValue(string, float64) {}
func (nopMetrics) IncStoreError(string) {}
func (nopMetrics) IncEventOverflow() {}
