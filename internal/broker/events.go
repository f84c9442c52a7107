package broker

import (
	"time"

	"papertrade/internal/models"
)

// EventType - тип доменного события брокера
type EventType string

// Типы событий
const (
	EventOrderPlaced    EventType = "order_placed"
	EventOrderFilled    EventType = "order_filled"
	EventOrderCancelled EventType = "order_cancelled"
	EventPartialFill    EventType = "partial_fill"
	EventPositionUpdate EventType = "position_update"
)

// DefaultEventBuffer - размер очереди событий по умолчанию
const DefaultEventBuffer = 1024

// Event - доменное событие
//
// Содержит копии, а не ссылки на внутреннее состояние брокера.
type Event struct {
	Type      EventType         `json:"type"`
	Order     *models.Order     `json:"order,omitempty"`
	Fill      *models.Fill      `json:"fill,omitempty"`
	Positions []models.Position `json:"positions,omitempty"`
	Account   *models.Account   `json:"account,omitempty"`
	Symbol    string            `json:"symbol,omitempty"`
	Price     float64           `json:"price,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// emit кладёт событие в очередь без блокировки.
// Если очередь полна, событие теряется и считается в метрике переполнений:
// торговый путь не ждёт медленного потребителя.
func (b *PaperBroker) emit(ev Event) bool {
	if b.events == nil {
		return false
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	select {
	case b.events <- ev:
		return true
	default:
		b.metrics.IncEventOverflow()
		return false
	}
}

// Events возвращает канал доменных событий для хоста
func (b *PaperBroker) Events() <-chan Event {
	return b.events
}
