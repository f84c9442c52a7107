package websocket

import (
	"time"

	"papertrade/internal/broker"
	"papertrade/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// Доменные события брокера, имена совпадают с типами событий
	MessageTypeOrderPlaced    MessageType = MessageType(broker.EventOrderPlaced)
	MessageTypeOrderFilled    MessageType = MessageType(broker.EventOrderFilled)
	MessageTypeOrderCancelled MessageType = MessageType(broker.EventOrderCancelled)
	MessageTypePartialFill    MessageType = MessageType(broker.EventPartialFill)
	MessageTypePositionUpdate MessageType = MessageType(broker.EventPositionUpdate)

	// MessageTypeSubscribed - подтверждение команды подписки
	MessageTypeSubscribed MessageType = "subscribed"

	// MessageTypeError - ошибка разбора команды клиента
	MessageTypeError MessageType = "error"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// OrderMessage - событие жизненного цикла ордера
//
// Для order_filled содержит исполнение, вызвавшее событие.
type OrderMessage struct {
	BaseMessage
	Order *models.Order `json:"order"`
	Fill  *models.Fill  `json:"fill,omitempty"`
}

// PositionUpdateMessage - снимок позиций и счёта после тика или сброса
type PositionUpdateMessage struct {
	BaseMessage
	Symbol    string            `json:"symbol,omitempty"`
	Price     float64           `json:"price,omitempty"`
	Positions []models.Position `json:"positions"`
	Account   *models.Account   `json:"account,omitempty"`
}

// SubscribedMessage - текущий фильтр символов клиента
type SubscribedMessage struct {
	BaseMessage
	Symbols []string `json:"symbols"`
}

// ErrorMessage - ответ на некорректную команду
type ErrorMessage struct {
	BaseMessage
	Error string `json:"error"`
}

// ============ Команды клиента ============

// Действия команд клиента
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Command - команда от клиента
//
//	{"action":"subscribe","symbols":["BTCUSDT"]}
//
// Пустой фильтр означает все символы.
type Command struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// ============ Фабричные функции для создания сообщений ============

// NewEventMessage преобразует событие брокера в сообщение для клиентов
func NewEventMessage(ev broker.Event) interface{} {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	base := BaseMessage{Type: MessageType(ev.Type), Timestamp: ts}

	if ev.Type == broker.EventPositionUpdate {
		positions := ev.Positions
		if positions == nil {
			positions = []models.Position{}
		}
		return &PositionUpdateMessage{
			BaseMessage: base,
			Symbol:      ev.Symbol,
			Price:       ev.Price,
			Positions:   positions,
			Account:     ev.Account,
		}
	}

	return &OrderMessage{
		BaseMessage: base,
		Order:       ev.Order,
		Fill:        ev.Fill,
	}
}

func newSubscribedMessage(symbols []string) *SubscribedMessage {
	return &SubscribedMessage{
		BaseMessage: BaseMessage{Type: MessageTypeSubscribed, Timestamp: time.Now()},
		Symbols:     symbols,
	}
}

func newErrorMessage(text string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{Type: MessageTypeError, Timestamp: time.Now()},
		Error:       text,
	}
}
