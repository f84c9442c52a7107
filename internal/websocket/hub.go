package websocket

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"papertrade/internal/broker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ Метрики ============

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "papertrade",
		Subsystem: "ws",
		Name:      "connected_clients",
		Help:      "Number of connected WebSocket clients",
	})

	droppedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "ws",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped because a queue was full",
	}, []string{"reason"}) // hub_full, slow_client
)

// ============ sync.Pool для JSON буферов ============

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// broadcastBufferSize - очередь сообщений hub
const broadcastBufferSize = 256

// outbound - сериализованное сообщение с символом для фильтра подписок
type outbound struct {
	symbol string
	data   []byte
}

// Hub управляет всеми активными WebSocket соединениями
//
// Рассылает события брокера подключенным клиентам. Клиент может сузить
// поток командой подписки на символы; сообщения без символа (сброс
// счёта) получают все.
//
// Использование:
//  1. hub := NewHub(logger, allowedOrigins)
//  2. go hub.Run()
//  3. go hub.Pump(ctx, broker.Events())
//  4. router.HandleFunc("/ws/stream", hub.ServeWS)
type Hub struct {
	clients map[*Client]bool

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	dropped atomic.Int64

	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHub создает новый Hub. allowedOrigins пустой или ["*"] разрешает все.
func NewHub(logger *zap.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	checker := NewOriginChecker(allowedOrigins)

	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return checker.Check(r.Header.Get("Origin"))
			},
			EnableCompression: true,
		},
	}
}

// Run запускает главный цикл Hub до вызова Stop
//
// Список клиентов копируется под коротким RLock, отправка идёт без
// блокировки, медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			connectedClients.Set(float64(total))
			h.logger.Info("websocket client connected", zap.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			total := len(h.clients)
			h.mu.Unlock()
			connectedClients.Set(float64(total))
			h.logger.Info("websocket client disconnected", zap.Int("clients", total))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var toRemove []*Client
	for _, client := range clients {
		if !client.wants(msg.symbol) {
			continue
		}
		if !client.trySend(msg.data) {
			toRemove = append(toRemove, client)
		}
	}

	if len(toRemove) == 0 {
		return
	}

	h.mu.Lock()
	for _, client := range toRemove {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			client.closeSend()
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	droppedMessages.WithLabelValues("slow_client").Add(float64(len(toRemove)))
	connectedClients.Set(float64(total))
	h.logger.Warn("removed slow websocket clients", zap.Int("removed", len(toRemove)), zap.Int("clients", total))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		client.closeSend()
	}
	connectedClients.Set(0)
}

// Stop останавливает Run. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки
func (h *Hub) Broadcast(symbol string, message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}

	// Encode добавляет перевод строки
	data := bytes.TrimRight(buf.Bytes(), "\n")
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)

	h.BroadcastRaw(symbol, msgCopy)
}

// BroadcastRaw ставит в очередь уже сериализованное сообщение.
// Если очередь полна, сообщение отбрасывается.
func (h *Hub) BroadcastRaw(symbol string, data []byte) {
	select {
	case h.broadcast <- outbound{symbol: symbol, data: data}:
	default:
		h.dropped.Add(1)
		droppedMessages.WithLabelValues("hub_full").Inc()
	}
}

// BroadcastEvent рассылает событие брокера
func (h *Hub) BroadcastEvent(ev broker.Event) {
	h.Broadcast(ev.Symbol, NewEventMessage(ev))
}

// Pump пересылает события брокера клиентам до отмены ctx или закрытия канала
func (h *Hub) Pump(ctx context.Context, events <-chan broker.Event) {
	if events == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.BroadcastEvent(ev)
		}
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число сообщений, отброшенных из-за полной очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
