package websocket

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping сообщений (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящей команды
	maxMessageSize = 4096

	// Размер буфера отправки клиента
	clientSendBufferSize = 512
)

// OriginChecker проверяет Origin с O(1) lookup через map
// Потокобезопасен для чтения после инициализации
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

// NewOriginChecker создаёт проверку по списку origin.
// Пустой список или "*" разрешает все.
func NewOriginChecker(origins []string) *OriginChecker {
	checker := &OriginChecker{allowedOrigins: make(map[string]struct{})}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			checker.allowAll = true
		}
		if origin != "" {
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	if len(checker.allowedOrigins) == 0 {
		checker.allowAll = true
	}
	return checker
}

// Check проверяет origin за O(1)
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" {
		return true // не браузерные клиенты (curl, API tools)
	}
	if oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

// Client представляет одно WebSocket соединение
//
// Каждый клиент имеет две горутины:
//  1. readPump - читает команды подписки и контролирует соединение
//  2. writePump - пишет сообщения клиенту и шлёт ping
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	// Буферизованный канал исходящих сообщений.
	// Пишется и закрывается только под sendMu.
	send   chan []byte
	sendMu sync.Mutex
	closed bool

	mu      sync.RWMutex
	symbols map[string]struct{} // пусто = все символы
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn:    conn,
		hub:     hub,
		send:    make(chan []byte, clientSendBufferSize),
		symbols: make(map[string]struct{}),
	}
}

// wants сообщает, нужно ли клиенту сообщение по символу
func (c *Client) wants(symbol string) bool {
	if symbol == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.symbols) == 0 {
		return true
	}
	_, ok := c.symbols[symbol]
	return ok
}

// apply применяет команду и возвращает текущий фильтр
func (c *Client) apply(cmd Command) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range cmd.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if cmd.Action == ActionSubscribe {
			c.symbols[s] = struct{}{}
		} else {
			delete(c.symbols, s)
		}
	}

	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// trySend кладёт сообщение в буфер без блокировки.
// false - буфер полон или клиент уже отключён.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend закрывает канал отправки, повторный вызов ничего не делает
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// reply отправляет ответ только этому клиенту, без блокировки
func (c *Client) reply(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	c.trySend(data)
}

// readPump читает команды клиента
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.reply(newErrorMessage("invalid command: " + err.Error()))
			continue
		}
		switch cmd.Action {
		case ActionSubscribe, ActionUnsubscribe:
			c.reply(newSubscribedMessage(c.apply(cmd)))
		default:
			c.reply(newErrorMessage("unknown action: " + cmd.Action))
		}
	}
}

// writePump отправляет сообщения клиенту
//
// Накопившиеся в буфере сообщения уходят одним фреймом через '\n'.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

		drainLoop:
			for {
				select {
				case msg, ok := <-c.send:
					if !ok {
						break drainLoop
					}
					w.Write([]byte{'\n'})
					w.Write(msg)
				default:
					break drainLoop
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS апгрейдит HTTP соединение до WebSocket и регистрирует клиента
//
// Использование в routes:
// router.HandleFunc("/ws/stream", hub.ServeWS)
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := newClient(h, conn)

	select {
	case h.register <- client:
	case <-h.stop:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
