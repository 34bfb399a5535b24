package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"treasury-desk/infrastructure/logger"
	"treasury-desk/infrastructure/monitor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

// Message 推送给订阅者的订单事件
type Message struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
	TS   time.Time              `json:"ts"`
}

type client struct {
	hub  *Hub
	send chan Message
}

// Hub 把订单事件扇出给所有 websocket 订阅者。慢客户端的消息直接丢弃。
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}

	broadcast  chan Message
	register   chan *client
	unregister chan *client
	done       chan struct{}

	logger  *logger.Logger
	monitor *monitor.Monitor
}

// NewHub creates a hub; Run must be started before clients connect.
func NewHub(l *logger.Logger, m *monitor.Monitor) *Hub {
	if l == nil {
		l = logger.NewNop()
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan Message, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     l,
		monitor:    m,
	}
}

// Run 事件循环，ctx 结束时关闭所有客户端。
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.monitor.SetWSClients(0)
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.monitor.SetWSClients(n)
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.monitor.SetWSClients(n)
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish 满足 order.EventSink；队列满时丢弃，不阻塞撮合路径。
func (h *Hub) Publish(event string, data map[string]interface{}) {
	if h == nil {
		return
	}
	select {
	case h.broadcast <- Message{Type: event, Data: data, TS: time.Now().UTC()}:
	default:
		h.logger.Warn("ws_broadcast_dropped")
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams order events to the peer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.LogError(err, map[string]interface{}{"action": "ws_upgrade"})
		return
	}
	c := &client{hub: h, send: make(chan Message, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump(conn)
	go c.readPump(conn)
}

// readPump 只处理 ping/pong 与关闭，客户端消息被忽略。
func (c *client) readPump(conn *websocket.Conn) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.LogError(err, map[string]interface{}{"action": "ws_read"})
			}
			return
		}
	}
}

func (c *client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				c.hub.logger.LogError(err, map[string]interface{}{"action": "ws_marshal"})
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
