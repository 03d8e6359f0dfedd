package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"OminisNode/internal/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

type envelope struct {
	kind string
	data []byte
}

// Hub fans notifications out to websocket clients. Publish drops the message
// when the hub is saturated; a client that cannot keep up is disconnected.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	log        *logger.Logger
	upgrader   websocket.Upgrader

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(log *logger.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    map[*Client]struct{}{},
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.log.Debug("stream client registered", "client_id", c.ID)
		case c := <-h.unregister:
			h.drop(c)
		case env := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for c := range h.clients {
				if !c.wants(env.kind) {
					continue
				}
				select {
				case c.send <- env.data:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.log.Warn("stream client too slow, dropping", "client_id", c.ID)
				h.drop(c)
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Publish(n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.log.Warn("encode notification failed", "err", err)
		return
	}
	select {
	case <-h.ctx.Done():
	case h.broadcast <- envelope{kind: n.Type, data: data}:
	default:
		h.log.Warn("notification dropped", "type", n.Type, "order_id", n.OrderID)
	}
}

// Register hands a connected client to the hub; false once the hub stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case <-h.ctx.Done():
		return false
	case h.register <- c:
		return true
	}
}

// ServeWS upgrades the request. An optional ?kinds=A,B query narrows the
// notification types the client receives.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("stream upgrade failed", "err", err)
		return
	}
	c := NewClient(h, conn, parseKinds(r.URL.Query().Get("kinds")))
	if !h.Register(c) {
		conn.Close()
		return
	}
	go c.WritePump()
	go c.ReadPump()
}

func parseKinds(raw string) map[string]struct{} {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	kinds := map[string]struct{}{}
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[k] = struct{}{}
		}
	}
	return kinds
}

type Client struct {
	ID    string
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	kinds map[string]struct{}
}

func NewClient(h *Hub, conn *websocket.Conn, kinds map[string]struct{}) *Client {
	return &Client{
		ID:    uuid.NewString(),
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		kinds: kinds,
	}
}

func (c *Client) wants(kind string) bool {
	if len(c.kinds) == 0 {
		return true
	}
	_, ok := c.kinds[kind]
	return ok
}

// ReadPump only services control frames; clients do not send commands.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
