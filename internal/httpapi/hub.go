package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/events"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans bus events out to websocket clients. A client that cannot keep up
// is disconnected.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	done       chan struct{}
	upgrader   websocket.Upgrader
	log        *zap.Logger
}

func NewHub(allowedOrigins []string, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		log:        log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowed[origin] || allowed["*"] {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				host := u.Hostname()
				return host == "localhost" || host == "127.0.0.1" || host == "::1"
			},
		},
	}
}

// Run forwards bus events to clients until ctx is done, then disconnects
// everyone.
func (h *Hub) Run(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe("websocket")
	defer sub.Close()
	defer close(h.done)
	busC := sub.C
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
		case e, ok := <-busC:
			if !ok {
				busC = nil
				continue
			}
			h.fanout(e)
		}
	}
}

func (h *Hub) fanout(e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Warn("ws_marshal_failed", zap.String("kind", string(e.Kind)), zap.Error(err))
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws_upgrade_failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump(h)
}

func (c *client) writePump() {
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

// readPump only drains control frames; clients never send data.
func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
