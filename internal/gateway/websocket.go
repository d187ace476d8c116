package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/tomz197/pong/internal/logging"
	"github.com/tomz197/pong/internal/pong"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	maxMessageSize = 4096
	sendBuffer     = 256
)

// WebSocketServer upgrades HTTP requests and runs one read and one write
// pump per connection.
type WebSocketServer struct {
	router   *Router
	logger   *log.Logger
	upgrader websocket.Upgrader
	ctx      context.Context
}

// NewWebSocketServer creates the WebSocket transport. ctx bounds the intent
// handlers of every connection.
func NewWebSocketServer(ctx context.Context, router *Router, logger *log.Logger) *WebSocketServer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &WebSocketServer{
		router: router,
		logger: logger,
		ctx:    ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from anywhere; there is no session cookie to protect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler. The player name comes from the
// username query parameter; without it the first intent names the player.
func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &wsClient{
		id:     NewConnectionID(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: s.logger,
	}
	name := strings.TrimSpace(r.URL.Query().Get("username"))
	s.router.Connect(c, name)

	go c.writePump()
	go c.readPump(s.ctx, s.router)
}

type wsClient struct {
	id     pong.ConnectionID
	conn   *websocket.Conn
	send   chan []byte
	logger *log.Logger

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func (c *wsClient) ID() pong.ConnectionID { return c.id }

func (c *wsClient) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which sends a close frame and drops the socket.
func (c *wsClient) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

func (c *wsClient) readPump(ctx context.Context, router *Router) {
	defer func() {
		router.Disconnect(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "conn", c.id, "err", err)
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		router.Handle(ctx, c.id, msg)
	}
}

func (c *wsClient) writePump() {
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
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("websocket write failed", "conn", c.id, "err", err)
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
