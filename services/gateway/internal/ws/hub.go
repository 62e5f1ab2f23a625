// Package ws pushes checkout updates to connected browsers.
//
// A client connects to the gateway, sends {"token": "<jwt>"} within
// authTimeout and from then on receives typed messages addressed to its
// principal:
//
//	{"type": "checkout.updated", "data": {...}}
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	authTimeout    = 5 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
	sendBuffer     = 64
)

// AuthFunc validates a handshake token and returns the caller's principal.
type AuthFunc func(token string) (principal, role string, err error)

type Client struct {
	ID        string
	Principal string
	Role      string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
}

type Hub struct {
	clients    map[string]*Client
	mu         sync.RWMutex
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	authFunc   AuthFunc
	upgrader   websocket.Upgrader
}

// NewHub builds a hub. An empty allowedOrigins accepts any origin.
func NewHub(authFunc AuthFunc, allowedOrigins []string) *Hub {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
		authFunc:   authFunc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(origins) == 0 || origins["*"] || origins[origin]
			},
		},
	}
}

// Run owns client registration until ctx is done. It must be called at most
// once; connections arriving after it returns are turned away.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			h.drainRegistrations()
			logger.Info("Websocket hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.ID] = c
			h.mu.Unlock()
			logger.Debug("Websocket client registered", "client_id", c.ID, "principal", c.Principal)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.ID]; ok {
				delete(h.clients, c.ID)
				close(c.send)
			}
			h.mu.Unlock()
			logger.Debug("Websocket client unregistered", "client_id", c.ID)
		}
	}
}

// drainRegistrations releases clients queued while the hub was stopping.
func (h *Hub) drainRegistrations() {
	for {
		select {
		case c := <-h.register:
			close(c.send)
		default:
			return
		}
	}
}

// SendToPrincipal queues message for every connection of principal. Slow
// clients drop messages instead of blocking the caller.
func (h *Hub) SendToPrincipal(principal string, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, c := range h.clients {
		if c.Principal != principal {
			continue
		}
		select {
		case c.send <- message:
			sent++
		default:
			logger.Warn("Websocket send buffer full, message dropped", "client_id", c.ID)
		}
	}
	return sent
}

// SendTypedMessage wraps data in a {type, data} envelope.
func (h *Hub) SendTypedMessage(principal, msgType string, data interface{}) error {
	msg, err := json.Marshal(map[string]interface{}{
		"type": msgType,
		"data": data,
	})
	if err != nil {
		return err
	}
	h.SendToPrincipal(principal, msg)
	return nil
}

func (h *Hub) IsConnected(principal string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.Principal == principal {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and waits for the token handshake.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "Websocket upgrade failed", "error", err)
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))

	var authMsg struct {
		Token string `json:"token"`
	}
	if err := conn.ReadJSON(&authMsg); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "auth timeout"))
		_ = conn.Close()
		logger.WarnContext(r.Context(), "Websocket handshake failed", "error", err)
		return
	}

	principal, role, err := h.authFunc(authMsg.Token)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": "invalid token"})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"))
		_ = conn.Close()
		return
	}

	c := &Client{
		ID:        uuid.New().String(),
		Principal: principal,
		Role:      role,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		hub:       h,
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// The acknowledgement is written before the pumps start so it is always
	// the first frame the client sees.
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(map[string]string{"status": "authenticated"}); err != nil {
		_ = conn.Close()
		return
	}

	if !h.admit(c) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// admit queues c for registration, or reports false once the hub has stopped.
func (h *Hub) admit(c *Client) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// readPump only drains control frames; clients have nothing to say after the
// handshake.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Websocket read error", "client_id", c.ID, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
