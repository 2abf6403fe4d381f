package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Client represents a websocket connection bound to a user and an
// optional collaboration session.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	userID    int
	sessionID string
}

// envelope mirrors the client wire format; payload passes through opaque.
type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// Hub manages active clients, per-user notification fan-out and
// per-session collaboration relay. The client maps are owned by the
// run() goroutine exclusively; every mutation and every send-channel
// close happens there, so callers on other goroutines only ever talk
// to the hub through its channels.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	relay      chan relayed
	broadcast  chan []byte
	notify     chan userMessage
	// Map of userID to set of clients
	clientsByUser map[int]map[*Client]bool
	// Map of sessionID to set of clients
	clientsBySession map[string]map[*Client]bool
}

type relayed struct {
	from *Client
	data []byte
}

type userMessage struct {
	userID int
	data   []byte
}

// NewHub creates and starts a new Hub loop.
func NewHub() *Hub {
	h := &Hub{
		register:         make(chan *Client),
		unregister:       make(chan *Client),
		relay:            make(chan relayed, 64),
		broadcast:        make(chan []byte, 64),
		notify:           make(chan userMessage, 64),
		clientsByUser:    make(map[int]map[*Client]bool),
		clientsBySession: make(map[string]map[*Client]bool),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			set, ok := h.clientsByUser[c.userID]
			if !ok {
				set = make(map[*Client]bool)
				h.clientsByUser[c.userID] = set
			}
			set[c] = true
			if c.sessionID != "" {
				sess, ok := h.clientsBySession[c.sessionID]
				if !ok {
					sess = make(map[*Client]bool)
					h.clientsBySession[c.sessionID] = sess
				}
				sess[c] = true
			}
		case c := <-h.unregister:
			h.drop(c)
		case r := <-h.relay:
			sess, ok := h.clientsBySession[r.from.sessionID]
			if !ok {
				continue
			}
			for c := range sess {
				if c == r.from {
					continue
				}
				select {
				case c.send <- r.data:
				default:
					// Backpressure: drop and disconnect slow clients
					h.drop(c)
				}
			}
		case m := <-h.notify:
			if set, ok := h.clientsByUser[m.userID]; ok {
				for c := range set {
					select {
					case c.send <- m.data:
					default:
						h.drop(c)
					}
				}
			}
		case data := <-h.broadcast:
			for _, set := range h.clientsByUser {
				for c := range set {
					select {
					case c.send <- data:
					default:
						h.drop(c)
					}
				}
			}
		}
	}
}

// drop removes a client from both registries and closes its send
// channel. Only ever called from run(), which keeps the close
// idempotent: once dropped, the client is gone from the maps and a
// later unregister for the same client is a no-op.
func (h *Hub) drop(c *Client) {
	set, ok := h.clientsByUser[c.userID]
	if !ok {
		return
	}
	if _, exists := set[c]; !exists {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clientsByUser, c.userID)
	}
	if c.sessionID != "" {
		if sess, ok := h.clientsBySession[c.sessionID]; ok {
			delete(sess, c)
			if len(sess) == 0 {
				delete(h.clientsBySession, c.sessionID)
			}
		}
	}
}

// NotifyUser sends a payload to all connected clients of a given user.
// Delivery is handed to the hub loop; safe to call from any goroutine.
func (h *Hub) NotifyUser(userID int, payload []byte) {
	if h == nil {
		return
	}
	h.notify <- userMessage{userID: userID, data: payload}
}

// Broadcast sends a payload to every connected client.
// Delivery is handed to the hub loop; safe to call from any goroutine.
func (h *Hub) Broadcast(payload []byte) {
	if h == nil {
		return
	}
	h.broadcast <- payload
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades HTTP connection to WebSocket and registers the client.
// JWT is not parsed here to avoid duplication; caller must authenticate and set userId in context.
func ServeWS(h *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetInt("userId")
		if userID == 0 {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		sessionID := c.Query("session")
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "err", err)
			return
		}
		client := &Client{hub: h, conn: conn, send: make(chan []byte, 256), userID: userID, sessionID: sessionID}
		h.register <- client

		// Reader goroutine
		go func() {
			defer func() {
				h.unregister <- client
				_ = conn.Close()
			}()
			conn.SetReadLimit(4096)
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			})
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					break
				}
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				client.route(data)
			}
		}()

		// Writer loop (same goroutine)
		for msg := range client.send {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}
}

// route inspects an inbound frame: pings are answered, collaboration and
// presence frames are relayed to the rest of the session, auth frames
// bind nothing extra (identity came from the JWT), anything else is
// ignored.
func (c *Client) route(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("websocket: dropping malformed frame", "user", c.userID, "err", err)
		return
	}
	switch env.Type {
	case "ping":
		pong, _ := json.Marshal(envelope{Type: "pong", Timestamp: time.Now().UnixMilli()})
		select {
		case c.send <- pong:
		default:
		}
	case "collaboration", "presence":
		if c.sessionID != "" {
			c.hub.relay <- relayed{from: c, data: data}
		}
	case "auth":
		// Identity already established by the HTTP auth middleware.
	default:
	}
}
