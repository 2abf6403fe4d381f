package socket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection lifecycle position of a Client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateReconnecting
	StateReconnectFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	case StateReconnectFailed:
		return "reconnect_failed"
	default:
		return "unknown"
	}
}

// Lifecycle events emitted alongside the typed message events.
const (
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventError           = "error"
	EventReconnectFailed = "reconnect_failed"
	EventMessage         = "message"
)

// Handler receives an inbound envelope or a lifecycle event.
type Handler func(Message)

// Options configures a Client. URL is required; zero values elsewhere
// fall back to the production defaults.
type Options struct {
	URL               string
	UserID            string
	SessionID         string
	BaseDelay         time.Duration // first reconnect delay, doubles per attempt
	MaxAttempts       int           // reconnect attempts before giving up
	HeartbeatInterval time.Duration
}

// Client maintains one websocket connection to the realtime hub,
// reconnecting with exponential backoff after unexpected closes and
// keeping the link alive with periodic pings.
//
// The public surface never returns errors; failures are observed
// through emitted events. At most one underlying connection is live at
// a time.
type Client struct {
	opts Options

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	attempts       int
	intentional    bool
	reconnectTimer *time.Timer
	stopHeartbeat  chan struct{}
	handlers       map[string][]*subscription

	writeMu sync.Mutex

	dialer *websocket.Dialer
}

type subscription struct {
	fn Handler
}

func NewClient(opts Options) *Client {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	return &Client{
		opts:     opts,
		state:    StateIdle,
		handlers: make(map[string][]*subscription),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// State reports the current lifecycle position.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers a handler for an event name (a lifecycle event constant
// or a message type). Handlers run synchronously in registration order.
// The returned func unsubscribes.
func (c *Client) On(event string, fn Handler) func() {
	sub := &subscription{fn: fn}
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], sub)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.handlers[event]
		for i, s := range subs {
			if s == sub {
				c.handlers[event] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

func (c *Client) emit(event string, msg Message) {
	c.mu.Lock()
	subs := append([]*subscription(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, s := range subs {
		s.fn(msg)
	}
}

func (c *Client) emitError(text string) {
	payload, _ := json.Marshal(map[string]string{"error": text})
	c.emit(EventError, Message{Type: EventError, Payload: payload, Timestamp: time.Now().UnixMilli()})
}

// Connect starts the connection asynchronously. Calling it while a
// connection is live or in progress is a no-op.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen || c.state == StateReconnecting {
		c.mu.Unlock()
		slog.Warn("socket: connect ignored", "state", c.state.String())
		return
	}
	c.intentional = false
	c.attempts = 0
	c.state = StateConnecting
	c.mu.Unlock()
	go c.dial()
}

// Disconnect closes the connection and suppresses any further
// reconnection, cancelling a pending reconnect timer if one is armed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
	conn := c.conn
	c.conn = nil
	wasLive := c.state == StateOpen || c.state == StateReconnecting || c.state == StateConnecting
	c.state = StateClosed
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if wasLive {
		c.emit(EventDisconnected, Message{Type: EventDisconnected, Timestamp: time.Now().UnixMilli()})
	}
}

func (c *Client) dial() {
	conn, resp, err := c.dialer.Dial(c.opts.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		slog.Warn("socket: dial failed", "url", c.opts.URL, "err", err)
		c.emitError("connection failed")
		c.mu.Lock()
		c.state = StateClosed
		intentional := c.intentional
		c.mu.Unlock()
		if !intentional {
			c.scheduleReconnect()
		}
		return
	}

	c.mu.Lock()
	if c.intentional {
		// Disconnect raced the handshake; drop the fresh connection.
		c.state = StateClosed
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	stop := make(chan struct{})
	c.stopHeartbeat = stop
	c.mu.Unlock()

	c.emit(EventConnected, Message{Type: EventConnected, Timestamp: time.Now().UnixMilli()})
	c.writeEnvelope(conn, TypeAuth, authPayload{UserID: c.opts.UserID, SessionID: c.opts.SessionID})

	go c.heartbeat(conn, stop)
	c.readLoop(conn)
}

func (c *Client) heartbeat(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeEnvelope(conn, TypePing, nil)
		case <-stop:
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("socket: dropping malformed frame", "err", err)
			continue
		}
		switch msg.Type {
		case TypePong:
			// Heartbeat acknowledgment, nothing to do.
		case TypeCollaboration, TypeNotification, TypePresence, TypeAgentStatus, TypeDocumentUpdate:
			c.emit(msg.Type, msg)
		default:
			c.emit(EventMessage, msg)
		}
	}
	c.handleClose(conn)
}

func (c *Client) handleClose(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		// Disconnect already tore this connection down.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
	c.state = StateClosed
	intentional := c.intentional
	c.mu.Unlock()
	_ = conn.Close()

	c.emit(EventDisconnected, Message{Type: EventDisconnected, Timestamp: time.Now().UnixMilli()})
	if !intentional {
		c.scheduleReconnect()
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		return
	}
	c.attempts++
	if c.attempts > c.opts.MaxAttempts {
		c.state = StateReconnectFailed
		c.mu.Unlock()
		slog.Warn("socket: giving up after max reconnect attempts", "attempts", c.opts.MaxAttempts)
		c.emit(EventReconnectFailed, Message{Type: EventReconnectFailed, Timestamp: time.Now().UnixMilli()})
		return
	}
	delay := c.opts.BaseDelay * (1 << (c.attempts - 1))
	c.state = StateReconnecting
	attempt := c.attempts
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.intentional || c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.reconnectTimer = nil
		c.state = StateConnecting
		c.mu.Unlock()
		c.dial()
	})
	c.mu.Unlock()
	slog.Info("socket: reconnect scheduled", "attempt", attempt, "delay", delay.String())
}

// Send publishes a message of the given type. While the connection is
// not open this is a logged no-op: nothing is queued for later delivery.
func (c *Client) Send(msgType string, payload interface{}) {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || conn == nil {
		slog.Warn("socket: dropping send while not connected", "type", msgType)
		return
	}
	c.writeEnvelope(conn, msgType, payload)
}

func (c *Client) writeEnvelope(conn *websocket.Conn, msgType string, payload interface{}) {
	msg := Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		UserID:    c.opts.UserID,
		SessionID: c.opts.SessionID,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			slog.Error("socket: payload marshal failed", "type", msgType, "err", err)
			return
		}
		msg.Payload = raw
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("socket: envelope marshal failed", "type", msgType, "err", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Warn("socket: write failed", "type", msgType, "err", err)
		c.emitError("write failed")
	}
}

// SendCursor publishes the local cursor position for a document.
func (c *Client) SendCursor(docID string, x, y float64) {
	c.Send(TypeCollaboration, CollaborationEvent{Kind: CollabCursor, Data: CursorPayload{DocID: docID, X: x, Y: y}})
}

// SendSelection publishes the local selection range for a document.
func (c *Client) SendSelection(docID string, start, end int) {
	c.Send(TypeCollaboration, CollaborationEvent{Kind: CollabSelection, Data: SelectionPayload{DocID: docID, Start: start, End: end}})
}

// SendEdit publishes an edit operation on a document.
func (c *Client) SendEdit(docID, operation string, position int, text string) {
	c.Send(TypeCollaboration, CollaborationEvent{Kind: CollabEdit, Data: EditPayload{DocID: docID, Operation: operation, Position: position, Text: text}})
}

// SendPresence publishes the local presence status.
func (c *Client) SendPresence(status string) {
	c.Send(TypeCollaboration, CollaborationEvent{Kind: CollabPresence, Data: PresencePayload{Status: status}})
}
