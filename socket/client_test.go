package socket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// wsServer is a minimal hub stand-in: it records inbound frames and can
// push frames to the most recent connection.
type wsServer struct {
	*httptest.Server
	mu     sync.Mutex
	conns  []*websocket.Conn
	frames chan Message
}

func newWSServer() *wsServer {
	s := &wsServer{frames: make(chan Message, 64)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg Message
			if json.Unmarshal(data, &msg) == nil {
				s.frames <- msg
			}
		}
	}))
	return s
}

// Close and CloseClientConnections also sever the upgraded websocket
// connections: the embedded server stops tracking a connection once the
// handler hijacks it, so on their own they would leave the sockets open.
func (s *wsServer) Close() {
	s.closeWSConns()
	s.Server.Close()
}

func (s *wsServer) CloseClientConnections() {
	s.closeWSConns()
	s.Server.CloseClientConnections()
}

func (s *wsServer) closeWSConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) push(t *testing.T, raw string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		t.Fatal("no connection to push to")
	}
	conn := s.conns[len(s.conns)-1]
	assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (s *wsServer) nextFrame(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-s.frames:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Message{}
	}
}

func collect(c *Client, event string) chan Message {
	ch := make(chan Message, 64)
	c.On(event, func(m Message) { ch <- m })
	return ch
}

func waitMsg(t *testing.T, ch chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Message{}
	}
}

func assertNoMsg(t *testing.T, ch chan Message, d time.Duration) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected event: %+v", m)
	case <-time.After(d):
	}
}

func TestConnectSendsAuthFrame(t *testing.T) {
	srv := newWSServer()
	defer srv.Close()

	c := NewClient(Options{URL: srv.url(), UserID: "u1", SessionID: "s1"})
	connected := collect(c, EventConnected)
	c.Connect()
	defer c.Disconnect()

	waitMsg(t, connected)
	assert.Equal(t, StateOpen, c.State())

	frame := srv.nextFrame(t)
	assert.Equal(t, TypeAuth, frame.Type)
	assert.Equal(t, "u1", frame.UserID)
	assert.Equal(t, "s1", frame.SessionID)

	var auth struct {
		UserID    string `json:"userId"`
		SessionID string `json:"sessionId"`
	}
	assert.NoError(t, json.Unmarshal(frame.Payload, &auth))
	assert.Equal(t, "u1", auth.UserID)
	assert.Equal(t, "s1", auth.SessionID)
}

func TestTypedEventRouting(t *testing.T) {
	srv := newWSServer()
	defer srv.Close()

	c := NewClient(Options{URL: srv.url(), UserID: "u1"})
	connected := collect(c, EventConnected)
	collab := collect(c, TypeCollaboration)
	notif := collect(c, TypeNotification)
	agent := collect(c, TypeAgentStatus)
	generic := collect(c, EventMessage)
	c.Connect()
	defer c.Disconnect()
	waitMsg(t, connected)

	srv.push(t, `{"type":"collaboration","payload":{"kind":"cursor"},"timestamp":1}`)
	assert.Equal(t, TypeCollaboration, waitMsg(t, collab).Type)

	srv.push(t, `{"type":"notification","payload":{"title":"hi"},"timestamp":2}`)
	assert.Equal(t, TypeNotification, waitMsg(t, notif).Type)

	srv.push(t, `{"type":"agent_status","payload":{"state":"running"},"timestamp":3}`)
	assert.Equal(t, TypeAgentStatus, waitMsg(t, agent).Type)

	srv.push(t, `{"type":"totally_custom","timestamp":4}`)
	assert.Equal(t, "totally_custom", waitMsg(t, generic).Type)
}

func TestPongIsSwallowed(t *testing.T) {
	srv := newWSServer()
	defer srv.Close()

	c := NewClient(Options{URL: srv.url()})
	connected := collect(c, EventConnected)
	generic := collect(c, EventMessage)
	c.Connect()
	defer c.Disconnect()
	waitMsg(t, connected)

	srv.push(t, `{"type":"pong","timestamp":1}`)
	// Marker frame proves the pong was processed and dropped.
	srv.push(t, `{"type":"marker","timestamp":2}`)
	assert.Equal(t, "marker", waitMsg(t, generic).Type)
	assertNoMsg(t, generic, 50*time.Millisecond)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	srv := newWSServer()
	defer srv.Close()

	c := NewClient(Options{URL: srv.url()})
	connected := collect(c, EventConnected)
	notif := collect(c, TypeNotification)
	c.Connect()
	defer c.Disconnect()
	waitMsg(t, connected)

	srv.push(t, `{{{not json`)
	srv.push(t, `{"type":"notification","timestamp":1}`)
	assert.Equal(t, TypeNotification, waitMsg(t, notif).Type)
	assert.Equal(t, StateOpen, c.State(), "malformed frames never kill the connection")
}

func TestSendWhileNotConnectedIsNoop(t *testing.T) {
	c := NewClient(Options{URL: "ws://127.0.0.1:1/ws"})
	assert.NotPanics(t, func() {
		c.Send(TypeCollaboration, CollaborationEvent{Kind: CollabCursor})
		c.SendPresence("online")
	})
	assert.Equal(t, StateIdle, c.State())
}

func TestConvenienceEmitters(t *testing.T) {
	srv := newWSServer()
	defer srv.Close()

	c := NewClient(Options{URL: srv.url(), UserID: "u1", SessionID: "s1"})
	connected := collect(c, EventConnected)
	c.Connect()
	defer c.Disconnect()
	waitMsg(t, connected)
	srv.nextFrame(t) // auth

	c.SendCursor("doc-1", 10, 20)
	c.SendSelection("doc-1", 5, 9)
	c.SendEdit("doc-1", "insert", 5, "hi")
	c.SendPresence("online")

	kinds := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		frame := srv.nextFrame(t)
		assert.Equal(t, TypeCollaboration, frame.Type)
		assert.Equal(t, "u1", frame.UserID)
		var ev struct {
			Kind string `json:"kind"`
		}
		assert.NoError(t, json.Unmarshal(frame.Payload, &ev))
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []string{CollabCursor, CollabSelection, CollabEdit, CollabPresence}, kinds)
}

func TestHeartbeat(t *testing.T) {
	srv := newWSServer()
	defer srv.Close()

	c := NewClient(Options{URL: srv.url(), HeartbeatInterval: 20 * time.Millisecond})
	connected := collect(c, EventConnected)
	c.Connect()
	defer c.Disconnect()
	waitMsg(t, connected)
	srv.nextFrame(t) // auth

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-srv.frames:
			if msg.Type == TypePing {
				return
			}
		case <-deadline:
			t.Fatal("no ping within deadline")
		}
	}
}

func TestReconnectAfterDroppedConnection(t *testing.T) {
	srv := newWSServer()
	defer srv.Close()

	c := NewClient(Options{URL: srv.url(), BaseDelay: 15 * time.Millisecond})
	connected := collect(c, EventConnected)
	disconnected := collect(c, EventDisconnected)
	c.Connect()
	defer c.Disconnect()
	waitMsg(t, connected)

	srv.CloseClientConnections()
	waitMsg(t, disconnected)
	waitMsg(t, connected)
	assert.Equal(t, StateOpen, c.State())
}

func TestBackoffRunsToTerminalFailure(t *testing.T) {
	srv := newWSServer()

	c := NewClient(Options{URL: srv.url(), BaseDelay: 15 * time.Millisecond, MaxAttempts: 3})
	connected := collect(c, EventConnected)
	disconnected := collect(c, EventDisconnected)
	failed := collect(c, EventReconnectFailed)
	errs := collect(c, EventError)

	c.Connect()
	waitMsg(t, connected)

	// Kill the listener so every redial fails.
	srv.Close()
	waitMsg(t, disconnected)
	start := time.Now()

	waitMsg(t, failed)
	elapsed := time.Since(start)

	// Delays are base, 2*base, 4*base before the terminal event.
	assert.GreaterOrEqual(t, elapsed, 105*time.Millisecond, "backoff must sum at least base*(2^n-1)")
	assert.Equal(t, StateReconnectFailed, c.State())
	assert.Len(t, errs, 3, "one dial error per attempt")
	for len(errs) > 0 {
		<-errs
	}

	// No further attempts after the terminal event.
	assertNoMsg(t, errs, 100*time.Millisecond)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	srv := newWSServer()

	c := NewClient(Options{URL: srv.url(), BaseDelay: 300 * time.Millisecond, MaxAttempts: 5})
	connected := collect(c, EventConnected)
	disconnected := collect(c, EventDisconnected)
	failed := collect(c, EventReconnectFailed)

	c.Connect()
	waitMsg(t, connected)

	srv.Close()
	waitMsg(t, disconnected)

	assert.Eventually(t, func() bool {
		return c.State() == StateReconnecting
	}, time.Second, 5*time.Millisecond)

	c.Disconnect()
	assert.Equal(t, StateClosed, c.State())

	// Past the pending delay: no new connection attempt, no terminal event.
	assertNoMsg(t, connected, 400*time.Millisecond)
	assertNoMsg(t, failed, 10*time.Millisecond)
	assert.Equal(t, StateClosed, c.State())
}

func TestExplicitDisconnectSuppressesReconnect(t *testing.T) {
	srv := newWSServer()
	defer srv.Close()

	c := NewClient(Options{URL: srv.url(), BaseDelay: 10 * time.Millisecond})
	connected := collect(c, EventConnected)
	disconnected := collect(c, EventDisconnected)

	c.Connect()
	waitMsg(t, connected)

	c.Disconnect()
	waitMsg(t, disconnected)

	assertNoMsg(t, connected, 100*time.Millisecond)
	assert.Equal(t, StateClosed, c.State())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	srv := newWSServer()
	defer srv.Close()

	c := NewClient(Options{URL: srv.url()})
	connected := collect(c, EventConnected)

	got := make(chan Message, 8)
	off := c.On(TypeNotification, func(m Message) { got <- m })

	c.Connect()
	defer c.Disconnect()
	waitMsg(t, connected)

	srv.push(t, `{"type":"notification","timestamp":1}`)
	waitMsg(t, got)

	off()
	srv.push(t, `{"type":"notification","timestamp":2}`)
	assertNoMsg(t, got, 100*time.Millisecond)
}
