package socket

import "encoding/json"

// Message is the wire envelope for every frame, both directions.
// Payload stays raw until a subscriber knows what shape to expect.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// Message types the client reacts to by name. Anything else is
// re-emitted as a generic EventMessage.
const (
	TypePing           = "ping"
	TypePong           = "pong"
	TypeAuth           = "auth"
	TypeCollaboration  = "collaboration"
	TypeNotification   = "notification"
	TypePresence       = "presence"
	TypeAgentStatus    = "agent_status"
	TypeDocumentUpdate = "document_update"
)

// CollaborationEvent is the payload of a "collaboration" message,
// tagged by a sub-kind.
type CollaborationEvent struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data,omitempty"`
}

const (
	CollabCursor    = "cursor"
	CollabSelection = "selection"
	CollabEdit      = "edit"
	CollabPresence  = "presence"
)

type CursorPayload struct {
	DocID string  `json:"docId"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type SelectionPayload struct {
	DocID string `json:"docId"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type EditPayload struct {
	DocID     string `json:"docId"`
	Operation string `json:"operation"`
	Position  int    `json:"position"`
	Text      string `json:"text,omitempty"`
}

type PresencePayload struct {
	Status string `json:"status"`
}

type authPayload struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}
