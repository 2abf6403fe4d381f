package types

// Message is a single turn in a chat conversation, in the shape the
// completion provider expects ("system", "user" or "assistant").
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the public body of POST /chat.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Personality string    `json:"personality,omitempty"`
}

// ChatResponse is returned to the caller on success. Remaining reflects
// the quota left for this client in the current window, post-decrement.
type ChatResponse struct {
	Response   string `json:"response"`
	TokensUsed int    `json:"tokensUsed"`
	Remaining  int    `json:"remaining"`
}
