// Package ws defines the frames exchanged over the gateway websocket.
package ws

import "encoding/json"

// Frame types
const (
	TypeInbox     = "inbox"
	TypeThread    = "thread"
	TypeSession   = "session"
	TypeSubscribe = "subscribe"
	TypeResync    = "resync"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeError     = "error"
)

// TopicInbox is the conversation list stream every connection receives
const TopicInbox = "inbox"

// ThreadTopic names the stream of one conversation view
func ThreadTopic(conversationID string) string {
	return "thread:" + conversationID
}

// Envelope is a server frame
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Inbound is a client frame
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload asks for a conversation view's updates
type SubscribePayload struct {
	ConversationID string `json:"conversationId"`
}

// ResyncPayload reports a visibility or pageshow event. An empty
// ConversationID targets the conversation list.
type ResyncPayload struct {
	Trigger        string `json:"trigger"`
	ConversationID string `json:"conversationId,omitempty"`
}

// ErrorPayload describes a rejected client frame
type ErrorPayload struct {
	Message string `json:"message"`
}
