package models

import (
	"encoding/json"
	"fmt"
)

// Push event names sent over the /chat/ws channel.
const (
	EventConnectionEstablished = "connection.established"
	EventConversationCreated   = "conversation.created"
	EventMessageCreated        = "message.created"
	EventConversationRead      = "conversation.read"
)

// ChatEvent is the decoded union of push frames. Exactly one payload field
// is populated, according to Event.
type ChatEvent struct {
	Event        string        `json:"event"`
	Conversation *Conversation `json:"conversation,omitempty"`
	Message      *Message      `json:"message,omitempty"`

	// conversation.read payload.
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         int    `json:"user_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

// DecodeEvent parses a raw push frame into a ChatEvent. It rejects frames
// with an unknown event name or a missing payload so that callers can drop
// them without inspecting the union.
func DecodeEvent(data []byte) (ChatEvent, error) {
	var ev ChatEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ChatEvent{}, fmt.Errorf("models: decode event: %w", err)
	}
	switch ev.Event {
	case EventConnectionEstablished:
	case EventConversationCreated:
		if ev.Conversation == nil {
			return ChatEvent{}, fmt.Errorf("models: %s event missing conversation", ev.Event)
		}
	case EventMessageCreated:
		if ev.Message == nil {
			return ChatEvent{}, fmt.Errorf("models: %s event missing message", ev.Event)
		}
	case EventConversationRead:
		if ev.ConversationID == "" {
			return ChatEvent{}, fmt.Errorf("models: %s event missing conversation_id", ev.Event)
		}
	case "":
		return ChatEvent{}, fmt.Errorf("models: event name is required")
	default:
		return ChatEvent{}, fmt.Errorf("models: unknown event %q", ev.Event)
	}
	return ev, nil
}
