// Package models defines the wire types shared by the chat client, store,
// and reference server.
package models

import "time"

// ConversationTypeContractorSub is the only conversation type currently
// supported: a channel between one contractor and one subcontractor.
const ConversationTypeContractorSub = "contractor_subcontractor"

// Participant roles.
const (
	RoleContractor    = "contractor"
	RoleSubcontractor = "subcontractor"
	RoleHomeowner     = "homeowner"
)

// Message content types.
const (
	ContentTypeText   = "text"
	ContentTypeImage  = "image"
	ContentTypeFile   = "file"
	ContentTypeSystem = "system"
)

// Counterpart identifies the other participant in a conversation, from the
// viewer's perspective.
type Counterpart struct {
	UserID    int    `json:"user_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Message is a single chat message. Messages are immutable once created;
// conversation_id and message ids are server-assigned UUIDs.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       int        `json:"sender_id"`
	Body           string     `json:"body"`
	ContentType    string     `json:"content_type"`
	AttachmentURL  string     `json:"attachment_url,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// Before reports whether m sorts before other within a conversation:
// created_at ascending, ties broken by id lexical order.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Conversation is the viewer-scoped summary of a channel with one
// counterpart. UpdatedAt is the timestamp of the most recent message, or
// the creation time if the conversation is empty.
type Conversation struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Counterpart Counterpart `json:"counterpart"`
	LastMessage *Message    `json:"last_message,omitempty"`
	UnreadCount int         `json:"unread_count"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// MessagePage is one page of conversation history. Messages are ordered
// ascending by created_at; HasMore signals that an older page exists.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// ReadReceipt acknowledges that the caller has read a conversation up to
// LastReadMessageID.
type ReadReceipt struct {
	ConversationID    string    `json:"conversation_id"`
	LastReadMessageID string    `json:"last_read_message_id,omitempty"`
	UnreadCount       int       `json:"unread_count"`
	ReadAt            time.Time `json:"read_at"`
}

// Profile is the authenticated caller's own identity, as reported by the
// server. The store needs the viewer's user id to tell own messages from
// counterpart messages.
type Profile struct {
	UserID int    `json:"user_id"`
	Role   string `json:"role"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}
