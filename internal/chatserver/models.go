package chatserver

import "time"

// User is a marketplace account. Authentication is an opaque bearer-token
// contract: the api_token column is the whole of it here.
type User struct {
	ID        int    `gorm:"primaryKey;autoIncrement"`
	Email     string `gorm:"size:255;not null;uniqueIndex"`
	Role      string `gorm:"size:32;not null"`
	Name      string `gorm:"size:255"`
	AvatarURL string `gorm:"size:512"`
	APIToken  string `gorm:"size:64;not null;uniqueIndex"`
	CreatedAt time.Time
}

// Conversation is a channel between exactly two participants.
type Conversation struct {
	ID        string `gorm:"primaryKey;size:36"`
	Type      string `gorm:"size:64;not null"`
	CreatedAt time.Time
}

// Participant is one user's membership in a conversation, carrying their
// read state and unread counter.
type Participant struct {
	ConversationID    string `gorm:"primaryKey;size:36"`
	UserID            int    `gorm:"primaryKey;index"`
	Role              string `gorm:"size:32;not null"`
	UnreadCount       int    `gorm:"not null;default:0"`
	LastReadMessageID *string `gorm:"size:36"`
	LastReadAt        *time.Time
	IsArchived        bool `gorm:"not null;default:false"`
	JoinedAt          time.Time
}

// Message is one immutable chat message.
type Message struct {
	ID             string `gorm:"primaryKey;size:36"`
	ConversationID string `gorm:"size:36;not null;index"`
	SenderID       int    `gorm:"not null"`
	Body           string `gorm:"type:text;not null"`
	ContentType    string `gorm:"size:16;not null;default:text"`
	AttachmentURL  string `gorm:"size:512"`
	CreatedAt      time.Time `gorm:"index"`
	ReadAt         *time.Time
}
