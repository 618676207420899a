package chatserver

import (
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/crewlink-app/crewlink/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// maxBodyLen caps free-chat message bodies, matching the original API's
// 4000-character limit.
const maxBodyLen = 4000

// DefaultPageSize is the history page size when the limit query parameter
// is absent.
const DefaultPageSize = 50

// maxPageSize caps the limit query parameter for history pages.
const maxPageSize = 100

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// registerRoutes sets up the chat API on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, hub *Hub) {
	chat := router.Group("/chat")
	chat.GET("/ws", handleWS(db, hub))

	authed := chat.Group("", authRequired(db))
	authed.GET("/me", handleMe())
	authed.GET("/conversations", handleListConversations(db))
	authed.POST("/conversations", handleCreateConversation(db, hub))
	authed.GET("/conversations/:id/messages", handleListMessages(db))
	authed.POST("/conversations/:id/messages", handleSendMessage(db, hub))
	authed.POST("/conversations/:id/read", handleMarkRead(db, hub))
}

// serializeMessage converts a stored message to its wire shape.
func serializeMessage(m Message) models.Message {
	return models.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		ContentType:    m.ContentType,
		AttachmentURL:  m.AttachmentURL,
		CreatedAt:      m.CreatedAt,
		ReadAt:         m.ReadAt,
	}
}

// lastMessage returns the newest message in a conversation, or nil.
func lastMessage(db *gorm.DB, conversationID string) (*Message, error) {
	var msg Message
	err := db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").Limit(1).First(&msg).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// serializeConversation builds the viewer-scoped summary for a
// conversation.
func serializeConversation(db *gorm.DB, conv Conversation, viewerID int) (models.Conversation, error) {
	var participants []Participant
	if err := db.Where("conversation_id = ?", conv.ID).Find(&participants).Error; err != nil {
		return models.Conversation{}, err
	}

	var viewer, counterpart *Participant
	for i := range participants {
		if participants[i].UserID == viewerID {
			viewer = &participants[i]
		} else {
			counterpart = &participants[i]
		}
	}
	if viewer == nil || counterpart == nil {
		return models.Conversation{}, gorm.ErrRecordNotFound
	}

	var counterpartUser User
	if err := db.First(&counterpartUser, counterpart.UserID).Error; err != nil {
		return models.Conversation{}, err
	}

	last, err := lastMessage(db, conv.ID)
	if err != nil {
		return models.Conversation{}, err
	}

	summary := models.Conversation{
		ID:   conv.ID,
		Type: conv.Type,
		Counterpart: models.Counterpart{
			UserID:    counterpartUser.ID,
			Role:      counterpartUser.Role,
			Name:      counterpartUser.Name,
			AvatarURL: counterpartUser.AvatarURL,
		},
		UnreadCount: viewer.UnreadCount,
		UpdatedAt:   conv.CreatedAt,
	}
	if last != nil {
		wire := serializeMessage(*last)
		summary.LastMessage = &wire
		summary.UpdatedAt = last.CreatedAt
	}
	return summary, nil
}

// findParticipant loads the viewer's membership in a conversation, hiding
// conversations the viewer does not belong to behind a not-found.
func findParticipant(db *gorm.DB, conversationID string, userID int) (Participant, bool) {
	var p Participant
	err := db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).First(&p).Error
	return p, err == nil
}

// pairConversationID finds the conversation shared by exactly these two
// users, or empty.
func pairConversationID(db *gorm.DB, a, b int) (string, error) {
	var ids []string
	err := db.Model(&Participant{}).
		Select("conversation_id").
		Where("user_id IN ?", []int{a, b}).
		Group("conversation_id").
		Having("COUNT(*) = 2").
		Scan(&ids).Error
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[0], nil
}

func handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		c.JSON(http.StatusOK, models.Profile{
			UserID: user.ID,
			Role:   user.Role,
			Name:   user.Name,
			Email:  user.Email,
		})
	}
}

func handleCreateConversation(db *gorm.DB, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)

		var req struct {
			CounterpartyID int `json:"counterparty_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.CounterpartyID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "counterparty_id is required"})
			return
		}
		if req.CounterpartyID == user.ID {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Cannot chat with yourself"})
			return
		}

		var counterpart User
		if err := db.First(&counterpart, req.CounterpartyID).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Counterparty not found"})
			return
		}
		pairing := map[string]bool{user.Role: true, counterpart.Role: true}
		if !pairing[models.RoleContractor] || !pairing[models.RoleSubcontractor] {
			c.JSON(http.StatusBadRequest, gin.H{
				"detail": "Conversations are only supported between contractors and subcontractors",
			})
			return
		}

		// Create-or-get: one conversation per pair.
		existingID, err := pairConversationID(db, user.ID, counterpart.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
			return
		}
		if existingID != "" {
			var conv Conversation
			if err := db.First(&conv, "id = ?", existingID).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
				return
			}
			summary, err := serializeConversation(db, conv, user.ID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"conversation": summary})
			return
		}

		now := time.Now().UTC()
		conv := Conversation{
			ID:        uuid.NewString(),
			Type:      models.ConversationTypeContractorSub,
			CreatedAt: now,
		}
		participants := []Participant{
			{ConversationID: conv.ID, UserID: user.ID, Role: user.Role, JoinedAt: now},
			{ConversationID: conv.ID, UserID: counterpart.ID, Role: counterpart.Role, JoinedAt: now},
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&conv).Error; err != nil {
				return err
			}
			return tx.Create(&participants).Error
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
			return
		}

		summary, err := serializeConversation(db, conv, user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
			return
		}

		// The counterpart learns about the new conversation from their
		// own perspective.
		if counterpartView, err := serializeConversation(db, conv, counterpart.ID); err == nil {
			hub.Broadcast([]int{counterpart.ID}, gin.H{
				"event":        models.EventConversationCreated,
				"conversation": counterpartView,
			})
		}

		c.JSON(http.StatusOK, gin.H{"conversation": summary})
	}
}

func handleListConversations(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)

		var memberships []Participant
		err := db.Where("user_id = ? AND is_archived = ?", user.ID, false).Find(&memberships).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
			return
		}

		summaries := make([]models.Conversation, 0, len(memberships))
		for _, membership := range memberships {
			var conv Conversation
			if err := db.First(&conv, "id = ?", membership.ConversationID).Error; err != nil {
				continue
			}
			summary, err := serializeConversation(db, conv, user.ID)
			if err != nil {
				continue
			}
			summaries = append(summaries, summary)
		}

		// Newest activity first.
		sort.SliceStable(summaries, func(i, j int) bool {
			return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
		})

		c.JSON(http.StatusOK, gin.H{"conversations": summaries})
	}
}

func handleListMessages(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		conversationID := c.Param("id")

		if _, ok := findParticipant(db, conversationID, user.ID); !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Conversation not found"})
			return
		}

		limit := DefaultPageSize
		if raw := c.Query("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}

		query := db.Where("conversation_id = ?", conversationID)
		if beforeID := c.Query("before_id"); beforeID != "" {
			var before Message
			err := db.Where("id = ? AND conversation_id = ?", beforeID, conversationID).First(&before).Error
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"detail": "Message not found"})
				return
			}
			query = query.Where(
				"created_at < ? OR (created_at = ? AND id < ?)",
				before.CreatedAt, before.CreatedAt, before.ID,
			)
		}

		// Fetch one past the limit to learn whether an older page exists.
		var rows []Message
		err := query.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&rows).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
			return
		}
		hasMore := len(rows) > limit
		if hasMore {
			rows = rows[:limit]
		}

		// Oldest first on the wire.
		page := make([]models.Message, len(rows))
		for i, row := range rows {
			page[len(rows)-1-i] = serializeMessage(row)
		}

		c.JSON(http.StatusOK, models.MessagePage{Messages: page, HasMore: hasMore})
	}
}

func handleSendMessage(db *gorm.DB, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		conversationID := c.Param("id")

		if _, ok := findParticipant(db, conversationID, user.ID); !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Conversation not found"})
			return
		}

		var req struct {
			Body          string `json:"body"`
			ContentType   string `json:"content_type"`
			AttachmentURL string `json:"attachment_url"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body"})
			return
		}
		body := strings.TrimSpace(req.Body)
		if body == "" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Message body cannot be empty"})
			return
		}
		if len(body) > maxBodyLen {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Message body is too long"})
			return
		}
		contentType := req.ContentType
		if contentType == "" {
			contentType = models.ContentTypeText
		}

		msg := Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			SenderID:       user.ID,
			Body:           body,
			ContentType:    contentType,
			AttachmentURL:  req.AttachmentURL,
			CreatedAt:      time.Now().UTC(),
		}

		var recipientIDs []int
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&msg).Error; err != nil {
				return err
			}
			var recipients []Participant
			if err := tx.Where("conversation_id = ? AND user_id <> ?", conversationID, user.ID).
				Find(&recipients).Error; err != nil {
				return err
			}
			for _, r := range recipients {
				recipientIDs = append(recipientIDs, r.UserID)
			}
			return tx.Model(&Participant{}).
				Where("conversation_id = ? AND user_id <> ?", conversationID, user.ID).
				UpdateColumn("unread_count", gorm.Expr("unread_count + 1")).Error
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
			return
		}

		wire := serializeMessage(msg)
		// The sender learns from the REST response; only recipients get
		// the push.
		hub.Broadcast(recipientIDs, gin.H{
			"event":   models.EventMessageCreated,
			"message": wire,
		})

		c.JSON(http.StatusOK, gin.H{"message": wire})
	}
}

func handleMarkRead(db *gorm.DB, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		conversationID := c.Param("id")

		if _, ok := findParticipant(db, conversationID, user.ID); !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Conversation not found"})
			return
		}

		var req struct {
			MessageID *string `json:"message_id"`
		}
		_ = c.ShouldBindJSON(&req)

		lastReadID := ""
		if req.MessageID != nil {
			lastReadID = *req.MessageID
		} else if last, err := lastMessage(db, conversationID); err == nil && last != nil {
			lastReadID = last.ID
		}

		now := time.Now().UTC()
		err := db.Transaction(func(tx *gorm.DB) error {
			updates := map[string]any{
				"unread_count": 0,
				"last_read_at": now,
			}
			if lastReadID != "" {
				updates["last_read_message_id"] = lastReadID
			}
			if err := tx.Model(&Participant{}).
				Where("conversation_id = ? AND user_id = ?", conversationID, user.ID).
				Updates(updates).Error; err != nil {
				return err
			}
			return tx.Model(&Message{}).
				Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, user.ID).
				UpdateColumn("read_at", now).Error
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
			return
		}

		var others []Participant
		if err := db.Where("conversation_id = ? AND user_id <> ?", conversationID, user.ID).
			Find(&others).Error; err == nil {
			otherIDs := make([]int, 0, len(others))
			for _, p := range others {
				otherIDs = append(otherIDs, p.UserID)
			}
			hub.Broadcast(otherIDs, gin.H{
				"event":           models.EventConversationRead,
				"conversation_id": conversationID,
				"user_id":         user.ID,
				"message_id":      lastReadID,
			})
		}

		c.JSON(http.StatusOK, models.ReadReceipt{
			ConversationID:    conversationID,
			LastReadMessageID: lastReadID,
			UnreadCount:       0,
			ReadAt:            now,
		})
	}
}

func handleWS(db *gorm.DB, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := userForToken(db, c.Query("token"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("chatserver: ws upgrade for user %d: %v", user.ID, err)
			return
		}

		// Confirm establishment before the hub can write to this
		// connection; gorilla connections allow only one writer.
		if err := conn.WriteJSON(gin.H{"event": models.EventConnectionEstablished}); err != nil {
			conn.Close()
			return
		}

		hub.Add(user.ID, conn)
		defer func() {
			hub.Remove(user.ID, conn)
			conn.Close()
		}()

		// Inbound frames are keepalive pings; drain until the peer goes
		// away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
