package chatserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crewlink-app/crewlink/internal/models"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	// One in-memory database per test.
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testUser(t *testing.T, db *gorm.DB, email, role, name string) User {
	t.Helper()
	user := User{
		Email:     email,
		Role:      role,
		Name:      name,
		APIToken:  "token-" + email,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return user
}

func testServer(t *testing.T, db *gorm.DB) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub()
	srv := httptest.NewServer(NewRouter(db, hub))
	t.Cleanup(srv.Close)
	return srv, hub
}

// doJSON issues one authenticated request and returns the status and
// decoded body.
func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, map[string]json.RawMessage) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]json.RawMessage
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, data, err)
		}
	}
	return resp.StatusCode, decoded
}

func detailOf(t *testing.T, body map[string]json.RawMessage) string {
	t.Helper()
	var detail string
	if raw, ok := body["detail"]; ok {
		json.Unmarshal(raw, &detail)
	}
	return detail
}

func createConversation(t *testing.T, srv *httptest.Server, token string, counterpartyID int) models.Conversation {
	t.Helper()
	status, body := doJSON(t, srv, http.MethodPost, "/chat/conversations", token,
		map[string]int{"counterparty_id": counterpartyID})
	if status != http.StatusOK {
		t.Fatalf("create conversation: status %d, detail %q", status, detailOf(t, body))
	}
	var conversation models.Conversation
	if err := json.Unmarshal(body["conversation"], &conversation); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	return conversation
}

func sendMessage(t *testing.T, srv *httptest.Server, token, conversationID, text string) models.Message {
	t.Helper()
	status, body := doJSON(t, srv, http.MethodPost, "/chat/conversations/"+conversationID+"/messages",
		token, map[string]string{"body": text})
	if status != http.StatusOK {
		t.Fatalf("send message: status %d, detail %q", status, detailOf(t, body))
	}
	var msg models.Message
	if err := json.Unmarshal(body["message"], &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func listConversations(t *testing.T, srv *httptest.Server, token string) []models.Conversation {
	t.Helper()
	status, body := doJSON(t, srv, http.MethodGet, "/chat/conversations", token, nil)
	if status != http.StatusOK {
		t.Fatalf("list conversations: status %d", status)
	}
	var conversations []models.Conversation
	if err := json.Unmarshal(body["conversations"], &conversations); err != nil {
		t.Fatalf("decode conversations: %v", err)
	}
	return conversations
}

// --- auth ---

func TestAuthRequired(t *testing.T) {
	db := testDB(t)
	srv, _ := testServer(t, db)

	status, body := doJSON(t, srv, http.MethodGet, "/chat/conversations", "", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", status)
	}
	if got := detailOf(t, body); got != "Not authenticated" {
		t.Errorf("detail = %q", got)
	}

	status, _ = doJSON(t, srv, http.MethodGet, "/chat/conversations", "bogus", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", status)
	}
}

func TestMe(t *testing.T) {
	db := testDB(t)
	user := testUser(t, db, "c@example.com", models.RoleContractor, "Casey")
	srv, _ := testServer(t, db)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/chat/me", nil)
	req.Header.Set("Authorization", "Bearer "+user.APIToken)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	defer resp.Body.Close()

	var profile models.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if profile.UserID != user.ID || profile.Role != models.RoleContractor || profile.Name != "Casey" {
		t.Errorf("profile = %+v", profile)
	}
}

// --- conversations ---

func TestCreateConversation_CreateOrGet(t *testing.T) {
	db := testDB(t)
	contractor := testUser(t, db, "c@example.com", models.RoleContractor, "Casey")
	sub := testUser(t, db, "s@example.com", models.RoleSubcontractor, "Sam")
	srv, _ := testServer(t, db)

	first := createConversation(t, srv, contractor.APIToken, sub.ID)
	if first.Type != models.ConversationTypeContractorSub {
		t.Errorf("type = %q", first.Type)
	}
	if first.Counterpart.UserID != sub.ID || first.Counterpart.Name != "Sam" {
		t.Errorf("counterpart = %+v", first.Counterpart)
	}

	// Same pair from either side resolves to the same conversation.
	again := createConversation(t, srv, contractor.APIToken, sub.ID)
	if again.ID != first.ID {
		t.Errorf("repeat create returned %s, want %s", again.ID, first.ID)
	}
	fromOtherSide := createConversation(t, srv, sub.APIToken, contractor.ID)
	if fromOtherSide.ID != first.ID {
		t.Errorf("reverse create returned %s, want %s", fromOtherSide.ID, first.ID)
	}
	if fromOtherSide.Counterpart.UserID != contractor.ID {
		t.Errorf("reverse counterpart = %+v", fromOtherSide.Counterpart)
	}

	var count int64
	db.Model(&Conversation{}).Count(&count)
	if count != 1 {
		t.Errorf("conversation rows = %d, want 1", count)
	}
}

func TestCreateConversation_Rejections(t *testing.T) {
	db := testDB(t)
	contractor := testUser(t, db, "c@example.com", models.RoleContractor, "Casey")
	otherContractor := testUser(t, db, "c2@example.com", models.RoleContractor, "Chris")
	homeowner := testUser(t, db, "h@example.com", models.RoleHomeowner, "Hana")
	srv, _ := testServer(t, db)

	cases := []struct {
		name           string
		counterpartyID int
		wantDetail     string
	}{
		{"self", contractor.ID, "Cannot chat with yourself"},
		{"unknown", 9999, "Counterparty not found"},
		{"same role", otherContractor.ID, "Conversations are only supported between contractors and subcontractors"},
		{"homeowner", homeowner.ID, "Conversations are only supported between contractors and subcontractors"},
		{"missing", 0, "counterparty_id is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := doJSON(t, srv, http.MethodPost, "/chat/conversations",
				contractor.APIToken, map[string]int{"counterparty_id": tc.counterpartyID})
			if status != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", status)
			}
			if got := detailOf(t, body); got != tc.wantDetail {
				t.Errorf("detail = %q, want %q", got, tc.wantDetail)
			}
		})
	}
}

func TestListConversations_NewestFirst(t *testing.T) {
	db := testDB(t)
	contractor := testUser(t, db, "c@example.com", models.RoleContractor, "Casey")
	sub1 := testUser(t, db, "s1@example.com", models.RoleSubcontractor, "Sam")
	sub2 := testUser(t, db, "s2@example.com", models.RoleSubcontractor, "Sky")
	srv, _ := testServer(t, db)

	c1 := createConversation(t, srv, contractor.APIToken, sub1.ID)
	c2 := createConversation(t, srv, contractor.APIToken, sub2.ID)

	// Activity in c1 moves it above the newer-but-quiet c2.
	sendMessage(t, srv, sub1.APIToken, c1.ID, "hello")

	got := listConversations(t, srv, contractor.APIToken)
	if len(got) != 2 {
		t.Fatalf("conversations = %d, want 2", len(got))
	}
	if got[0].ID != c1.ID || got[1].ID != c2.ID {
		t.Errorf("order = [%s %s], want [%s %s]", got[0].ID, got[1].ID, c1.ID, c2.ID)
	}
	if got[0].LastMessage == nil || got[0].LastMessage.Body != "hello" {
		t.Errorf("last message = %+v", got[0].LastMessage)
	}
	if got[0].UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", got[0].UnreadCount)
	}
}

// --- messages ---

func TestSendMessage_Validation(t *testing.T) {
	db := testDB(t)
	contractor := testUser(t, db, "c@example.com", models.RoleContractor, "Casey")
	sub := testUser(t, db, "s@example.com", models.RoleSubcontractor, "Sam")
	outsider := testUser(t, db, "o@example.com", models.RoleSubcontractor, "Out")
	srv, _ := testServer(t, db)
	conv := createConversation(t, srv, contractor.APIToken, sub.ID)

	path := "/chat/conversations/" + conv.ID + "/messages"

	status, body := doJSON(t, srv, http.MethodPost, path, contractor.APIToken, map[string]string{"body": "   "})
	if status != http.StatusBadRequest || detailOf(t, body) != "Message body cannot be empty" {
		t.Errorf("blank body: status %d detail %q", status, detailOf(t, body))
	}

	status, body = doJSON(t, srv, http.MethodPost, path, contractor.APIToken,
		map[string]string{"body": strings.Repeat("x", maxBodyLen+1)})
	if status != http.StatusBadRequest || detailOf(t, body) != "Message body is too long" {
		t.Errorf("oversize body: status %d detail %q", status, detailOf(t, body))
	}

	// Non-participants see a 404, not a 403.
	status, body = doJSON(t, srv, http.MethodPost, path, outsider.APIToken, map[string]string{"body": "hi"})
	if status != http.StatusNotFound || detailOf(t, body) != "Conversation not found" {
		t.Errorf("outsider: status %d detail %q", status, detailOf(t, body))
	}
}

func TestSendMessage_BumpsRecipientUnread(t *testing.T) {
	db := testDB(t)
	contractor := testUser(t, db, "c@example.com", models.RoleContractor, "Casey")
	sub := testUser(t, db, "s@example.com", models.RoleSubcontractor, "Sam")
	srv, _ := testServer(t, db)
	conv := createConversation(t, srv, contractor.APIToken, sub.ID)

	msg := sendMessage(t, srv, contractor.APIToken, conv.ID, "  trimmed  ")
	if msg.Body != "trimmed" {
		t.Errorf("body = %q, want trimmed", msg.Body)
	}
	if msg.SenderID != contractor.ID || msg.ContentType != models.ContentTypeText {
		t.Errorf("message = %+v", msg)
	}
	sendMessage(t, srv, contractor.APIToken, conv.ID, "second")

	subView := listConversations(t, srv, sub.APIToken)
	if len(subView) != 1 || subView[0].UnreadCount != 2 {
		t.Fatalf("sub unread = %+v, want 2", subView)
	}
	// The sender's own counter is untouched.
	contractorView := listConversations(t, srv, contractor.APIToken)
	if contractorView[0].UnreadCount != 0 {
		t.Errorf("sender unread = %d, want 0", contractorView[0].UnreadCount)
	}
}

func TestListMessages_ThreePagePagination(t *testing.T) {
	db := testDB(t)
	contractor := testUser(t, db, "c@example.com", models.RoleContractor, "Casey")
	sub := testUser(t, db, "s@example.com", models.RoleSubcontractor, "Sam")
	srv, _ := testServer(t, db)
	conv := createConversation(t, srv, contractor.APIToken, sub.ID)

	// 120 messages with strictly increasing timestamps.
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 120; i++ {
		row := Message{
			ID:             fmt.Sprintf("%03d-%s", i, uuid.NewString()),
			ConversationID: conv.ID,
			SenderID:       sub.ID,
			Body:           fmt.Sprintf("message %d", i),
			ContentType:    models.ContentTypeText,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("insert message %d: %v", i, err)
		}
	}

	fetchPage := func(beforeID string) models.MessagePage {
		t.Helper()
		path := "/chat/conversations/" + conv.ID + "/messages?limit=50"
		if beforeID != "" {
			path += "&before_id=" + beforeID
		}
		status, body := doJSON(t, srv, http.MethodGet, path, contractor.APIToken, nil)
		if status != http.StatusOK {
			t.Fatalf("list messages: status %d", status)
		}
		var page models.MessagePage
		var messages []models.Message
		json.Unmarshal(body["messages"], &messages)
		json.Unmarshal(body["has_more"], &page.HasMore)
		page.Messages = messages
		return page
	}

	page1 := fetchPage("")
	if len(page1.Messages) != 50 || !page1.HasMore {
		t.Fatalf("page 1: %d messages, has_more %v", len(page1.Messages), page1.HasMore)
	}
	if page1.Messages[0].Body != "message 71" || page1.Messages[49].Body != "message 120" {
		t.Errorf("page 1 spans %q..%q, want message 71..message 120",
			page1.Messages[0].Body, page1.Messages[49].Body)
	}

	page2 := fetchPage(page1.Messages[0].ID)
	if len(page2.Messages) != 50 || !page2.HasMore {
		t.Fatalf("page 2: %d messages, has_more %v", len(page2.Messages), page2.HasMore)
	}
	if page2.Messages[0].Body != "message 21" || page2.Messages[49].Body != "message 70" {
		t.Errorf("page 2 spans %q..%q, want message 21..message 70",
			page2.Messages[0].Body, page2.Messages[49].Body)
	}

	page3 := fetchPage(page2.Messages[0].ID)
	if len(page3.Messages) != 20 || page3.HasMore {
		t.Fatalf("page 3: %d messages, has_more %v", len(page3.Messages), page3.HasMore)
	}
	if page3.Messages[0].Body != "message 1" || page3.Messages[19].Body != "message 20" {
		t.Errorf("page 3 spans %q..%q, want message 1..message 20",
			page3.Messages[0].Body, page3.Messages[19].Body)
	}

	// Each page is ascending by created_at with no overlaps.
	seen := make(map[string]bool)
	for _, page := range []models.MessagePage{page1, page2, page3} {
		for i, m := range page.Messages {
			if seen[m.ID] {
				t.Fatalf("message %s appears in two pages", m.ID)
			}
			seen[m.ID] = true
			if i > 0 && m.CreatedAt.Before(page.Messages[i-1].CreatedAt) {
				t.Fatalf("page not ascending at %s", m.ID)
			}
		}
	}
	if len(seen) != 120 {
		t.Errorf("unique messages = %d, want 120", len(seen))
	}
}

func TestListMessages_Errors(t *testing.T) {
	db := testDB(t)
	contractor := testUser(t, db, "c@example.com", models.RoleContractor, "Casey")
	sub := testUser(t, db, "s@example.com", models.RoleSubcontractor, "Sam")
	outsider := testUser(t, db, "o@example.com", models.RoleSubcontractor, "Out")
	srv, _ := testServer(t, db)
	conv := createConversation(t, srv, contractor.APIToken, sub.ID)

	status, body := doJSON(t, srv, http.MethodGet,
		"/chat/conversations/"+conv.ID+"/messages", outsider.APIToken, nil)
	if status != http.StatusNotFound || detailOf(t, body) != "Conversation not found" {
		t.Errorf("outsider: status %d detail %q", status, detailOf(t, body))
	}

	status, body = doJSON(t, srv, http.MethodGet,
		"/chat/conversations/"+conv.ID+"/messages?before_id=nope", contractor.APIToken, nil)
	if status != http.StatusNotFound || detailOf(t, body) != "Message not found" {
		t.Errorf("bad before_id: status %d detail %q", status, detailOf(t, body))
	}
}

// --- read receipts ---

func TestMarkRead(t *testing.T) {
	db := testDB(t)
	contractor := testUser(t, db, "c@example.com", models.RoleContractor, "Casey")
	sub := testUser(t, db, "s@example.com", models.RoleSubcontractor, "Sam")
	srv, _ := testServer(t, db)
	conv := createConversation(t, srv, contractor.APIToken, sub.ID)

	sendMessage(t, srv, contractor.APIToken, conv.ID, "one")
	last := sendMessage(t, srv, contractor.APIToken, conv.ID, "two")

	// Empty body acknowledges up to the newest message.
	status, body := doJSON(t, srv, http.MethodPost,
		"/chat/conversations/"+conv.ID+"/read", sub.APIToken, map[string]any{})
	if status != http.StatusOK {
		t.Fatalf("mark read: status %d", status)
	}
	var receipt models.ReadReceipt
	data, _ := json.Marshal(body)
	json.Unmarshal(data, &receipt)
	if receipt.ConversationID != conv.ID || receipt.LastReadMessageID != last.ID || receipt.UnreadCount != 0 {
		t.Errorf("receipt = %+v", receipt)
	}

	if got := listConversations(t, srv, sub.APIToken); got[0].UnreadCount != 0 {
		t.Errorf("unread after read = %d, want 0", got[0].UnreadCount)
	}

	// The counterpart's messages now carry read_at.
	var rows []Message
	db.Where("conversation_id = ? AND sender_id = ?", conv.ID, contractor.ID).Find(&rows)
	for _, row := range rows {
		if row.ReadAt == nil {
			t.Errorf("message %s has no read_at", row.ID)
		}
	}
}
