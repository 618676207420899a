package chatserver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/crewlink-app/crewlink/internal/models"
	"github.com/crewlink-app/crewlink/internal/notify"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type recordingAdapter struct {
	name string
	sent []string
	err  error
}

func (a *recordingAdapter) Name() string { return a.name }

func (a *recordingAdapter) Send(ctx context.Context, text string) error {
	if a.err != nil {
		return a.err
	}
	a.sent = append(a.sent, text)
	return nil
}

// seedUnread creates a conversation between two users with n unread
// messages for the recipient, the newest created at newestAt.
func seedUnread(t *testing.T, db *gorm.DB, sender, recipient User, n int, newestAt time.Time) string {
	t.Helper()
	conv := Conversation{ID: uuid.NewString(), Type: models.ConversationTypeContractorSub, CreatedAt: newestAt.Add(-time.Hour)}
	if err := db.Create(&conv).Error; err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	participants := []Participant{
		{ConversationID: conv.ID, UserID: sender.ID, Role: sender.Role, JoinedAt: conv.CreatedAt},
		{ConversationID: conv.ID, UserID: recipient.ID, Role: recipient.Role, UnreadCount: n, JoinedAt: conv.CreatedAt},
	}
	if err := db.Create(&participants).Error; err != nil {
		t.Fatalf("create participants: %v", err)
	}
	for i := 0; i < n; i++ {
		msg := Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			SenderID:       sender.ID,
			Body:           fmt.Sprintf("unread %d", i+1),
			ContentType:    models.ContentTypeText,
			CreatedAt:      newestAt.Add(-time.Duration(n-1-i) * time.Minute),
		}
		if err := db.Create(&msg).Error; err != nil {
			t.Fatalf("create message: %v", err)
		}
	}
	return conv.ID
}

func TestCollectDigests(t *testing.T) {
	db := testDB(t)
	contractor := testUser(t, db, "c@example.com", models.RoleContractor, "Casey")
	staleSub := testUser(t, db, "stale@example.com", models.RoleSubcontractor, "Sam")
	freshSub := testUser(t, db, "fresh@example.com", models.RoleSubcontractor, "Sky")
	caughtUp := testUser(t, db, "done@example.com", models.RoleSubcontractor, "Drew")

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	minAge := 30 * time.Minute

	// Stale: newest unread is an hour old.
	seedUnread(t, db, contractor, staleSub, 3, now.Add(-time.Hour))
	// Fresh: newest unread is five minutes old, no nudge yet.
	seedUnread(t, db, contractor, freshSub, 2, now.Add(-5*time.Minute))
	// Caught up: zero unread.
	seedUnread(t, db, contractor, caughtUp, 0, now.Add(-2*time.Hour))

	digests, err := CollectDigests(db, minAge, now)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(digests) != 1 {
		t.Fatalf("digests = %+v, want exactly the stale user", digests)
	}
	d := digests[0]
	if d.UserID != staleSub.ID || d.Conversations != 1 || d.Messages != 3 {
		t.Errorf("digest = %+v", d)
	}
}

func TestCollectDigests_MultipleConversations(t *testing.T) {
	db := testDB(t)
	c1 := testUser(t, db, "c1@example.com", models.RoleContractor, "Casey")
	c2 := testUser(t, db, "c2@example.com", models.RoleContractor, "Chris")
	sub := testUser(t, db, "s@example.com", models.RoleSubcontractor, "Sam")

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seedUnread(t, db, c1, sub, 2, now.Add(-time.Hour))
	seedUnread(t, db, c2, sub, 5, now.Add(-2*time.Hour))

	digests, err := CollectDigests(db, 30*time.Minute, now)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(digests) != 1 {
		t.Fatalf("digests = %+v, want one entry for the shared user", digests)
	}
	if digests[0].Conversations != 2 || digests[0].Messages != 7 {
		t.Errorf("digest = %+v, want 7 unread across 2 conversations", digests[0])
	}
}

func TestFormatDigests(t *testing.T) {
	if got := FormatDigests(nil); got != "" {
		t.Errorf("empty digests formatted to %q", got)
	}

	got := FormatDigests([]UnreadDigest{
		{UserID: 1, Name: "Sam", Messages: 3, Conversations: 1},
		{UserID: 2, Email: "sky@example.com", Messages: 7, Conversations: 2},
	})
	want := "Unread message digest:\n" +
		"- Sam: 3 unread in 1 conversation(s)\n" +
		"- sky@example.com: 7 unread in 2 conversation(s)"
	if got != want {
		t.Errorf("formatted = %q, want %q", got, want)
	}
}

func TestRunDigest(t *testing.T) {
	db := testDB(t)
	contractor := testUser(t, db, "c@example.com", models.RoleContractor, "Casey")
	sub := testUser(t, db, "s@example.com", models.RoleSubcontractor, "Sam")

	now := time.Now().UTC()
	seedUnread(t, db, contractor, sub, 2, now.Add(-time.Hour))

	good := &recordingAdapter{name: "good"}
	broken := &recordingAdapter{name: "broken", err: fmt.Errorf("rate limited")}
	if err := RunDigest(context.Background(), db, []notify.Adapter{broken, good}, 30*time.Minute); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(good.sent) != 1 {
		t.Fatalf("good adapter sent %d messages, want 1", len(good.sent))
	}
	// A broken sink never blocks the others.
}

func TestRunDigest_NothingToSend(t *testing.T) {
	db := testDB(t)
	adapter := &recordingAdapter{name: "quiet"}
	if err := RunDigest(context.Background(), db, []notify.Adapter{adapter}, 30*time.Minute); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(adapter.sent) != 0 {
		t.Errorf("sent = %v, want nothing", adapter.sent)
	}
}

func TestNextCronDuration(t *testing.T) {
	if got := nextCronDuration("not a cron expr"); got != 0 {
		t.Errorf("invalid expression = %v, want 0", got)
	}
	got := nextCronDuration("* * * * *")
	if got <= 0 || got > time.Minute {
		t.Errorf("every-minute schedule = %v, want (0, 1m]", got)
	}
}

func TestSeedUser(t *testing.T) {
	db := testDB(t)
	first, err := SeedUser(db, "demo@example.com", models.RoleContractor, "Demo")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(first.APIToken) != 48 {
		t.Errorf("token length = %d, want 48 hex chars", len(first.APIToken))
	}

	// Seeding again returns the existing user with the same token.
	again, err := SeedUser(db, "demo@example.com", models.RoleContractor, "Demo")
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if again.ID != first.ID || again.APIToken != first.APIToken {
		t.Errorf("reseed = %+v, want the original user", again)
	}
}
