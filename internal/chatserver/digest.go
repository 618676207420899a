package chatserver

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/crewlink-app/crewlink/internal/notify"
	"gorm.io/gorm"
)

// UnreadDigest summarizes one user's stale unread messages for the
// notification sinks.
type UnreadDigest struct {
	UserID        int
	Name          string
	Email         string
	Conversations int
	Messages      int
}

// CollectDigests gathers, per user, the conversations whose unread
// messages have been sitting longer than minAge. Users who caught up, or
// whose unread messages are fresher than minAge, produce no digest.
func CollectDigests(db *gorm.DB, minAge time.Duration, now time.Time) ([]UnreadDigest, error) {
	var memberships []Participant
	if err := db.Where("unread_count > 0").Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("chatserver: collect digests: %w", err)
	}

	cutoff := now.Add(-minAge)
	byUser := make(map[int]*UnreadDigest)
	var order []int

	for _, membership := range memberships {
		var newest Message
		err := db.Where("conversation_id = ? AND sender_id <> ?", membership.ConversationID, membership.UserID).
			Order("created_at DESC, id DESC").Limit(1).First(&newest).Error
		if err != nil {
			continue
		}
		if newest.CreatedAt.After(cutoff) {
			// Still fresh; no nudge yet.
			continue
		}

		digest, ok := byUser[membership.UserID]
		if !ok {
			var user User
			if err := db.First(&user, membership.UserID).Error; err != nil {
				continue
			}
			digest = &UnreadDigest{UserID: user.ID, Name: user.Name, Email: user.Email}
			byUser[membership.UserID] = digest
			order = append(order, user.ID)
		}
		digest.Conversations++
		digest.Messages += membership.UnreadCount
	}

	out := make([]UnreadDigest, 0, len(order))
	for _, id := range order {
		out = append(out, *byUser[id])
	}
	return out, nil
}

// FormatDigests renders digests as one notification message.
func FormatDigests(digests []UnreadDigest) string {
	if len(digests) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Unread message digest:\n")
	for _, d := range digests {
		name := d.Name
		if name == "" {
			name = d.Email
		}
		fmt.Fprintf(&b, "- %s: %d unread in %d conversation(s)\n", name, d.Messages, d.Conversations)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RunDigest collects and delivers one digest round. Sink failures are
// logged, not returned; the digest is best-effort.
func RunDigest(ctx context.Context, db *gorm.DB, adapters []notify.Adapter, minAge time.Duration) error {
	digests, err := CollectDigests(db, minAge, time.Now().UTC())
	if err != nil {
		return err
	}
	text := FormatDigests(digests)
	if text == "" {
		return nil
	}
	for _, adapter := range adapters {
		if err := adapter.Send(ctx, text); err != nil {
			log.Printf("chatserver: digest via %s: %v", adapter.Name(), err)
		}
	}
	return nil
}

// StartDigest runs the digest job on a 5-field cron schedule until ctx is
// cancelled. An unparsable schedule is reported once and disables the job.
func StartDigest(ctx context.Context, db *gorm.DB, schedule string, minAge time.Duration, adapters []notify.Adapter) {
	go func() {
		for {
			wait := nextCronDuration(schedule)
			if wait == 0 {
				log.Printf("chatserver: digest schedule %q is invalid, digest disabled", schedule)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				if err := RunDigest(ctx, db, adapters, minAge); err != nil {
					log.Printf("chatserver: digest run: %v", err)
				}
			}
		}
	}()
}
