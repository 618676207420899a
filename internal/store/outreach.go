package store

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/crewlink-app/crewlink/internal/card"
	"github.com/crewlink-app/crewlink/internal/models"
)

// OutreachMaxRunes caps plain-text outreach drafts. Embedded cards are
// exempt; they are structured payloads bounded by the server's body limit.
const OutreachMaxRunes = 200

// QueueOutreach stores a draft message for a counterpart the viewer has no
// conversation with yet. The draft is sent exactly once, by the first
// EnsureConversation call that confirms a conversation exists, and then
// deleted.
func (s *Store) QueueOutreach(counterpartID int, body string) error {
	if counterpartID <= 0 {
		return fmt.Errorf("store: counterpart id is required")
	}
	if body == "" {
		return fmt.Errorf("store: outreach body is required")
	}
	if card.Detect(body) == card.KindNone && utf8.RuneCountInString(body) > OutreachMaxRunes {
		return fmt.Errorf("store: outreach body exceeds %d characters", OutreachMaxRunes)
	}

	s.mu.Lock()
	s.drafts[counterpartID] = body
	s.mu.Unlock()
	return nil
}

// Draft returns the queued outreach draft for counterpartID, if any.
func (s *Store) Draft(counterpartID int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.drafts[counterpartID]
	return body, ok
}

// EnsureConversation returns the conversation with counterpartID, creating
// it if none exists, and flushes any queued outreach draft for that
// counterpart exactly once. Safe to call from multiple near-simultaneous
// triggers for the same transition: the in-flight set guarantees at most
// one send, and the draft is deleted only after that send succeeds.
func (s *Store) EnsureConversation(ctx context.Context, counterpartID int) (models.Conversation, error) {
	if counterpartID <= 0 {
		return models.Conversation{}, fmt.Errorf("store: counterpart id is required")
	}

	s.mu.Lock()
	var conversation models.Conversation
	found := false
	for _, c := range s.conversations {
		if c.Counterpart.UserID == counterpartID {
			conversation = c
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		created, err := s.transport.CreateConversation(ctx, counterpartID)
		if err != nil {
			return models.Conversation{}, err
		}
		conversation = created

		s.mu.Lock()
		s.upsertConversationLocked(created)
		s.mu.Unlock()
		s.notify()
	}

	if err := s.flushDraft(ctx, conversation.ID, counterpartID); err != nil {
		return conversation, err
	}
	return conversation, nil
}

// flushDraft sends the queued draft for counterpartID over conversationID
// at most once. A failed send leaves the draft in place for a later retry;
// a successful send deletes it so an already-delivered outreach is never
// resent.
func (s *Store) flushDraft(ctx context.Context, conversationID string, counterpartID int) error {
	key := outreachKey(conversationID, counterpartID)

	s.mu.Lock()
	body, ok := s.drafts[counterpartID]
	if !ok || s.outreachInFlight[key] {
		s.mu.Unlock()
		return nil
	}
	s.outreachInFlight[key] = true
	s.mu.Unlock()

	_, err := s.sendTo(ctx, conversationID, body)

	s.mu.Lock()
	delete(s.outreachInFlight, key)
	if err == nil {
		delete(s.drafts, counterpartID)
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("store: outreach to %d: %w", counterpartID, err)
	}
	return nil
}
