// Package store is the client-side reconciliation engine for the chat
// subsystem. It holds the one authoritative local view: the ordered
// conversation list, the active conversation's message list, unread
// counters, and pending outreach drafts. REST responses and push events
// both funnel through the store and are merged with idempotent dedup rules,
// so the final state is the same regardless of arrival order.
package store

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"

	"github.com/crewlink-app/crewlink/internal/models"
)

// DefaultPageSize is the message-history page size used by Select and
// LoadOlder.
const DefaultPageSize = 50

// Transport is the REST surface the store drives. *chatapi.Client
// satisfies it.
type Transport interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, counterpartyID int) (models.Conversation, error)
	ListMessages(ctx context.Context, conversationID, beforeID string, limit int) (models.MessagePage, error)
	SendMessage(ctx context.Context, conversationID, body string) (models.Message, error)
	MarkRead(ctx context.Context, conversationID, messageID string) (models.ReadReceipt, error)
}

// Opts holds parameters for creating a Store.
type Opts struct {
	Transport Transport
	// ViewerID is the authenticated user's own id, used to tell own
	// messages from counterpart messages.
	ViewerID int
	// PageSize defaults to DefaultPageSize.
	PageSize int
}

// Store is the conversation state machine. All methods are safe for
// concurrent use; transport calls are made outside the lock and their
// results re-validated against the current selection before merging.
type Store struct {
	transport Transport
	viewerID  int
	pageSize  int

	mu            sync.Mutex
	seeded        bool
	conversations []models.Conversation

	// Active conversation view.
	activeID   string
	selection  uint64 // generation guard for in-flight history fetches
	messages   []models.Message
	messageIDs map[string]bool
	hasMore    bool

	// Outreach drafts keyed by counterpart id, and the in-flight set
	// keyed by (conversation id, counterpart id) that makes flushing
	// exactly-once under concurrent triggers.
	drafts           map[int]string
	outreachInFlight map[string]bool

	subs    map[int]func()
	nextSub int
}

// New creates a Store.
func New(opts Opts) (*Store, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("store: transport is required")
	}
	if opts.ViewerID <= 0 {
		return nil, fmt.Errorf("store: viewer id is required")
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Store{
		transport:        opts.Transport,
		viewerID:         opts.ViewerID,
		pageSize:         pageSize,
		messageIDs:       make(map[string]bool),
		drafts:           make(map[int]string),
		outreachInFlight: make(map[string]bool),
		subs:             make(map[int]func()),
	}, nil
}

// Subscribe registers fn to run after every state change. The returned
// cancel func removes the subscription.
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// notify runs all subscribers. Never called with the lock held.
func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Conversations returns a copy of the conversation list, sorted descending
// by updated_at.
func (s *Store) Conversations() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// ActiveConversationID returns the currently selected conversation id, or
// empty when none is selected.
func (s *Store) ActiveConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Messages returns a copy of the active conversation's loaded messages,
// ascending by created_at.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// HasMore reports whether an older history page exists for the active
// conversation.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// RefreshConversations replaces the conversation list wholesale from the
// server and re-applies the descending sort. The first successful refresh
// seeds the store; push events arriving before that are ignored.
func (s *Store) RefreshConversations(ctx context.Context) error {
	conversations, err := s.transport.ListConversations(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conversations = conversations
	s.sortConversationsLocked()
	s.seeded = true
	s.mu.Unlock()
	s.notify()
	return nil
}

// Select makes conversationID the active conversation: clears the loaded
// message list, fetches the newest history page, then acknowledges it with
// a read receipt and zeroes the local unread counter. A Select that is
// superseded before its fetch resolves discards the stale result.
func (s *Store) Select(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("store: conversation id is required")
	}

	s.mu.Lock()
	s.selection++
	generation := s.selection
	s.activeID = conversationID
	s.messages = nil
	s.messageIDs = make(map[string]bool)
	s.hasMore = false
	s.mu.Unlock()
	s.notify()

	page, err := s.transport.ListMessages(ctx, conversationID, "", s.pageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.selection != generation {
		// A different conversation was selected while the fetch was in
		// flight; this result is stale.
		s.mu.Unlock()
		return nil
	}
	for _, m := range page.Messages {
		s.insertMessageLocked(m)
	}
	s.hasMore = page.HasMore
	lastID := ""
	if len(s.messages) > 0 {
		lastID = s.messages[len(s.messages)-1].ID
	}
	s.mu.Unlock()
	s.notify()

	if lastID != "" {
		s.markRead(ctx, conversationID, lastID)
	}
	return nil
}

// markRead issues a best-effort read receipt and zeroes the conversation's
// local unread counter. Receipt failures are logged and swallowed: an
// unread badge lagging by one message is acceptable, a crashed message
// list is not.
func (s *Store) markRead(ctx context.Context, conversationID, messageID string) {
	if _, err := s.transport.MarkRead(ctx, conversationID, messageID); err != nil {
		log.Printf("store: mark read %s: %v", conversationID, err)
	}
	s.mu.Lock()
	s.zeroUnreadLocked(conversationID)
	s.mu.Unlock()
	s.notify()
}

// LoadOlder prepends the page of messages strictly older than the current
// oldest loaded message. No-op when the history is exhausted or no
// conversation is active.
func (s *Store) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if s.activeID == "" || !s.hasMore || len(s.messages) == 0 {
		s.mu.Unlock()
		return nil
	}
	generation := s.selection
	conversationID := s.activeID
	oldestID := s.messages[0].ID
	s.mu.Unlock()

	page, err := s.transport.ListMessages(ctx, conversationID, oldestID, s.pageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.selection != generation {
		s.mu.Unlock()
		return nil
	}
	for _, m := range page.Messages {
		s.insertMessageLocked(m)
	}
	s.hasMore = page.HasMore
	s.mu.Unlock()
	s.notify()
	return nil
}

// Send posts body to the active conversation and merges the server's copy
// optimistically: the REST response is authoritative for the sender's own
// view, and the later pushed copy deduplicates against it.
func (s *Store) Send(ctx context.Context, body string) (models.Message, error) {
	s.mu.Lock()
	conversationID := s.activeID
	s.mu.Unlock()
	if conversationID == "" {
		return models.Message{}, fmt.Errorf("store: no active conversation")
	}
	return s.sendTo(ctx, conversationID, body)
}

// sendTo posts body to conversationID and applies the response.
func (s *Store) sendTo(ctx context.Context, conversationID, body string) (models.Message, error) {
	msg, err := s.transport.SendMessage(ctx, conversationID, body)
	if err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	if s.activeID == conversationID {
		s.insertMessageLocked(msg)
	}
	s.applyLastMessageLocked(msg, true)
	s.mu.Unlock()
	s.notify()
	return msg, nil
}

// insertMessageLocked adds m to the active message list in sorted position
// unless its id is already present. Returns whether it was inserted.
// Caller must hold mu.
func (s *Store) insertMessageLocked(m models.Message) bool {
	if s.messageIDs[m.ID] {
		return false
	}
	s.messageIDs[m.ID] = true
	at := sort.Search(len(s.messages), func(i int) bool {
		return m.Before(s.messages[i])
	})
	s.messages = append(s.messages, models.Message{})
	copy(s.messages[at+1:], s.messages[at:])
	s.messages[at] = m
	return true
}

// applyLastMessageLocked updates the summary entry for m's conversation:
// last_message, updated_at, unread counter, and re-sorts the list. own
// marks the viewer's own send, which always leaves the counter at zero.
// Caller must hold mu.
func (s *Store) applyLastMessageLocked(m models.Message, own bool) {
	for i := range s.conversations {
		c := &s.conversations[i]
		if c.ID != m.ConversationID {
			continue
		}
		if c.LastMessage == nil || c.LastMessage.Before(m) {
			copied := m
			c.LastMessage = &copied
		}
		if m.CreatedAt.After(c.UpdatedAt) {
			c.UpdatedAt = m.CreatedAt
		}
		switch {
		case own, s.activeID == m.ConversationID:
			c.UnreadCount = 0
		case m.SenderID != s.viewerID:
			c.UnreadCount++
		}
		s.sortConversationsLocked()
		return
	}
}

// zeroUnreadLocked clears the unread counter for conversationID. Caller
// must hold mu.
func (s *Store) zeroUnreadLocked(conversationID string) {
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			s.conversations[i].UnreadCount = 0
			return
		}
	}
}

// sortConversationsLocked re-applies the descending updated_at order, ties
// broken by id for determinism. Caller must hold mu.
func (s *Store) sortConversationsLocked() {
	sort.SliceStable(s.conversations, func(i, j int) bool {
		a, b := s.conversations[i], s.conversations[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}

// HandleEvent merges one pushed event into the store. Events arriving
// before the first successful RefreshConversations are ignored. The merge
// is commutative with the REST paths: applying the same logical change via
// either path, or both, yields the same state.
func (s *Store) HandleEvent(ctx context.Context, ev models.ChatEvent) {
	switch ev.Event {
	case models.EventConnectionEstablished:
		return
	case models.EventMessageCreated:
		s.handleMessageCreated(ctx, *ev.Message)
	case models.EventConversationCreated:
		s.handleConversationCreated(*ev.Conversation)
	case models.EventConversationRead:
		s.mu.Lock()
		if !s.seeded {
			s.mu.Unlock()
			return
		}
		s.zeroUnreadLocked(ev.ConversationID)
		s.mu.Unlock()
		s.notify()
	}
}

func (s *Store) handleMessageCreated(ctx context.Context, m models.Message) {
	s.mu.Lock()
	if !s.seeded {
		s.mu.Unlock()
		return
	}
	active := s.activeID == m.ConversationID
	if active {
		s.insertMessageLocked(m)
	}
	s.applyLastMessageLocked(m, m.SenderID == s.viewerID)
	needReceipt := active && m.SenderID != s.viewerID
	s.mu.Unlock()
	s.notify()

	// The viewer is looking at this conversation, so acknowledge the
	// counterpart's message immediately.
	if needReceipt {
		s.markRead(ctx, m.ConversationID, m.ID)
	}
}

func (s *Store) handleConversationCreated(c models.Conversation) {
	s.mu.Lock()
	if !s.seeded {
		s.mu.Unlock()
		return
	}
	s.upsertConversationLocked(c)
	s.mu.Unlock()
	s.notify()
}

// upsertConversationLocked merges c into the list: replaces the entry with
// the same id if present (the local create call and the pushed event can
// arrive in either order), else appends. Caller must hold mu.
func (s *Store) upsertConversationLocked(c models.Conversation) {
	for i := range s.conversations {
		if s.conversations[i].ID == c.ID {
			// Keep the higher unread count; a pushed message may have
			// incremented it while this copy was in flight.
			if s.conversations[i].UnreadCount > c.UnreadCount {
				c.UnreadCount = s.conversations[i].UnreadCount
			}
			s.conversations[i] = c
			s.sortConversationsLocked()
			return
		}
	}
	s.conversations = append(s.conversations, c)
	s.sortConversationsLocked()
}

// outreachKey builds the in-flight set key for a (conversation,
// counterpart) pair.
func outreachKey(conversationID string, counterpartID int) string {
	return conversationID + "|" + strconv.Itoa(counterpartID)
}
