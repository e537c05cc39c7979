package projection

import (
	"clinic-chat/contract"
	"clinic-chat/domain"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Directory is the conversation list of the session with unread counts and
// last-message previews, most recent activity first.
type Directory struct {
	log            *slog.Logger
	api            contract.ConversationAPI
	refreshTimeout time.Duration

	mu            sync.Mutex
	notifyMu      sync.Mutex
	selfID        string
	activeID      string
	conversations []domain.Conversation
	generation    uint64
	applied       uint64
	refreshes     chan struct{}
	updates       listeners[[]domain.Conversation]
}

func NewDirectory(log *slog.Logger, api contract.ConversationAPI, refreshTimeout time.Duration) *Directory {
	if refreshTimeout <= 0 {
		refreshTimeout = 10 * time.Second
	}
	return &Directory{
		log:            log,
		api:            api,
		refreshTimeout: refreshTimeout,
		refreshes:      make(chan struct{}, 1),
	}
}

// Reset empties the directory for the session of selfID.
func (d *Directory) Reset(selfID string) {
	d.mu.Lock()
	d.generation++
	d.applied = d.generation
	d.selfID = selfID
	d.activeID = ""
	d.conversations = nil
	d.publish()
}

// Refresh replaces the list with the backend's. On failure the previous
// list is kept. When refreshes overlap a response is applied only if no
// later request has been applied already, so a failing newer refresh never
// hides an older successful one.
func (d *Directory) Refresh(ctx context.Context, userID string) error {
	d.mu.Lock()
	d.generation++
	generation := d.generation
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.refreshTimeout)
	defer cancel()
	conversations, err := d.api.ListConversations(ctx, userID)
	if err != nil {
		d.log.Warn("Conversation refresh failed, keeping previous list", "user_id", userID, "error", err)
		return fmt.Errorf("refreshing conversations of %s: %w", userID, err)
	}

	d.mu.Lock()
	if generation <= d.applied {
		d.mu.Unlock()
		d.log.Debug("Discarding stale conversation list", "user_id", userID)
		return nil
	}
	d.applied = generation
	fresh := append([]domain.Conversation(nil), conversations...)
	domain.SortByRecentActivity(fresh)
	d.conversations = fresh
	d.log.Debug("Conversations refreshed", "user_id", userID, "count", len(fresh))
	d.publish()
	return nil
}

// MarkRead tells the backend the conversation is read, then zeroes its
// local unread count.
func (d *Directory) MarkRead(ctx context.Context, conversationID, userID string) error {
	if err := d.api.MarkRead(ctx, conversationID, userID); err != nil {
		d.log.Warn("Mark read failed", "conversation_id", conversationID, "error", err)
		return fmt.Errorf("marking %s read: %w", conversationID, err)
	}
	d.mu.Lock()
	_, i, ok := lo.FindIndexOf(d.conversations, func(c domain.Conversation) bool {
		return c.ID == conversationID
	})
	if !ok || d.conversations[i].UnreadCount == 0 {
		d.mu.Unlock()
		return nil
	}
	d.conversations[i].UnreadCount = 0
	d.publish()
	return nil
}

// SetActive marks the conversation currently shown, which does not
// accumulate unread messages. An empty id clears it.
func (d *Directory) SetActive(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activeID = conversationID
}

// Observe applies a pushed message to the list.
// A message of a conversation not in the list requests a refresh instead,
// the conversation metadata is not derivable from the message.
// It returns the conversation the message belongs to, if known.
func (d *Directory) Observe(message domain.Message) (domain.Conversation, bool) {
	d.mu.Lock()
	if d.selfID == "" || (message.SenderID != d.selfID && message.RecipientID != d.selfID) {
		d.mu.Unlock()
		return domain.Conversation{}, false
	}
	i := d.indexOf(message)
	if i < 0 {
		d.mu.Unlock()
		d.log.Info("Message for unknown conversation, refreshing list", "sender_id", message.SenderID)
		d.RequestRefresh()
		return domain.Conversation{}, false
	}

	conversation := &d.conversations[i]
	touched := conversation.Touch(message)
	if message.SenderID != d.selfID && conversation.ID != d.activeID {
		conversation.UnreadCount++
	}
	known := *conversation
	if touched {
		domain.SortByRecentActivity(d.conversations)
	}
	d.publish()
	return known, true
}

// indexOf finds the conversation of message, by id when the hub sent one,
// otherwise by counterpart. Caller holds mu.
func (d *Directory) indexOf(message domain.Message) int {
	if message.ConversationID != "" {
		_, i, ok := lo.FindIndexOf(d.conversations, func(c domain.Conversation) bool {
			return c.ID == message.ConversationID
		})
		if ok {
			return i
		}
	}
	counterpartID := message.CounterpartOf(d.selfID)
	_, i, _ := lo.FindIndexOf(d.conversations, func(c domain.Conversation) bool {
		return c.Counterpart.ID == counterpartID
	})
	return i
}

// RequestRefresh schedules a refresh without blocking.
// Requests made while one is already pending are coalesced.
func (d *Directory) RequestRefresh() {
	select {
	case d.refreshes <- struct{}{}:
	default:
	}
}

// RefreshRequests is consumed by the worker performing scheduled refreshes.
func (d *Directory) RefreshRequests() <-chan struct{} {
	return d.refreshes
}

// Conversations returns a copy of the ordered list.
func (d *Directory) Conversations() []domain.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Conversation(nil), d.conversations...)
}

// Lookup returns the conversation with the given id.
func (d *Directory) Lookup(conversationID string) (domain.Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lo.Find(d.conversations, func(c domain.Conversation) bool {
		return c.ID == conversationID
	})
}

func (d *Directory) OnUpdate(handler func([]domain.Conversation)) func() {
	return d.updates.add(handler)
}

// publish releases mu and notifies the listeners in change order.
func (d *Directory) publish() {
	snapshot := append([]domain.Conversation(nil), d.conversations...)
	d.notifyMu.Lock()
	d.mu.Unlock()
	defer d.notifyMu.Unlock()
	d.updates.emit(snapshot)
}
