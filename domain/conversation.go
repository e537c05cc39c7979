package domain

import (
	"sort"
	"time"
)

type Counterpart struct {
	ID    string
	Name  string
	Email string
}

type LastMessage struct {
	Content string
	SentAt  time.Time
}

// Conversation is the thread between one patient and one doctor,
// seen from the current user. IDs are assigned by the server only.
type Conversation struct {
	ID          string
	Counterpart Counterpart
	LastMessage *LastMessage
	UnreadCount int
}

// Touch records message as the latest activity when it is newer than the
// current preview. It reports whether the preview changed.
func (c *Conversation) Touch(message Message) bool {
	if c.LastMessage != nil && message.SentAt.Before(c.LastMessage.SentAt) {
		return false
	}
	c.LastMessage = &LastMessage{Content: message.Content, SentAt: message.SentAt}
	return true
}

func (c Conversation) lastActivity() (time.Time, bool) {
	if c.LastMessage == nil {
		return time.Time{}, false
	}
	return c.LastMessage.SentAt, true
}

// SortByRecentActivity orders conversations most recent first.
// Conversations without any message go last, ties are broken by ID.
func SortByRecentActivity(conversations []Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		ti, okI := conversations[i].lastActivity()
		tj, okJ := conversations[j].lastActivity()
		switch {
		case okI && !okJ:
			return true
		case !okI && okJ:
			return false
		case okI && okJ && !ti.Equal(tj):
			return ti.After(tj)
		}
		return conversations[i].ID < conversations[j].ID
	})
}
