package domain

import (
	"time"
)

// Message represents an immutable chat message as delivered by the hub.
// ID and ConversationID are optional on the wire.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	RecipientID    string
	Content        string
	SentAt         time.Time
}

// Between reports whether the message was exchanged by selfID and counterpartID,
// in either direction.
func (m Message) Between(selfID, counterpartID string) bool {
	return (m.SenderID == selfID && m.RecipientID == counterpartID) ||
		(m.SenderID == counterpartID && m.RecipientID == selfID)
}

// CounterpartOf returns the other participant of the message from selfID's point of view.
func (m Message) CounterpartOf(selfID string) string {
	if m.SenderID == selfID {
		return m.RecipientID
	}
	return m.SenderID
}

// Same reports whether both values describe the same delivered message.
// The server ID wins when both carry one.
func (m Message) Same(other Message) bool {
	if m.ID != "" && other.ID != "" {
		return m.ID == other.ID
	}
	return m.SenderID == other.SenderID &&
		m.RecipientID == other.RecipientID &&
		m.Content == other.Content &&
		m.SentAt.Equal(other.SentAt)
}
