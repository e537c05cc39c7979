package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSortByRecentActivity(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()

	// Given a raw list where the most recent conversation is not first
	conversations := []Conversation{
		{ID: "c3"},
		{ID: "c2", LastMessage: &LastMessage{Content: "older", SentAt: now.Add(-time.Hour)}},
		{ID: "c1", LastMessage: &LastMessage{Content: "latest", SentAt: now}},
		{ID: "c0"},
	}

	// When sorting
	SortByRecentActivity(conversations)

	// Then the latest activity comes first and silent conversations go last by ID
	req.Equal([]string{"c1", "c2", "c0", "c3"}, ids(conversations))
}

func TestConversation_Touch(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()
	conversation := Conversation{ID: "c1"}

	req.True(conversation.Touch(Message{Content: "first", SentAt: now}))
	req.Equal("first", conversation.LastMessage.Content)

	// An older message never replaces the preview
	req.False(conversation.Touch(Message{Content: "late", SentAt: now.Add(-time.Minute)}))
	req.Equal("first", conversation.LastMessage.Content)
}

func TestMessage_Between(t *testing.T) {
	req := require.New(t)
	msg := Message{SenderID: "patient", RecipientID: "doctor"}

	req.True(msg.Between("patient", "doctor"))
	req.True(msg.Between("doctor", "patient"))
	req.False(msg.Between("patient", "other-doctor"))
	req.Equal("doctor", msg.CounterpartOf("patient"))
	req.Equal("patient", msg.CounterpartOf("doctor"))
}

func TestMessage_Same(t *testing.T) {
	req := require.New(t)
	at := time.Now().UTC()

	req.True(Message{ID: "a", Content: "x"}.Same(Message{ID: "a", Content: "y"}))
	req.False(Message{ID: "a"}.Same(Message{ID: "b"}))
	req.True(Message{SenderID: "p", Content: "hi", SentAt: at}.Same(Message{SenderID: "p", Content: "hi", SentAt: at}))
}

func ids(conversations []Conversation) []string {
	res := make([]string, 0, len(conversations))
	for _, c := range conversations {
		res = append(res, c.ID)
	}
	return res
}
