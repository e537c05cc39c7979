package rest

import (
	"clinic-chat/auth"
	"clinic-chat/contract"
	"clinic-chat/domain"
	"clinic-chat/errors"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	mu            sync.Mutex
	conversations map[string][]domain.Conversation
	markedRead    []string
}

func (f *fakeDirectory) Join(string, string, contract.MessageSink) {}
func (f *fakeDirectory) Leave(string, string)                     {}

func (f *fakeDirectory) LoadHistory(context.Context, string, string) ([]domain.Message, error) {
	return nil, nil
}

func (f *fakeDirectory) Send(context.Context, string, string, string) (domain.Message, error) {
	return domain.Message{}, nil
}

func (f *fakeDirectory) ListConversations(_ context.Context, userID string) ([]domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conversations[userID], nil
}

func (f *fakeDirectory) MarkRead(_ context.Context, conversationID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conversations[userID] {
		if c.ID == conversationID {
			f.markedRead = append(f.markedRead, conversationID)
			return nil
		}
	}
	return fmt.Errorf("%w: conversation %s", errors.ErrNotFound, conversationID)
}

type restFixture struct {
	issuer    auth.Issuer
	directory *fakeDirectory
	server    *httptest.Server
}

func newRestFixture(t *testing.T) restFixture {
	issuer := auth.NewIssuer("secret", time.Hour)
	directory := &fakeDirectory{conversations: map[string][]domain.Conversation{
		"p1": {{
			ID:          "c1",
			Counterpart: domain.Counterpart{ID: "d1", Name: "Dr. Lan", Email: "lan@clinic.vn"},
			LastMessage: &domain.LastMessage{Content: "Xin chào", SentAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
			UnreadCount: 2,
		}},
	}}
	server := httptest.NewServer(NewConversationServer(logs.GetLoggerFromLevel(slog.LevelDebug), directory, issuer).Router())
	t.Cleanup(server.Close)
	return restFixture{issuer: issuer, directory: directory, server: server}
}

func (f restFixture) clientAs(t *testing.T, userID string) *ConversationClient {
	token, err := f.issuer.GenerateToken(domain.Session{UserID: userID, Role: domain.RolePatient})
	require.NoError(t, err)
	return NewConversationClient(logs.GetLoggerFromLevel(slog.LevelDebug), f.server.URL+"/",
		func(context.Context) (string, error) { return token, nil }, f.server.Client())
}

func TestConversationClient_ListAndMarkRead(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	fixture := newRestFixture(t)
	client := fixture.clientAs(t, "p1")

	// When the patient lists its conversations
	conversations, err := client.ListConversations(ctx, "p1")

	// Then the backend list comes back as domain conversations
	req.NoError(err)
	req.Len(conversations, 1)
	req.Equal("Dr. Lan", conversations[0].Counterpart.Name)
	req.Equal("Xin chào", conversations[0].LastMessage.Content)
	req.Equal(2, conversations[0].UnreadCount)

	// And marking it read reaches the backend
	req.NoError(client.MarkRead(ctx, "c1", "p1"))
	req.Equal([]string{"c1"}, fixture.directory.markedRead)
	req.ErrorIs(client.MarkRead(ctx, "missing", "p1"), errors.ErrNotFound)
}

func TestConversationClient_Rejections(t *testing.T) {
	ctx := context.Background()
	fixture := newRestFixture(t)

	tests := []struct {
		description string
		client      *ConversationClient
		userID      string
		wantErr     error
	}{
		{
			description: "Should be forbidden to read another user's list",
			client:      fixture.clientAs(t, "p1"),
			userID:      "p2",
			wantErr:     errors.ErrForbidden,
		},
		{
			description: "Should be unauthenticated with a forged token",
			client: NewConversationClient(logs.GetLoggerFromLevel(slog.LevelDebug), fixture.server.URL,
				func(context.Context) (string, error) { return "not-a-jwt", nil }, nil),
			userID:  "p1",
			wantErr: errors.ErrUnauthenticated,
		},
		{
			description: "Should surface the credential failure",
			client: NewConversationClient(logs.GetLoggerFromLevel(slog.LevelDebug), fixture.server.URL,
				func(context.Context) (string, error) { return "", errors.ErrSessionRequired }, nil),
			userID:  "p1",
			wantErr: errors.ErrSessionRequired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			_, err := tt.client.ListConversations(ctx, tt.userID)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConversationClient_AcceptsPascalCaseBackend(t *testing.T) {
	req := require.New(t)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "/conversations/d1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"ConversationId":"c9","Counterpart":{"Id":"p1","Name":"Nguyen An"},"LastMessage":{"Content":"Cảm ơn","SentAt":"2026-03-01T16:00:00+07:00"},"UnreadCount":3}]`))
	}))
	defer backend.Close()
	client := NewConversationClient(logs.GetLoggerFromLevel(slog.LevelDebug), backend.URL,
		func(context.Context) (string, error) { return "token", nil }, backend.Client())

	conversations, err := client.ListConversations(context.Background(), "d1")

	req.NoError(err)
	req.Len(conversations, 1)
	req.Equal("c9", conversations[0].ID)
	req.Equal("p1", conversations[0].Counterpart.ID)
	req.Equal(3, conversations[0].UnreadCount)
	req.True(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).Equal(conversations[0].LastMessage.SentAt))
}

func TestConversationClient_RejectsMalformedList(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"counterpart":{"id":"d1"}}]`))
	}))
	defer backend.Close()
	client := NewConversationClient(logs.GetLoggerFromLevel(slog.LevelDebug), backend.URL,
		func(context.Context) (string, error) { return "token", nil }, nil)

	_, err := client.ListConversations(context.Background(), "p1")

	require.ErrorIs(t, err, errors.ErrInvalidPayload)
}
