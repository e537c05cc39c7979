package server

import (
	"clinic-chat/auth"
	"clinic-chat/contract"
	"clinic-chat/domain"
	"clinic-chat/infrastructure/grpc/client"
	"clinic-chat/infrastructure/grpc/wire"
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// fakeHubService keeps joined sinks and records sends.
type fakeHubService struct {
	mu    sync.Mutex
	sinks map[string]contract.MessageSink
	sent  []string
}

func (f *fakeHubService) Join(userID, _ string, sink contract.MessageSink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks[userID] = sink
}

func (f *fakeHubService) Leave(userID, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sinks, userID)
}

func (f *fakeHubService) sink(userID string) contract.MessageSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[userID]
}

func (f *fakeHubService) LoadHistory(_ context.Context, selfID, counterpartID string) ([]domain.Message, error) {
	return []domain.Message{{ID: "m1", SenderID: counterpartID, RecipientID: selfID, Content: "hello", SentAt: time.Now().UTC()}}, nil
}

func (f *fakeHubService) Send(_ context.Context, _, _, content string) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return domain.Message{}, nil
}

func (f *fakeHubService) ListConversations(context.Context, string) ([]domain.Conversation, error) {
	return nil, nil
}

func (f *fakeHubService) MarkRead(context.Context, string, string) error { return nil }

func startHub(t *testing.T, issuer auth.Issuer, hub *fakeHubService) *bufconn.Listener {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(issuer.UnaryInterceptor),
		grpc.StreamInterceptor(issuer.StreamInterceptor),
	)
	wire.RegisterHubServer(srv, NewHubServer(logs.GetLoggerFromLevel(slog.LevelDebug), hub, 8, time.Second))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func dialAs(t *testing.T, lis *bufconn.Listener, token string) *client.HubClient {
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(auth.BearerCredentials{Token: func(context.Context) (string, error) { return token, nil }}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return client.NewHubClient(conn)
}

func TestHubServer_JoinAcknowledgesThenStreams(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	issuer := auth.NewIssuer("secret", time.Hour)
	hub := &fakeHubService{sinks: map[string]contract.MessageSink{}}
	lis := startHub(t, issuer, hub)
	token, err := issuer.GenerateToken(domain.Session{UserID: "p1", Role: domain.RolePatient})
	req.NoError(err)

	// When the patient joins its channel
	stream, err := dialAs(t, lis, token).Join(ctx, "p1")
	req.NoError(err)

	// Then the first event is the acknowledgement
	evt, err := stream.Recv()
	req.NoError(err)
	req.Equal(wire.EventJoined, evt.Type)
	req.NotEmpty(evt.ConnectionID)

	// And a message given to its sink comes through
	sentAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	req.NoError(hub.sink("p1").Consume(ctx, domain.Message{ID: "m1", SenderID: "d1", RecipientID: "p1", Content: "Xin chào", SentAt: sentAt}))
	evt, err = stream.Recv()
	req.NoError(err)
	req.Equal(wire.EventMessageReceived, evt.Type)
	message, err := evt.Message.ToMessage()
	req.NoError(err)
	req.Equal("Xin chào", message.Content)
	req.True(sentAt.Equal(message.SentAt))
}

func TestHubServer_RejectsImpersonation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	issuer := auth.NewIssuer("secret", time.Hour)
	hub := &fakeHubService{sinks: map[string]contract.MessageSink{}}
	lis := startHub(t, issuer, hub)
	token, err := issuer.GenerateToken(domain.Session{UserID: "p1", Role: domain.RolePatient})
	req.NoError(err)
	hubClient := dialAs(t, lis, token)

	err = hubClient.Send(ctx, "p2", "d1", "hi")
	req.Equal(codes.PermissionDenied, status.Code(err))

	_, err = hubClient.LoadHistory(ctx, "p2", "d1")
	req.Equal(codes.PermissionDenied, status.Code(err))

	stream, err := hubClient.Join(ctx, "p2")
	req.NoError(err)
	_, err = stream.Recv()
	req.Equal(codes.PermissionDenied, status.Code(err))
	req.Empty(hub.sent)
}

func TestHubServer_RejectsMissingToken(t *testing.T) {
	issuer := auth.NewIssuer("secret", time.Hour)
	lis := startHub(t, issuer, &fakeHubService{sinks: map[string]contract.MessageSink{}})

	err := dialAs(t, lis, "").Send(context.Background(), "p1", "d1", "hi")

	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestHubServer_SendAndHistory(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	issuer := auth.NewIssuer("secret", time.Hour)
	hub := &fakeHubService{sinks: map[string]contract.MessageSink{}}
	lis := startHub(t, issuer, hub)
	token, err := issuer.GenerateToken(domain.Session{UserID: "p1", Role: domain.RolePatient})
	req.NoError(err)
	hubClient := dialAs(t, lis, token)

	req.NoError(hubClient.Send(ctx, "p1", "d1", "Xin chào"))
	history, err := hubClient.LoadHistory(ctx, "p1", "d1")

	req.NoError(err)
	req.Equal([]string{"Xin chào"}, hub.sent)
	req.Len(history, 1)
	req.Equal("d1", history[0].SenderID)
}
