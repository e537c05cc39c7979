package runtime

import (
	"clinic-chat/domain"
	"clinic-chat/errors"
	"clinic-chat/infrastructure/grpc/wire"
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	patient = domain.Session{UserID: "p1", Role: domain.RolePatient, DisplayName: "An"}
	doctor  = domain.Session{UserID: "d1", Role: domain.RoleDoctor, DisplayName: "Dr. Lan"}
)

// fakeHub is a minimal ChatHub keeping one channel per joined stream.
type fakeHub struct {
	mu      sync.Mutex
	streams map[string][]chan *structpb.Struct
	tokens  []string
	sent    []wire.SendRequest
}

func newFakeHub() *fakeHub {
	return &fakeHub{streams: make(map[string][]chan *structpb.Struct)}
}

func (h *fakeHub) Join(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var req wire.JoinRequest
	if err := wire.Decode(in, &req); err != nil {
		return err
	}
	if md, ok := metadata.FromIncomingContext(stream.Context()); ok {
		h.mu.Lock()
		h.tokens = append(h.tokens, md.Get("authorization")...)
		h.mu.Unlock()
	}
	joined, _ := wire.Encode(wire.HubEvent{Type: wire.EventJoined})
	if err := stream.Send(joined); err != nil {
		return err
	}
	ch := make(chan *structpb.Struct, 16)
	h.mu.Lock()
	h.streams[req.UserID] = append(h.streams[req.UserID], ch)
	h.mu.Unlock()
	defer h.leave(req.UserID, ch)

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case evt := <-ch:
			if err := stream.Send(evt); err != nil {
				return err
			}
		}
	}
}

func (h *fakeHub) leave(userID string, ch chan *structpb.Struct) {
	h.mu.Lock()
	defer h.mu.Unlock()
	streams := h.streams[userID]
	for i, c := range streams {
		if c == ch {
			h.streams[userID] = append(streams[:i:i], streams[i+1:]...)
			return
		}
	}
}

func (h *fakeHub) joined(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams[userID])
}

func (h *fakeHub) push(userID string, message domain.Message) {
	dto := wire.FromMessage(message)
	evt, _ := wire.Encode(wire.HubEvent{Type: wire.EventMessageReceived, Message: &dto})
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.streams[userID] {
		ch <- evt
	}
}

func (h *fakeHub) LoadHistory(_ context.Context, _ *structpb.Struct) (*structpb.ListValue, error) {
	return wire.EncodeList([]wire.MessageDTO{})
}

func (h *fakeHub) Send(_ context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req wire.SendRequest
	if err := wire.Decode(in, &req); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.sent = append(h.sent, req)
	h.mu.Unlock()
	return &emptypb.Empty{}, nil
}

// hubEnv serves a fakeHub over bufconn and can drop and restore the server.
type hubEnv struct {
	t        *testing.T
	hub      *fakeHub
	listener atomic.Pointer[bufconn.Listener]
	server   *grpc.Server
	dials    atomic.Int32
}

func newHubEnv(t *testing.T) *hubEnv {
	env := &hubEnv{t: t, hub: newFakeHub()}
	env.start()
	t.Cleanup(func() { env.server.Stop() })
	return env
}

func (e *hubEnv) start() {
	lis := bufconn.Listen(1 << 20)
	e.listener.Store(lis)
	e.server = grpc.NewServer()
	wire.RegisterHubServer(e.server, e.hub)
	go func() { _ = e.server.Serve(lis) }()
}

func (e *hubEnv) dialer() Dialer {
	return func(creds credentials.PerRPCCredentials) (*grpc.ClientConn, error) {
		e.dials.Add(1)
		return grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return e.listener.Load().DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithPerRPCCredentials(creds),
			grpc.WithConnectParams(grpc.ConnectParams{
				Backoff:           backoff.Config{BaseDelay: 20 * time.Millisecond, Multiplier: 1.2, MaxDelay: 100 * time.Millisecond},
				MinConnectTimeout: 200 * time.Millisecond,
			}),
		)
	}
}

func token(_ string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "token-123", nil }
}

func newManager(env *hubEnv, cfg ConnectionConfig) *ConnectionManager {
	cfg.ConnectTimeout = time.Second
	cfg.RestartInterval = 20 * time.Millisecond
	m := NewConnectionManager(logs.GetLoggerFromLevel(slog.LevelDebug), env.dialer(), cfg)
	env.t.Cleanup(m.Disconnect)
	return m
}

type stateRecorder struct {
	mu     sync.Mutex
	states []domain.ConnectionState
}

func (r *stateRecorder) record(s domain.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) all() []domain.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConnectionState(nil), r.states...)
}

func TestConnectionManager_Connect_IsIdempotent(t *testing.T) {
	req := require.New(t)
	env := newHubEnv(t)
	m := newManager(env, ConnectionConfig{})
	recorder := &stateRecorder{}
	m.OnStateChange(recorder.record)
	ctx := context.Background()

	// When the same session connects many times, some of them concurrently
	req.NoError(m.Connect(ctx, patient, token("p1")))
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req.NoError(m.Connect(ctx, patient, token("p1")))
		}()
	}
	wg.Wait()
	req.NoError(m.Connect(ctx, patient, token("p1")))

	// Then a single transport exists and a single join happened
	req.Equal(int32(1), env.dials.Load())
	req.Equal(domain.Connected, m.State())
	req.Eventually(func() bool { return env.hub.joined("p1") == 1 }, time.Second, 10*time.Millisecond)
	req.Equal([]domain.ConnectionState{domain.Connecting, domain.Connected}, recorder.all())

	// And the bearer credential was attached to the join
	env.hub.mu.Lock()
	req.Contains(env.hub.tokens, "Bearer token-123")
	env.hub.mu.Unlock()
}

func TestConnectionManager_BroadcastsToEveryObserver(t *testing.T) {
	req := require.New(t)
	env := newHubEnv(t)
	m := newManager(env, ConnectionConfig{})

	var first, second atomic.Int32
	m.OnMessage(func(domain.Message) { first.Add(1) })
	m.OnMessage(func(domain.Message) { second.Add(1) })
	req.NoError(m.Connect(context.Background(), patient, token("p1")))
	req.Eventually(func() bool { return env.hub.joined("p1") == 1 }, time.Second, 10*time.Millisecond)

	// When a message for another conversation is pushed
	env.hub.push("p1", domain.Message{SenderID: "d9", RecipientID: "p1", Content: "hello", SentAt: time.Now().UTC()})

	// Then both observers receive it
	req.Eventually(func() bool { return first.Load() == 1 && second.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestConnectionManager_Disconnect_UnregistersObservers(t *testing.T) {
	req := require.New(t)
	env := newHubEnv(t)
	m := newManager(env, ConnectionConfig{})
	recorder := &stateRecorder{}
	m.OnStateChange(recorder.record)
	var received atomic.Int32
	m.OnMessage(func(domain.Message) { received.Add(1) })

	req.NoError(m.Connect(context.Background(), patient, token("p1")))
	req.Eventually(func() bool { return env.hub.joined("p1") == 1 }, time.Second, 10*time.Millisecond)

	// When disconnecting
	m.Disconnect()

	// Then the state is Disconnected and observed once more
	req.Equal(domain.Disconnected, m.State())
	req.Equal([]domain.ConnectionState{domain.Connecting, domain.Connected, domain.Disconnected}, recorder.all())
	req.Zero(m.observers.Len())

	// And the server side stream is gone, nothing is delivered anymore
	req.Eventually(func() bool { return env.hub.joined("p1") == 0 }, time.Second, 10*time.Millisecond)
	env.hub.push("p1", domain.Message{SenderID: "d1", RecipientID: "p1", Content: "late", SentAt: time.Now()})
	req.Zero(received.Load())

	// And hub calls are refused
	_, err := m.LoadHistory(context.Background(), "p1", "d1")
	req.ErrorIs(err, errors.ErrNotConnected)
	req.ErrorIs(m.Send(context.Background(), "p1", "d1", "hi"), errors.ErrNotConnected)
}

func TestConnectionManager_NewSession_DisposesPrevious(t *testing.T) {
	req := require.New(t)
	env := newHubEnv(t)
	m := newManager(env, ConnectionConfig{})

	req.NoError(m.Connect(context.Background(), patient, token("p1")))
	req.Eventually(func() bool { return env.hub.joined("p1") == 1 }, time.Second, 10*time.Millisecond)

	// When another user logs in on the same client
	req.NoError(m.Connect(context.Background(), doctor, token("d1")))

	// Then the first join is released before the second exists
	req.Equal(int32(2), env.dials.Load())
	req.Eventually(func() bool {
		return env.hub.joined("p1") == 0 && env.hub.joined("d1") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestConnectionManager_Connect_FailsWhenHubUnreachable(t *testing.T) {
	req := require.New(t)
	env := newHubEnv(t)
	env.server.Stop()
	m := NewConnectionManager(logs.GetLoggerFromLevel(slog.LevelDebug), env.dialer(),
		ConnectionConfig{ConnectTimeout: 200 * time.Millisecond})
	recorder := &stateRecorder{}
	m.OnStateChange(recorder.record)

	err := m.Connect(context.Background(), patient, token("p1"))

	req.ErrorIs(err, errors.ErrNotConnected)
	req.Equal(domain.Disconnected, m.State())
	req.Equal([]domain.ConnectionState{domain.Connecting, domain.Disconnected}, recorder.all())
}

func TestConnectionManager_Connect_RequiresSession(t *testing.T) {
	env := newHubEnv(t)
	m := newManager(env, ConnectionConfig{})
	require.ErrorIs(t, m.Connect(context.Background(), domain.Session{}, token("")), errors.ErrSessionRequired)
	require.Zero(t, env.dials.Load())
}

func TestConnectionManager_ReconnectsAndRejoins(t *testing.T) {
	req := require.New(t)
	env := newHubEnv(t)
	m := newManager(env, ConnectionConfig{})
	recorder := &stateRecorder{}
	m.OnStateChange(recorder.record)
	var received atomic.Int32
	m.OnMessage(func(domain.Message) { received.Add(1) })

	req.NoError(m.Connect(context.Background(), patient, token("p1")))
	req.Eventually(func() bool { return env.hub.joined("p1") == 1 }, time.Second, 10*time.Millisecond)

	// When the transport drops
	env.server.Stop()
	req.Eventually(func() bool { return m.State() == domain.Reconnecting }, 2*time.Second, 10*time.Millisecond)

	// And the hub comes back
	env.start()

	// Then the manager is Connected again on the same transport and re-joined
	req.Eventually(func() bool {
		return m.State() == domain.Connected && env.hub.joined("p1") == 1
	}, 5*time.Second, 20*time.Millisecond)
	req.Equal(int32(1), env.dials.Load())
	req.Contains(recorder.all(), domain.Reconnecting)

	env.hub.push("p1", domain.Message{SenderID: "d1", RecipientID: "p1", Content: "back", SentAt: time.Now()})
	req.Eventually(func() bool { return received.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestConnectionManager_ReconnectWindowElapsed(t *testing.T) {
	req := require.New(t)
	env := newHubEnv(t)
	m := newManager(env, ConnectionConfig{ReconnectWindow: 200 * time.Millisecond})

	req.NoError(m.Connect(context.Background(), patient, token("p1")))

	// When the hub never comes back
	env.server.Stop()

	// Then Reconnecting ends in Disconnected
	req.Eventually(func() bool { return m.State() == domain.Disconnected }, 3*time.Second, 20*time.Millisecond)
	_, err := m.LoadHistory(context.Background(), "p1", "d1")
	req.ErrorIs(err, errors.ErrNotConnected)

	// And a manual connect is possible again
	env.start()
	req.NoError(m.Connect(context.Background(), patient, token("p1")))
	req.Equal(int32(2), env.dials.Load())
}
