// Package runtime owns the live hub connection of a session and
// propagates what it receives. It contains no UI or domain rules.
package runtime

import (
	"clinic-chat/auth"
	"clinic-chat/domain"
	"clinic-chat/errors"
	"clinic-chat/infrastructure/grpc/client"
	"clinic-chat/infrastructure/grpc/wire"
	"clinic-chat/runtime/workers"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
)

// Dialer creates the client connection of a new link.
// It must not block: readiness is awaited by the manager.
type Dialer func(creds credentials.PerRPCCredentials) (*grpc.ClientConn, error)

type ConnectionConfig struct {
	// ConnectTimeout bounds the initial handshake and join.
	ConnectTimeout time.Duration
	// ReconnectWindow bounds the Reconnecting state; zero means unbounded.
	ReconnectWindow time.Duration
	// RestartInterval is the delay before re-joining after a broken join stream.
	RestartInterval time.Duration
}

// link is one dialed hub connection and the goroutines serving it.
type link struct {
	userID     string
	conn       *grpc.ClientConn
	hub        *client.HubClient
	ctx        context.Context
	cancel     context.CancelFunc
	supervisor *workers.Supervisor
}

// ConnectionManager owns the single hub connection of the authenticated session.
//
// Lock order is connectMu, then mu, then notifyMu. Observers are called with
// notifyMu held, one at a time, and must not call Connect or Disconnect.
type ConnectionManager struct {
	log       *slog.Logger
	dial      Dialer
	cfg       ConnectionConfig
	observers *Observers

	connectMu sync.Mutex
	mu        sync.Mutex
	notifyMu  sync.Mutex
	link      *link
	state     domain.ConnectionState
}

func NewConnectionManager(log *slog.Logger, dial Dialer, cfg ConnectionConfig) *ConnectionManager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RestartInterval <= 0 {
		cfg.RestartInterval = 200 * time.Millisecond
	}
	return &ConnectionManager{
		log:       log,
		dial:      dial,
		cfg:       cfg,
		observers: NewObservers(),
		state:     domain.Disconnected,
	}
}

func (m *ConnectionManager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ConnectionManager) OnMessage(handler func(domain.Message)) func() {
	return m.observers.OnMessage(handler)
}

func (m *ConnectionManager) OnStateChange(handler func(domain.ConnectionState)) func() {
	return m.observers.OnStateChange(handler)
}

// Connect establishes the hub connection of session and joins its user channel.
//
// It is idempotent: when a link for the same user is Connected or Connecting,
// it returns nil without dialing. Any other existing link (Reconnecting or
// another user) is disposed before a new one is created.
func (m *ConnectionManager) Connect(ctx context.Context, session domain.Session, credential func(context.Context) (string, error)) error {
	if session.IsZero() {
		return errors.ErrSessionRequired
	}
	if m.reusable(session.UserID) {
		return nil
	}

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if m.reusable(session.UserID) {
		return nil
	}
	m.mu.Lock()
	previous := m.link
	m.mu.Unlock()
	if previous != nil {
		m.log.Info("Disposing previous hub connection", "user_id", previous.userID)
		m.dispose(previous, true)
	}

	linkCtx, cancel := context.WithCancel(context.Background())
	l := &link{
		userID:     session.UserID,
		ctx:        linkCtx,
		cancel:     cancel,
		supervisor: workers.NewSupervisor(m.log, m.cfg.RestartInterval),
	}
	m.mu.Lock()
	m.link = l
	m.mu.Unlock()
	m.setState(l, domain.Connecting)

	stream, err := m.establish(ctx, l, credential)
	if err != nil {
		m.dispose(l, true)
		return err
	}

	m.setState(l, domain.Connected)
	m.log.Info("Joined hub channel", "user_id", l.userID)

	l.supervisor.Start(l.ctx, &joinWorker{manager: m, link: l, stream: stream})
	l.supervisor.Start(l.ctx, &stateWatcher{manager: m, link: l, window: m.cfg.ReconnectWindow})
	return nil
}

func (m *ConnectionManager) reusable(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link != nil && m.link.userID == userID && m.state.Live()
}

// establish dials, waits for READY and joins the per-user channel.
// The join stream lives on the link context, not on the caller's.
func (m *ConnectionManager) establish(ctx context.Context, l *link, credential auth.CredentialFunc) (*client.JoinStream, error) {
	conn, err := m.dial(auth.BearerCredentials{Token: credential})
	if err != nil {
		return nil, err
	}
	l.conn = conn
	l.hub = client.NewHubClient(conn)

	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	if err = waitReady(connectCtx, conn); err != nil {
		return nil, err
	}

	// A join that does not answer in time aborts the whole link.
	stop := context.AfterFunc(connectCtx, l.cancel)
	defer stop()

	stream, err := l.hub.Join(l.ctx, l.userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrJoinFailed, err)
	}
	evt, err := stream.Recv()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrJoinFailed, err)
	}
	if evt.Type != wire.EventJoined {
		return nil, fmt.Errorf("%w: unexpected first event %s", errors.ErrJoinFailed, evt.Type)
	}
	if !stop() {
		return nil, fmt.Errorf("%w: %v", errors.ErrJoinFailed, connectCtx.Err())
	}
	return stream, nil
}

// Disconnect tears the link down, reports Disconnected and unregisters every observer.
// No observer is called once it returns.
func (m *ConnectionManager) Disconnect() {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	l := m.link
	m.mu.Unlock()
	if l != nil {
		m.dispose(l, true)
	}

	m.notifyMu.Lock()
	m.observers.Clear()
	m.notifyMu.Unlock()
}

// dispose closes l. When l is still the current link the state becomes Disconnected.
// wait must be false when called from one of l's own workers.
func (m *ConnectionManager) dispose(l *link, wait bool) {
	m.mu.Lock()
	current := m.link == l
	if current {
		m.link = nil
	}
	m.mu.Unlock()

	l.cancel()
	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			m.log.Debug("Closing hub connection", "error", err)
		}
	}
	if wait {
		l.supervisor.Wait()
	}
	if current {
		m.setState(nil, domain.Disconnected)
	}
}

// setState records a transition and notifies observers in transition order.
// A non-nil l must still be the current link for the transition to apply.
func (m *ConnectionManager) setState(l *link, state domain.ConnectionState) {
	m.mu.Lock()
	if (l != nil && m.link != l) || m.state == state {
		m.mu.Unlock()
		return
	}
	previous := m.state
	m.state = state
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	m.log.Info("Hub connection state changed", "from", previous.String(), "to", state.String())
	m.observers.BroadcastState(state)
}

func (m *ConnectionManager) deliver(l *link, message domain.Message) {
	m.mu.Lock()
	if m.link != l {
		m.mu.Unlock()
		return
	}
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	m.observers.BroadcastMessage(message)
}

func (m *ConnectionManager) currentHub() (*client.HubClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil || m.link.hub == nil {
		return nil, errors.ErrNotConnected
	}
	return m.link.hub, nil
}

// LoadHistory asks the hub for the messages exchanged by selfID and counterpartID.
func (m *ConnectionManager) LoadHistory(ctx context.Context, selfID, counterpartID string) ([]domain.Message, error) {
	hub, err := m.currentHub()
	if err != nil {
		return nil, err
	}
	return hub.LoadHistory(ctx, selfID, counterpartID)
}

// Send fires a message through the hub. The message comes back through OnMessage.
func (m *ConnectionManager) Send(ctx context.Context, selfID, counterpartID, content string) error {
	hub, err := m.currentHub()
	if err != nil {
		return err
	}
	return hub.Send(ctx, selfID, counterpartID, content)
}

func waitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		st := conn.GetState()
		switch st {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return fmt.Errorf("%w: connection shut down", errors.ErrNotConnected)
		}
		if !conn.WaitForStateChange(ctx, st) {
			return fmt.Errorf("%w: %v (last state %s)", errors.ErrNotConnected, ctx.Err(), st)
		}
	}
}

// joinWorker pumps the per-user channel into the observers.
// After a broken stream the supervisor restarts it and it joins again once
// the transport is READY.
type joinWorker struct {
	manager *ConnectionManager
	link    *link
	stream  *client.JoinStream
}

func (w *joinWorker) Run(ctx context.Context) error {
	stream := w.stream
	w.stream = nil
	if stream == nil {
		var err error
		if stream, err = w.rejoin(ctx); err != nil {
			return err
		}
	}

	for {
		evt, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if stderrors.Is(err, errors.ErrInvalidPayload) {
				w.manager.log.Warn("Dropping malformed hub event", "error", err)
				continue
			}
			return fmt.Errorf("join stream broken: %w", err)
		}
		if evt.Type != wire.EventMessageReceived {
			continue
		}
		message, err := evt.Message.ToMessage()
		if err != nil {
			w.manager.log.Warn("Dropping malformed message", "error", err)
			continue
		}
		w.manager.deliver(w.link, message)
	}
}

func (w *joinWorker) rejoin(ctx context.Context) (*client.JoinStream, error) {
	stream, err := w.link.hub.Join(ctx, w.link.userID, grpc.WaitForReady(true))
	if err != nil {
		return nil, err
	}
	evt, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	if evt.Type != wire.EventJoined {
		return nil, fmt.Errorf("%w: unexpected first event %s", errors.ErrJoinFailed, evt.Type)
	}
	w.manager.log.Info("Re-joined hub channel", "user_id", w.link.userID)
	return stream, nil
}

// stateWatcher maps gRPC connectivity onto ConnectionState once the link has
// been READY: every later loss of READY is Reconnecting.
type stateWatcher struct {
	manager   *ConnectionManager
	link      *link
	window    time.Duration
	droppedAt time.Time
}

func (w *stateWatcher) Run(ctx context.Context) error {
	conn := w.link.conn
	for {
		st := conn.GetState()
		switch st {
		case connectivity.Shutdown:
			return nil
		case connectivity.Ready:
			w.droppedAt = time.Time{}
			w.manager.setState(w.link, domain.Connected)
		default:
			if st == connectivity.Idle {
				conn.Connect()
			}
			if w.droppedAt.IsZero() {
				w.droppedAt = time.Now()
			}
			w.manager.setState(w.link, domain.Reconnecting)
		}

		waitCtx, cancel := ctx, context.CancelFunc(func() {})
		if !w.droppedAt.IsZero() && w.window > 0 {
			remaining := w.window - time.Since(w.droppedAt)
			if remaining <= 0 {
				w.manager.log.Warn("Reconnect window elapsed, giving up", "user_id", w.link.userID, "window", w.window)
				w.manager.dispose(w.link, false)
				return nil
			}
			waitCtx, cancel = context.WithTimeout(ctx, remaining)
		}
		conn.WaitForStateChange(waitCtx, st)
		cancel()
		if ctx.Err() != nil {
			return nil
		}
	}
}
