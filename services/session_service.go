package services

import (
	"clinic-chat/contract"
	"clinic-chat/domain"
	"clinic-chat/errors"
	"clinic-chat/projection"
	"clinic-chat/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type ISessionService interface {
	Connect(ctx context.Context) error
	Disconnect()
	Refresh(ctx context.Context) error
	Select(ctx context.Context, conversationID string) error
	Send(ctx context.Context, content string) error
	Retry(ctx context.Context) error
	Conversations() []domain.Conversation
	ActiveTimeline() projection.TimelineView
	ConnectionStatus() projection.Status
}

type SessionConfig struct {
	HistoryTimeout  time.Duration
	RefreshTimeout  time.Duration
	MarkReadTimeout time.Duration
	RestartInterval time.Duration
}

// SessionService is what a rendering surface binds to: the conversation
// list, the active timeline and the connection status of the logged-in user.
type SessionService struct {
	log       *slog.Logger
	auth      contract.Authenticator
	conn      contract.Connection
	cfg       SessionConfig
	directory *projection.Directory
	timeline  *projection.Timeline
	presence  *projection.PresenceGate

	lifecycleMu     sync.Mutex
	unsubscribeAuth func()

	mu         sync.Mutex
	session    domain.Session
	running    bool
	activeID   string
	lastState  domain.ConnectionState
	markReads  chan string
	cancel     context.CancelFunc
	supervisor *workers.Supervisor
}

func NewSessionService(
	log *slog.Logger,
	authenticator contract.Authenticator,
	conn contract.Connection,
	api contract.ConversationAPI,
	cfg SessionConfig,
) *SessionService {
	if cfg.MarkReadTimeout <= 0 {
		cfg.MarkReadTimeout = 10 * time.Second
	}
	if cfg.RestartInterval <= 0 {
		cfg.RestartInterval = time.Second
	}
	s := &SessionService{
		log:       log,
		auth:      authenticator,
		conn:      conn,
		cfg:       cfg,
		directory: projection.NewDirectory(log, api, cfg.RefreshTimeout),
		timeline:  projection.NewTimeline(log, conn, conn, cfg.HistoryTimeout),
		presence:  projection.NewPresenceGate(),
	}
	s.unsubscribeAuth = authenticator.OnChange(s.onSessionChange)
	return s
}

// Connect opens the hub connection of the current session and loads the
// conversation list. A connection failure is returned but leaves the service
// usable: calling Connect again retries.
func (s *SessionService) Connect(ctx context.Context) error {
	session, ok := s.auth.Session()
	if !ok {
		return errors.ErrSessionRequired
	}

	s.lifecycleMu.Lock()
	s.mu.Lock()
	running, current := s.running, s.session
	s.mu.Unlock()
	if running && current.UserID != session.UserID {
		s.stop()
		running = false
	}
	if !running {
		s.start(session)
	}
	s.lifecycleMu.Unlock()

	if err := s.conn.Connect(ctx, session, s.auth.Credential); err != nil {
		s.log.Warn("Hub connection failed", "user_id", session.UserID, "error", err)
		return fmt.Errorf("connecting %s: %w", session.UserID, err)
	}
	if err := s.Refresh(ctx); err != nil {
		s.log.Debug("Initial refresh failed", "error", err)
	}
	return nil
}

// Disconnect tears the connection down and forgets every local view.
func (s *SessionService) Disconnect() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.stop()
}

// Close stops following the authenticator and disconnects.
func (s *SessionService) Close() {
	s.unsubscribeAuth()
	s.Disconnect()
}

func (s *SessionService) start(session domain.Session) {
	s.timeline.Reset(session.UserID)
	s.directory.Reset(session.UserID)
	s.presence.SetSelected(false)
	s.conn.OnMessage(s.onMessage)
	s.conn.OnStateChange(s.onStateChange)

	ctx, cancel := context.WithCancel(context.Background())
	supervisor := workers.NewSupervisor(s.log, s.cfg.RestartInterval)
	markReads := make(chan string, 16)
	supervisor.Start(ctx, workers.NewDirectoryRefreshWorker(s.log, s.directory, session.UserID))
	supervisor.Start(ctx, workers.NewMarkReadWorker(s.log, s.directory, markReads, session.UserID, s.cfg.MarkReadTimeout))

	s.mu.Lock()
	s.session = session
	s.running = true
	s.activeID = ""
	s.lastState = s.conn.State()
	s.markReads = markReads
	s.cancel = cancel
	s.supervisor = supervisor
	s.mu.Unlock()
	s.log.Info("Chat session started", "user_id", session.UserID, "role", session.Role)
}

// stop is called with lifecycleMu held.
func (s *SessionService) stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	userID := s.session.UserID
	cancel, supervisor := s.cancel, s.supervisor
	s.running = false
	s.session = domain.Session{}
	s.activeID = ""
	s.mu.Unlock()

	cancel()
	supervisor.Wait()
	s.conn.Disconnect()

	s.presence.Observe(domain.Disconnected)
	s.presence.SetSelected(false)
	s.timeline.Reset("")
	s.directory.Reset("")
	s.log.Info("Chat session stopped", "user_id", userID)
}

// onSessionChange disconnects on logout and when another user logs in.
func (s *SessionService) onSessionChange(session domain.Session, ok bool) {
	s.mu.Lock()
	running, current := s.running, s.session
	s.mu.Unlock()
	if !running || (ok && session.UserID == current.UserID) {
		return
	}
	s.log.Info("Session ended, disconnecting", "user_id", current.UserID)
	s.Disconnect()
}

// onMessage runs on the connection's delivery goroutine and must not block.
func (s *SessionService) onMessage(message domain.Message) {
	s.timeline.AppendLive(message)
	conversation, ok := s.directory.Observe(message)
	if !ok {
		return
	}

	s.mu.Lock()
	selfID, activeID, markReads := s.session.UserID, s.activeID, s.markReads
	s.mu.Unlock()
	if conversation.ID != activeID || message.SenderID == selfID {
		return
	}
	select {
	case markReads <- conversation.ID:
	default:
		s.log.Debug("Mark read queue full", "conversation_id", conversation.ID)
	}
}

func (s *SessionService) onStateChange(state domain.ConnectionState) {
	s.presence.Observe(state)

	s.mu.Lock()
	previous := s.lastState
	s.lastState = state
	s.mu.Unlock()

	// Messages may have been missed while the transport was down.
	if previous == domain.Reconnecting && state == domain.Connected {
		s.directory.RequestRefresh()
	}
}

// Refresh reloads the conversation list. The previous list is kept on failure.
func (s *SessionService) Refresh(ctx context.Context) error {
	userID, err := s.userID()
	if err != nil {
		return err
	}
	return s.directory.Refresh(ctx, userID)
}

// Select opens a conversation of the list, loads its history and marks it read.
func (s *SessionService) Select(ctx context.Context, conversationID string) error {
	userID, err := s.userID()
	if err != nil {
		return err
	}
	conversation, ok := s.directory.Lookup(conversationID)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownConversation, conversationID)
	}

	// The active id, the directory and the timeline switch together so
	// concurrent selections cannot leave them pointing at different ones.
	s.lifecycleMu.Lock()
	s.mu.Lock()
	running := s.running
	if running {
		s.activeID = conversationID
	}
	s.mu.Unlock()
	if !running {
		s.lifecycleMu.Unlock()
		return errors.ErrSessionRequired
	}
	s.directory.SetActive(conversationID)
	load := s.timeline.Open(conversation)
	s.lifecycleMu.Unlock()
	s.presence.SetSelected(true)

	if err = load(ctx); err != nil {
		return err
	}
	if conversation.UnreadCount > 0 {
		if err = s.directory.MarkRead(ctx, conversationID, userID); err != nil {
			s.log.Debug("Unread count kept", "conversation_id", conversationID)
		}
	}
	return nil
}

func (s *SessionService) Send(ctx context.Context, content string) error {
	return s.timeline.Send(ctx, content)
}

// Retry reloads the history of the active conversation after a failure.
func (s *SessionService) Retry(ctx context.Context) error {
	return s.timeline.Retry(ctx)
}

func (s *SessionService) Conversations() []domain.Conversation {
	return s.directory.Conversations()
}

func (s *SessionService) ActiveTimeline() projection.TimelineView {
	return s.timeline.Snapshot()
}

func (s *SessionService) ConnectionStatus() projection.Status {
	return s.presence.Status()
}

func (s *SessionService) OnConversations(handler func([]domain.Conversation)) func() {
	return s.directory.OnUpdate(handler)
}

func (s *SessionService) OnTimeline(handler func(projection.TimelineView)) func() {
	return s.timeline.OnUpdate(handler)
}

func (s *SessionService) OnStatus(handler func(projection.Status)) func() {
	return s.presence.OnUpdate(handler)
}

func (s *SessionService) userID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return "", errors.ErrSessionRequired
	}
	return s.session.UserID, nil
}
