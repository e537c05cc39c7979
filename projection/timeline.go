package projection

import (
	"clinic-chat/contract"
	"clinic-chat/domain"
	"clinic-chat/errors"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// TimelineView is an immutable snapshot of the timeline.
type TimelineView struct {
	Conversation   *domain.Conversation
	Messages       []domain.Message
	Loading        bool
	Err            error
	ScrollToLatest bool
}

// Timeline holds the ordered history of the selected conversation.
// Fetched history and pushed messages are merged by server SentAt.
type Timeline struct {
	log            *slog.Logger
	hub            contract.Hub
	state          contract.StateReader
	historyTimeout time.Duration

	mu         sync.Mutex
	notifyMu   sync.Mutex
	selfID     string
	active     *domain.Conversation
	messages   []domain.Message
	pending    []domain.Message
	loading    bool
	err        error
	generation uint64
	updates    listeners[TimelineView]
}

func NewTimeline(log *slog.Logger, hub contract.Hub, state contract.StateReader, historyTimeout time.Duration) *Timeline {
	if historyTimeout <= 0 {
		historyTimeout = 10 * time.Second
	}
	return &Timeline{
		log:            log,
		hub:            hub,
		state:          state,
		historyTimeout: historyTimeout,
	}
}

// Reset empties the timeline for the session of selfID.
// Any history request still in flight is discarded when it resolves.
func (t *Timeline) Reset(selfID string) {
	t.mu.Lock()
	t.generation++
	t.selfID = selfID
	t.active = nil
	t.messages = nil
	t.pending = nil
	t.loading = false
	t.err = nil
	t.publish(false)
}

// Select makes conversation the active one and loads its history.
// It returns ErrSelectionSuperseded when another selection happened meanwhile.
func (t *Timeline) Select(ctx context.Context, conversation domain.Conversation) error {
	return t.Open(conversation)(ctx)
}

// Open makes conversation the active one right away and returns the history
// load to run. Callers keeping their own notion of the active conversation
// call Open under the lock guarding it.
func (t *Timeline) Open(conversation domain.Conversation) func(ctx context.Context) error {
	t.mu.Lock()
	t.generation++
	generation := t.generation
	selected := conversation
	t.active = &selected
	t.messages = nil
	t.pending = nil
	t.loading = true
	t.err = nil
	selfID := t.selfID
	t.publish(false)

	return func(ctx context.Context) error {
		return t.load(ctx, generation, selfID, conversation.Counterpart.ID)
	}
}

// Retry issues the history request of the active conversation again.
func (t *Timeline) Retry(ctx context.Context) error {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()
	if active == nil {
		return errors.ErrNoConversation
	}
	return t.Select(ctx, *active)
}

func (t *Timeline) load(ctx context.Context, generation uint64, selfID, counterpartID string) error {
	ctx, cancel := context.WithTimeout(ctx, t.historyTimeout)
	defer cancel()

	history, err := t.hub.LoadHistory(ctx, selfID, counterpartID)

	t.mu.Lock()
	if generation != t.generation {
		t.mu.Unlock()
		t.log.Debug("Discarding stale history", "counterpart_id", counterpartID)
		return errors.ErrSelectionSuperseded
	}
	t.loading = false
	if err != nil {
		loadErr := fmt.Errorf("loading history with %s: %w", counterpartID, err)
		t.err = loadErr
		t.pending = nil
		t.publish(false)
		t.log.Warn("History request failed", "counterpart_id", counterpartID, "error", err)
		return loadErr
	}

	appended := false
	for _, message := range append(history, t.pending...) {
		if message.Between(selfID, counterpartID) && t.insert(message) {
			appended = true
		}
	}
	t.pending = nil
	t.publish(appended)
	return nil
}

// AppendLive adds a pushed message when it belongs to the active conversation.
// It reports whether the message was kept.
func (t *Timeline) AppendLive(message domain.Message) bool {
	t.mu.Lock()
	if t.active == nil || !message.Between(t.selfID, t.active.Counterpart.ID) {
		t.mu.Unlock()
		return false
	}
	if t.loading {
		if lo.ContainsBy(t.pending, message.Same) {
			t.mu.Unlock()
			return false
		}
		t.pending = append(t.pending, message)
		t.mu.Unlock()
		return true
	}
	if !t.insert(message) {
		t.mu.Unlock()
		return false
	}
	t.publish(true)
	return true
}

// Send asks the hub to deliver content to the active counterpart.
// Nothing is inserted locally: the message shows up once the hub echoes it.
func (t *Timeline) Send(ctx context.Context, content string) error {
	t.mu.Lock()
	active, selfID := t.active, t.selfID
	t.mu.Unlock()

	var rejection error
	switch {
	case strings.TrimSpace(content) == "":
		rejection = errors.ErrEmptyContent
	case active == nil:
		rejection = errors.ErrNoConversation
	case t.state.State() != domain.Connected:
		rejection = errors.ErrSendWhileOffline
	}
	if rejection != nil {
		t.log.Warn("Message not sent", "reason", rejection)
		return rejection
	}

	if err := t.hub.Send(ctx, selfID, active.Counterpart.ID, content); err != nil {
		t.log.Warn("Hub refused message", "counterpart_id", active.Counterpart.ID, "error", err)
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// Active returns the selected conversation, if any.
func (t *Timeline) Active() (domain.Conversation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return domain.Conversation{}, false
	}
	return *t.active, true
}

func (t *Timeline) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Timeline) Snapshot() TimelineView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view(false)
}

// OnUpdate registers handler for every change of the timeline.
func (t *Timeline) OnUpdate(handler func(TimelineView)) func() {
	return t.updates.add(handler)
}

// insert places message by SentAt after any message with the same timestamp.
// Duplicates are dropped. Caller holds mu.
func (t *Timeline) insert(message domain.Message) bool {
	if lo.ContainsBy(t.messages, message.Same) {
		return false
	}
	i := sort.Search(len(t.messages), func(i int) bool {
		return t.messages[i].SentAt.After(message.SentAt)
	})
	t.messages = append(t.messages, domain.Message{})
	copy(t.messages[i+1:], t.messages[i:])
	t.messages[i] = message
	return true
}

func (t *Timeline) view(scroll bool) TimelineView {
	view := TimelineView{
		Messages:       append([]domain.Message(nil), t.messages...),
		Loading:        t.loading,
		Err:            t.err,
		ScrollToLatest: scroll,
	}
	if t.active != nil {
		active := *t.active
		view.Conversation = &active
	}
	return view
}

// publish releases mu and notifies the listeners in change order.
func (t *Timeline) publish(scroll bool) {
	view := t.view(scroll)
	t.notifyMu.Lock()
	t.mu.Unlock()
	defer t.notifyMu.Unlock()
	t.updates.emit(view)
}
