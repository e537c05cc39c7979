package projection

import (
	"clinic-chat/domain"
	"sync"
)

// Severity tells pending connection states apart from failures.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityPending
	SeverityFailed
)

func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "ok"
	case SeverityPending:
		return "pending"
	default:
		return "failed"
	}
}

// Status is what the presence indicator shows.
type Status struct {
	State    domain.ConnectionState
	Label    string
	Severity Severity
	CanSend  bool
}

// CanSend reports whether chat actions are allowed.
func CanSend(state domain.ConnectionState, selected bool) bool {
	return state == domain.Connected && selected
}

// Label returns the human readable status of state.
func Label(state domain.ConnectionState) (string, Severity) {
	switch state {
	case domain.Connected:
		return "Online", SeverityOK
	case domain.Connecting:
		return "Connecting…", SeverityPending
	case domain.Reconnecting:
		return "Reconnecting…", SeverityPending
	default:
		return "Offline", SeverityFailed
	}
}

// PresenceGate derives the presence status from the connection state and
// whether a conversation is selected.
type PresenceGate struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	state    domain.ConnectionState
	selected bool
	updates  listeners[Status]
}

func NewPresenceGate() *PresenceGate {
	return &PresenceGate{state: domain.Disconnected}
}

// Observe records a connection state change.
func (g *PresenceGate) Observe(state domain.ConnectionState) {
	g.mu.Lock()
	if g.state == state {
		g.mu.Unlock()
		return
	}
	g.state = state
	g.publish()
}

func (g *PresenceGate) SetSelected(selected bool) {
	g.mu.Lock()
	if g.selected == selected {
		g.mu.Unlock()
		return
	}
	g.selected = selected
	g.publish()
}

func (g *PresenceGate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status()
}

func (g *PresenceGate) CanSend() bool {
	return g.Status().CanSend
}

func (g *PresenceGate) OnUpdate(handler func(Status)) func() {
	return g.updates.add(handler)
}

func (g *PresenceGate) status() Status {
	label, severity := Label(g.state)
	return Status{
		State:    g.state,
		Label:    label,
		Severity: severity,
		CanSend:  CanSend(g.state, g.selected),
	}
}

// publish releases mu and notifies the listeners in change order.
func (g *PresenceGate) publish() {
	status := g.status()
	g.notifyMu.Lock()
	g.mu.Unlock()
	defer g.notifyMu.Unlock()
	g.updates.emit(status)
}
