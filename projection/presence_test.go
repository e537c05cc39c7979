package projection

import (
	"clinic-chat/domain"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanSend(t *testing.T) {
	tests := []struct {
		state    domain.ConnectionState
		selected bool
		want     bool
	}{
		{domain.Connected, true, true},
		{domain.Connected, false, false},
		{domain.Connecting, true, false},
		{domain.Reconnecting, true, false},
		{domain.Disconnected, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			require.Equal(t, tt.want, CanSend(tt.state, tt.selected))
		})
	}
}

func TestLabel_PendingDiffersFromFailure(t *testing.T) {
	req := require.New(t)

	label, severity := Label(domain.Reconnecting)
	req.Equal("Reconnecting…", label)
	req.Equal(SeverityPending, severity)

	label, severity = Label(domain.Connecting)
	req.Equal("Connecting…", label)
	req.Equal(SeverityPending, severity)

	label, severity = Label(domain.Disconnected)
	req.Equal("Offline", label)
	req.Equal(SeverityFailed, severity)

	label, severity = Label(domain.Connected)
	req.Equal("Online", label)
	req.Equal(SeverityOK, severity)
}

func TestPresenceGate_FollowsStateAndSelection(t *testing.T) {
	req := require.New(t)
	gate := NewPresenceGate()
	var statuses []Status
	unsubscribe := gate.OnUpdate(func(s Status) { statuses = append(statuses, s) })

	// Given a fresh gate
	req.Equal("Offline", gate.Status().Label)
	req.False(gate.CanSend())

	// When connected without selection
	gate.Observe(domain.Connecting)
	gate.Observe(domain.Connected)
	gate.Observe(domain.Connected)
	req.False(gate.CanSend())

	// When a conversation is selected
	gate.SetSelected(true)
	req.True(gate.CanSend())

	// When the transport drops
	gate.Observe(domain.Reconnecting)
	req.False(gate.CanSend())
	req.Equal(SeverityPending, gate.Status().Severity)

	// Then every distinct change was published once
	req.Len(statuses, 4)
	req.Equal(domain.Reconnecting, statuses[3].State)

	unsubscribe()
	gate.Observe(domain.Disconnected)
	req.Len(statuses, 4)
}
