package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-backend/internal/model"
)

func drain(s *Session) []string {
	var out []string
	for {
		select {
		case msg := <-s.Outbound():
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestTransitions_HappyPath(t *testing.T) {
	s := New("room", 8)
	assert.Equal(t, StateConnecting, s.GetState())

	for _, next := range []State{StateAuthenticating, StateVerifyingMembership, StateJoining, StateActive, StateLeaving} {
		require.NoError(t, s.Transition(next), "to %s", next)
	}
	assert.True(t, s.GetState().Terminal())

	require.NoError(t, s.Transition(StateClosed))
	assert.ErrorIs(t, s.Transition(StateClosed), ErrInvalidTransition)
}

func TestTransitions_Rejected(t *testing.T) {
	s := New("room", 8)

	assert.ErrorIs(t, s.Transition(StateActive), ErrInvalidTransition)
	assert.Equal(t, StateConnecting, s.GetState())

	// failing early goes straight to closed
	require.NoError(t, s.Transition(StateClosed))

	s = New("room", 8)
	for _, next := range []State{StateAuthenticating, StateVerifyingMembership, StateJoining, StateActive, StateRemoved} {
		require.NoError(t, s.Transition(next))
	}
	// a removed session cannot also leave
	assert.ErrorIs(t, s.Transition(StateLeaving), ErrInvalidTransition)
	assert.ErrorIs(t, s.Transition(StateDisconnected), ErrInvalidTransition)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "verifying_membership", StateVerifyingMembership.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestBacklogUntilReady(t *testing.T) {
	s := New("room", 8)

	require.True(t, s.Send([]byte("room-info")))
	require.True(t, s.Deliver([]byte("peer-drew-1")))
	require.True(t, s.Send([]byte("canvas-state")))
	require.True(t, s.Deliver([]byte("peer-drew-2")))
	require.True(t, s.Activate([]byte("ready")))
	require.True(t, s.Deliver([]byte("peer-drew-3")))

	assert.Equal(t, []string{"room-info", "canvas-state", "ready", "peer-drew-1", "peer-drew-2", "peer-drew-3"}, drain(s))
}

func TestOverflowClosesSession(t *testing.T) {
	s := New("room", 1)
	require.True(t, s.Send([]byte("a")))

	assert.False(t, s.Send([]byte("b")))
	assert.True(t, s.Overflowed())
	assert.True(t, s.IsClosed())
	assert.False(t, s.Send([]byte("c")))
}

func TestRole(t *testing.T) {
	s := New("room", 1)
	s.SetIdentity("u1", "Uma", nil, model.RoleMember)
	assert.Equal(t, model.RoleMember, s.Role())

	s.SetRole(model.RoleAdmin)
	assert.Equal(t, model.RoleAdmin, s.Role())
	assert.Equal(t, "u1", s.UserID())
	assert.Equal(t, "Uma", s.Name())
}
