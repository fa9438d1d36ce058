// ABOUTME: Tests for the fleet registry and the connection state machine
// ABOUTME: Covers reservations, session id stability and allowed transitions

package fleet

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ReserveAndRelease(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Reserve("xoxb-1"))
	assert.True(t, r.Running("xoxb-1"))
	assert.ErrorIs(t, r.Reserve("xoxb-1"), ErrAlreadyRunning)
	assert.Equal(t, 0, r.Count(), "reservations are not live connections")

	r.Release("xoxb-1")
	assert.False(t, r.Running("xoxb-1"))
	assert.NoError(t, r.Reserve("xoxb-1"))
}

func TestRegistry_SessionIsStablePerChannel(t *testing.T) {
	r := NewRegistry()

	a1 := r.Session("T1", "C1")
	a2 := r.Session("T1", "C1")
	b := r.Session("T1", "C2")
	other := r.Session("T2", "C1")

	assert.Equal(t, a1, a2, "repeat lookups return the same id")
	assert.NotEqual(t, a1, b, "distinct channels get distinct ids")
	assert.NotEqual(t, a1, other, "the same channel id in another workspace is a different session")
	assert.Equal(t, 3, r.SessionCount())
}

func TestRegistry_SessionConcurrentFirstUse(t *testing.T) {
	r := NewRegistry()

	ids := make([]string, 50)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = r.Session("T1", "C-hot")
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, r.SessionCount())
}

func TestRegistry_FreshRegistryFreshSessions(t *testing.T) {
	a := NewRegistry().Session("T1", "C1")
	b := NewRegistry().Session("T1", "C1")
	assert.NotEqual(t, a, b)
}

func TestRegistry_ManyChannelsUnique(t *testing.T) {
	r := NewRegistry()
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := r.Session("T1", fmt.Sprintf("C%d", i))
		assert.False(t, seen[id], "session id reused")
		seen[id] = true
	}
}

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateConnecting, StateOpen, true},
		{StateConnecting, StateTerminated, true},
		{StateConnecting, StateClosed, false},
		{StateOpen, StateClosed, true},
		{StateOpen, StateTerminated, true},
		{StateOpen, StateReconnecting, false},
		{StateClosed, StateReconnecting, true},
		{StateClosed, StateOpen, false},
		{StateReconnecting, StateOpen, true},
		{StateReconnecting, StateTerminated, true},
		{StateTerminated, StateOpen, false},
		{StateTerminated, StateConnecting, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestRestartPolicy_Allows(t *testing.T) {
	forever := DefaultRestartPolicy()
	assert.True(t, forever.Allows(1))
	assert.True(t, forever.Allows(10000))

	capped := RestartPolicy{MaxAttempts: 3}
	assert.True(t, capped.Allows(3))
	assert.False(t, capped.Allows(4))
}
