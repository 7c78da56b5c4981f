package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/transport"
)

func TestClientRejectsSecondLiveSession(t *testing.T) {
	conn := transport.New("ws://localhost:0/ws")
	c := NewClient(conn, "rider-1")

	first, err := c.NewSession(place(1, 2), place(3, 4), Callbacks{})
	require.NoError(t, err)
	require.Same(t, first, c.Active())

	_, err = c.NewSession(place(1, 2), place(3, 4), Callbacks{})
	var ase *ActiveSessionError
	require.ErrorAs(t, err, &ase)
	assert.Equal(t, first.ID(), ase.RideID)

	// once the first attempt is terminal a new one may start
	first.Cancel()
	second, err := c.NewSession(place(1, 2), place(3, 4), Callbacks{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Same(t, second, c.Active())
}

func TestClientSessionIdsNeverReused(t *testing.T) {
	conn := transport.New("ws://localhost:0/ws")
	c := NewClient(conn, "rider-1")

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		s, err := c.NewSession(place(1, 2), place(3, 4), Callbacks{})
		require.NoError(t, err)
		require.False(t, seen[s.ID()], "ride id reused")
		seen[s.ID()] = true
		s.Cancel()
	}
}
