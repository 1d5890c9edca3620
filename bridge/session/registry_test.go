package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry(testLog, SpawnOptions{Command: "sh"})
	defer r.Close()

	s := r.Create()
	require.NotEmpty(t, s.ID())

	got, err := r.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = r.Get("no-such-session")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryIdsAreUnique(t *testing.T) {
	r := NewRegistry(testLog, SpawnOptions{Command: "sh"})
	defer r.Close()

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		s := r.Create()
		require.False(t, seen[s.ID()], "session id reused")
		seen[s.ID()] = true
	}
	assert.Equal(t, 100, r.Len())
}

func TestRegistryDestroyIdempotent(t *testing.T) {
	r := NewRegistry(testLog, SpawnOptions{Command: "sh"})
	defer r.Close()

	s := r.Create()
	r.Destroy(s.ID())
	r.Destroy(s.ID())
	r.Destroy("never-existed")

	_, err := r.Get(s.ID())
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, r.Len())

	// destroying the session object again is also a no-op
	s.Destroy()
}

func TestRegistrySessionsListing(t *testing.T) {
	r := NewRegistry(testLog, SpawnOptions{Command: "sh"})
	defer r.Close()

	first := r.Create()
	second := r.Create()

	infos := r.Sessions()
	require.Len(t, infos, 2)
	assert.Equal(t, first.ID(), infos[0].ID)
	assert.Equal(t, second.ID(), infos[1].ID)
	// no shell spawned yet
	assert.False(t, infos[0].Alive)
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry(testLog, SpawnOptions{Command: "sh"})
	r.Create()
	r.Create()
	r.Close()
	assert.Equal(t, 0, r.Len())
	r.Close()
}
