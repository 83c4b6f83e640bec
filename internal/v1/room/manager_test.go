package room

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osobh/parley/internal/v1/store"
	"github.com/osobh/parley/internal/v1/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(ManagerOptions{
		ServerID: "node-test",
		Repo:     store.NewMemory(),
	})
	t.Cleanup(func() { m.ShutdownAll(context.Background()) })
	return m
}

func TestManager_CreateAndGet(t *testing.T) {
	m := newTestManager(t)

	r, err := m.Create(context.Background(), "room-1", "caching", types.ModeDeep)
	require.NoError(t, err)
	assert.Equal(t, "room-1", r.ID)

	got, ok := m.Get("room-1")
	require.True(t, ok)
	assert.Same(t, r, got)
	assert.True(t, m.Has("room-1"))
	assert.Equal(t, 1, m.Count())
}

func TestManager_CreateGeneratesID(t *testing.T) {
	m := newTestManager(t)

	r, err := m.Create(context.Background(), "", "caching", types.ModeQuick)
	require.NoError(t, err)
	assert.Regexp(t, `^room-[0-9a-f]{8}$`, r.ID)
}

func TestManager_CreateDuplicateFails(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Create(context.Background(), "room-1", "caching", types.ModeDeep)
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "room-1", "other", types.ModeQuick)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	assert.Equal(t, 1, m.Count())
}

func TestManager_List(t *testing.T) {
	m := newTestManager(t)

	r1, err := m.Create(context.Background(), "room-1", "caching", types.ModeDeep)
	require.NoError(t, err)
	_, err = m.Create(context.Background(), "room-2", "sharding", types.ModeQuick)
	require.NoError(t, err)

	alice := &fakeConn{}
	join(r1, alice, "alice", "Alice", "architect")

	list := m.List()
	require.Len(t, list, 2)

	byID := map[string]int{}
	for _, s := range list {
		byID[s.RoomID] = s.AgentCount
	}
	assert.Equal(t, 1, byID["room-1"])
	assert.Equal(t, 0, byID["room-2"])
}

func TestManager_FindByTopic(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Create(context.Background(), "room-1", "Caching Strategy", types.ModeDeep)
	require.NoError(t, err)
	_, err = m.Create(context.Background(), "room-2", "database sharding", types.ModeDeep)
	require.NoError(t, err)

	found := m.FindByTopic("CACHING")
	require.Len(t, found, 1)
	assert.Equal(t, "room-1", found[0].ID)

	assert.Len(t, m.FindByTopic("a"), 2)
	assert.Empty(t, m.FindByTopic("quantum"))
}

func TestManager_DeleteShutsRoomDown(t *testing.T) {
	m := newTestManager(t)

	r, err := m.Create(context.Background(), "room-1", "caching", types.ModeDeep)
	require.NoError(t, err)

	alice := &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")

	require.NoError(t, m.Delete(context.Background(), "room-1"))
	assert.False(t, m.Has("room-1"))
	assert.True(t, alice.isClosed())

	err = m.Delete(context.Background(), "room-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestManager_RoomShutdownAutoRemoves(t *testing.T) {
	m := newTestManager(t)

	r, err := m.Create(context.Background(), "room-1", "caching", types.ModeDeep)
	require.NoError(t, err)

	// A room shutting itself down unregisters via the callback.
	require.NoError(t, r.Shutdown(context.Background()))
	assert.False(t, m.Has("room-1"))
	assert.Equal(t, 0, m.Count())
}

func TestManager_ShutdownAll(t *testing.T) {
	m := NewManager(ManagerOptions{ServerID: "node-test", Repo: store.NewMemory()})

	r1, err := m.Create(context.Background(), "room-1", "a", types.ModeDeep)
	require.NoError(t, err)
	r2, err := m.Create(context.Background(), "room-2", "b", types.ModeDeep)
	require.NoError(t, err)

	a, b := &fakeConn{}, &fakeConn{}
	join(r1, a, "alice", "Alice", "architect")
	join(r2, b, "bob", "Bob", "critic")

	m.ShutdownAll(context.Background())

	assert.Equal(t, 0, m.Count())
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
}
