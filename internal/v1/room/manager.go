package room

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/osobh/parley/internal/v1/bus"
	"github.com/osobh/parley/internal/v1/logging"
	"github.com/osobh/parley/internal/v1/metrics"
	"github.com/osobh/parley/internal/v1/protocol"
	"github.com/osobh/parley/internal/v1/store"
	"github.com/osobh/parley/internal/v1/types"
)

// ManagerOptions carries the node-level collaborators every room shares.
type ManagerOptions struct {
	ServerID    string
	Repo        store.Repository
	Bus         bus.Bus
	SeenIDLimit int
}

// Manager owns the id-indexed collection of live rooms on this node.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	opts  ManagerOptions
}

// NewManager creates an empty room collection.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
		opts:  opts,
	}
}

// Create registers a new room. An empty id gets a generated one;
// registering an existing id is an error.
func (m *Manager) Create(ctx context.Context, id, topic string, mode types.Mode) (*Room, error) {
	if id == "" {
		id = "room-" + uuid.NewString()[:8]
	}

	m.mu.Lock()
	if _, exists := m.rooms[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("room %s already exists", id)
	}

	r := NewRoom(ctx, Options{
		ID:          id,
		Topic:       topic,
		Mode:        mode,
		ServerID:    m.opts.ServerID,
		Repo:        m.opts.Repo,
		Bus:         m.opts.Bus,
		SeenIDLimit: m.opts.SeenIDLimit,
		OnShutdown:  m.remove,
	})
	m.rooms[id] = r
	count := len(m.rooms)
	m.mu.Unlock()

	metrics.ActiveRooms.Set(float64(count))
	logging.Info(ctx, "Room created",
		zap.String("roomId", id),
		zap.String("topic", topic),
		zap.String("mode", string(mode)),
	)
	return r, nil
}

// Get returns a room by id.
func (m *Manager) Get(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Has reports whether a room id is registered.
func (m *Manager) Has(id string) bool {
	_, ok := m.Get(id)
	return ok
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// List returns summaries of every live room for ROOM_LIST responses.
func (m *Manager) List() []protocol.RoomSummary {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]protocol.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, protocol.RoomSummary{
			RoomID:     r.ID,
			Topic:      r.Topic,
			Mode:       string(r.Mode),
			AgentCount: r.AgentCount(),
		})
	}
	return out
}

// FindByTopic returns rooms whose topic contains the query,
// case-insensitively.
func (m *Manager) FindByTopic(query string) []*Room {
	q := strings.ToLower(query)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Room
	for _, r := range m.rooms {
		if strings.Contains(strings.ToLower(r.Topic), q) {
			out = append(out, r)
		}
	}
	return out
}

// Delete shuts a room down and unregisters it. The room is popped
// before Shutdown runs so the shutdown callback cannot re-enter the
// manager lock.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	r, ok := m.rooms[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("room %s not found", id)
	}
	delete(m.rooms, id)
	count := len(m.rooms)
	m.mu.Unlock()

	metrics.ActiveRooms.Set(float64(count))
	return r.Shutdown(ctx)
}

// remove unregisters a room that shut itself down. A no-op when Delete
// already popped it.
func (m *Manager) remove(id string) {
	m.mu.Lock()
	_, ok := m.rooms[id]
	if ok {
		delete(m.rooms, id)
	}
	count := len(m.rooms)
	m.mu.Unlock()

	if ok {
		metrics.ActiveRooms.Set(float64(count))
	}
}

// ShutdownAll drains every room, used on server shutdown.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	for _, r := range rooms {
		if err := r.Shutdown(ctx); err != nil {
			logging.Error(ctx, "Room shutdown incomplete", zap.String("roomId", r.ID), zap.Error(err))
		}
	}
	metrics.ActiveRooms.Set(0)
}
