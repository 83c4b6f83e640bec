// Package room implements the conversation engine: membership, message
// fan-out, the proposal/vote state machine, topic lifecycle, the tool
// registry, and the federation bridge to the message bus.
package room

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/osobh/parley/internal/v1/bus"
	"github.com/osobh/parley/internal/v1/logging"
	"github.com/osobh/parley/internal/v1/metrics"
	"github.com/osobh/parley/internal/v1/store"
	"github.com/osobh/parley/internal/v1/tools"
	"github.com/osobh/parley/internal/v1/types"
	"github.com/osobh/parley/internal/v1/voting"
)

// Agent is one room member: an identity string, display name, role,
// transport handle, and an opaque metadata blob.
type Agent struct {
	ID       string
	Name     string
	Role     string
	Conn     types.Conn
	Metadata types.AgentMetadata
}

// Options configures a new Room.
type Options struct {
	ID          string
	Topic       string
	Mode        types.Mode
	ServerID    string
	Repo        store.Repository
	Bus         bus.Bus
	SeenIDLimit int
	OnShutdown  func(roomID string)
}

// Room is one conversation scope. Every mutation of room state is
// serialized by mu; that is the only atomicity guarantee the protocol
// requires. Different rooms are independent.
type Room struct {
	ID       string
	Topic    string
	Mode     types.Mode
	serverID string

	mu     sync.RWMutex
	agents map[string]*Agent

	votes    *voting.Manager
	registry *tools.Registry
	repo     store.Repository
	bus      bus.Bus

	seenIDs *seenSet
	ownIDs  *seenSet

	topics        []*DiscussionTopic
	activeTopicID string
	topicSeq      int

	onShutdown   func(string)
	shutdownOnce sync.Once

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	unsubscribeBus   func()
	unsubscribeVotes func()

	publishChan chan struct{} // Semaphore bounding in-flight bus publishes
}

// NewRoom creates a Room, seeds its topic list with one active topic
// equal to the room topic, and attaches the bus bridge when a bus is
// configured.
func NewRoom(ctx context.Context, opts Options) *Room {
	if opts.SeenIDLimit <= 0 {
		opts.SeenIDLimit = 10000
	}
	r := &Room{
		ID:          opts.ID,
		Topic:       opts.Topic,
		Mode:        opts.Mode,
		serverID:    opts.ServerID,
		agents:      make(map[string]*Agent),
		votes:       voting.NewManager(),
		registry:    tools.NewRegistry(),
		repo:        opts.Repo,
		bus:         opts.Bus,
		seenIDs:     newSeenSet(opts.SeenIDLimit),
		ownIDs:      newSeenSet(opts.SeenIDLimit),
		onShutdown:  opts.OnShutdown,
		publishChan: make(chan struct{}, 100), // Limit concurrent publishes
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.addTopicLocked(opts.Topic, "", TopicActive)

	// The room forwards resolution events as PROPOSAL_RESOLVED frames.
	// Listeners fire within the room's critical section (votes are only
	// driven from there), so the handler must not re-lock mu.
	r.unsubscribeVotes = r.votes.Subscribe(r.onProposalResolved)

	if r.bus != nil {
		r.unsubscribeBus = r.bus.Subscribe(r.ctx, &r.wg, r.handleBusMessage)
		logging.Info(r.ctx, "Subscribed room to federation bus", zap.String("roomId", r.ID))
	}

	return r
}

// Tools returns the room's tool registry for registration and stats.
func (r *Room) Tools() *tools.Registry {
	return r.registry
}

// Votes returns the room's proposal collection.
func (r *Room) Votes() *voting.Manager {
	return r.votes
}

// AgentCount returns the current number of members.
func (r *Room) AgentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// HasAgent reports whether an agent id is a member.
func (r *Room) HasAgent(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// HasConn reports whether a transport handle belongs to a member.
func (r *Room) HasConn(conn types.Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agentByConnLocked(conn) != nil
}

// Agents returns a snapshot of the membership for tests and exporters.
func (r *Room) Agents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, *a)
	}
	return out
}

func (r *Room) agentByConnLocked(conn types.Conn) *Agent {
	for _, a := range r.agents {
		if a.Conn == conn {
			return a
		}
	}
	return nil
}

// broadcastRawLocked sends pre-encoded bytes to every member except
// the given connection (nil = everyone). Caller must hold mu.
func (r *Room) broadcastRawLocked(data []byte, except types.Conn) {
	for _, a := range r.agents {
		if a.Conn != nil && a.Conn != except {
			a.Conn.Send(data)
		}
	}
}

// publishAsync hands a bus publish to a bounded worker so a slow bus
// never stalls the room. On a full queue the message is dropped with a
// logged warning.
func (r *Room) publishAsync(m bus.Message) {
	if r.bus == nil {
		return
	}
	select {
	case r.publishChan <- struct{}{}:
		r.wg.Add(1)
		go func() {
			defer func() {
				<-r.publishChan
				r.wg.Done()
			}()
			if err := r.bus.Publish(context.Background(), m); err != nil {
				logging.Error(r.ctx, "Bus publish failed", zap.String("roomId", r.ID), zap.Error(err))
			}
		}()
	default:
		metrics.BusPublishesDropped.Inc()
		logging.Warn(r.ctx, "Dropping bus publish - queue full", zap.String("roomId", r.ID))
	}
}

// Shutdown closes all member connections, detaches the bus and vote
// subscriptions, waits for in-flight work to drain, and fires the
// shutdown callback. It is idempotent.
func (r *Room) Shutdown(ctx context.Context) error {
	var err error
	r.shutdownOnce.Do(func() {
		logging.Info(r.ctx, "Shutting down room", zap.String("roomId", r.ID))
		r.cancel()
		if r.unsubscribeBus != nil {
			r.unsubscribeBus()
		}
		if r.unsubscribeVotes != nil {
			r.unsubscribeVotes()
		}

		r.mu.Lock()
		conns := make([]types.Conn, 0, len(r.agents))
		for _, a := range r.agents {
			if a.Conn != nil {
				conns = append(conns, a.Conn)
			}
		}
		r.agents = make(map[string]*Agent)
		r.mu.Unlock()

		for _, c := range conns {
			c.Close()
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			r.wg.Wait()
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}

		metrics.RoomAgents.DeleteLabelValues(r.ID)

		if r.onShutdown != nil {
			r.onShutdown(r.ID)
		}
	})
	return err
}
