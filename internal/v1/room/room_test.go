package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osobh/parley/internal/v1/protocol"
	"github.com/osobh/parley/internal/v1/store"
	"github.com/osobh/parley/internal/v1/tools"
	"github.com/osobh/parley/internal/v1/types"
)

// fakeConn records every frame sent to it. Safe for concurrent use so
// federation tests can assert across goroutines.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// events decodes everything the connection has received.
func (c *fakeConn) events(t *testing.T) []*protocol.Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*protocol.Event, 0, len(c.frames))
	for _, f := range c.frames {
		ev, err := protocol.DecodeEvent(f)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func (c *fakeConn) eventsOfType(t *testing.T, typ protocol.EventType) []*protocol.Event {
	t.Helper()
	var out []*protocol.Event
	for _, ev := range c.events(t) {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) lastEvent(t *testing.T) *protocol.Event {
	t.Helper()
	evs := c.events(t)
	require.NotEmpty(t, evs)
	return evs[len(evs)-1]
}

func newTestRoom(t *testing.T, repo *store.Memory) *Room {
	t.Helper()
	r := NewRoom(context.Background(), Options{
		ID:       "room-1",
		Topic:    "caching strategy",
		Mode:     types.ModeDeep,
		ServerID: "node-test",
		Repo:     repo,
	})
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func join(r *Room, conn types.Conn, id, name, role string) {
	r.HandleCommand(conn, &protocol.Command{
		Type:      protocol.CmdJoin,
		Timestamp: 1,
		AgentID:   id,
		AgentName: name,
		Role:      role,
	})
}

func TestRoom_JoinSendsWelcome(t *testing.T) {
	r := newTestRoom(t, store.NewMemory())

	alice := &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")

	welcome := alice.lastEvent(t)
	assert.Equal(t, protocol.EvtWelcome, welcome.Type)
	assert.Equal(t, "room-1", welcome.RoomID)
	assert.Equal(t, "caching strategy", welcome.Topic)
	assert.Equal(t, "deep", welcome.Mode)
	assert.Equal(t, 1, welcome.AgentCount)

	bob := &fakeConn{}
	join(r, bob, "bob", "Bob", "critic")

	assert.Equal(t, 2, bob.lastEvent(t).AgentCount)

	joined := alice.eventsOfType(t, protocol.EvtAgentJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "bob", joined[0].AgentID)
	assert.Equal(t, "Bob", joined[0].AgentName)
	assert.Equal(t, "critic", joined[0].Role)

	// The joiner does not see its own AGENT_JOINED.
	assert.Empty(t, bob.eventsOfType(t, protocol.EvtAgentJoined))
}

func TestRoom_DuplicateJoinErrorsAndKeepsConnection(t *testing.T) {
	r := newTestRoom(t, store.NewMemory())

	alice := &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")

	second := &fakeConn{}
	join(r, second, "alice", "Alice again", "critic")

	errEvt := second.lastEvent(t)
	assert.Equal(t, protocol.EvtError, errEvt.Type)
	assert.Contains(t, errEvt.Message, "alice")
	assert.Equal(t, 1, r.AgentCount())
	assert.False(t, second.isClosed())
}

func TestRoom_MessageBroadcastExcludesSender(t *testing.T) {
	repo := store.NewMemory()
	r := newTestRoom(t, repo)

	alice, bob := &fakeConn{}, &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")
	join(r, bob, "bob", "Bob", "critic")

	r.HandleCommand(alice, &protocol.Command{
		Type:      protocol.CmdMessage,
		Timestamp: 42,
		AgentID:   "alice",
		Content:   "Hello Bob!",
	})

	msgs := bob.eventsOfType(t, protocol.EvtMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].AgentID)
	assert.Equal(t, "Hello Bob!", msgs[0].Content)
	assert.Equal(t, int64(42), msgs[0].Timestamp)

	assert.Empty(t, alice.eventsOfType(t, protocol.EvtMessage))

	records := repo.Messages("room-1")
	require.Len(t, records, 1)
	assert.Equal(t, "Hello Bob!", records[0].Content)
	assert.Equal(t, "architect", records[0].Role)
}

func TestRoom_MessageFromUnknownAgentIsDropped(t *testing.T) {
	repo := store.NewMemory()
	r := newTestRoom(t, repo)

	alice := &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")

	stranger := &fakeConn{}
	r.HandleCommand(stranger, &protocol.Command{
		Type:      protocol.CmdMessage,
		Timestamp: 1,
		AgentID:   "ghost",
		Content:   "boo",
	})

	assert.Empty(t, stranger.events(t))
	assert.Empty(t, alice.eventsOfType(t, protocol.EvtMessage))
	assert.Empty(t, repo.Messages("room-1"))
}

func TestRoom_LeaveRestoresAgentCount(t *testing.T) {
	repo := store.NewMemory()
	r := newTestRoom(t, repo)

	alice, bob := &fakeConn{}, &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")
	before := r.AgentCount()

	r.HandleCommand(bob, &protocol.Command{
		Type:      protocol.CmdJoin,
		Timestamp: 1,
		AgentID:   "bob",
		AgentName: "Bob",
		Role:      "critic",
		Metadata:  json.RawMessage(`{"model":"small"}`),
	})
	require.Equal(t, before+1, r.AgentCount())

	r.HandleCommand(bob, &protocol.Command{Type: protocol.CmdLeave, Timestamp: 2, AgentID: "bob"})

	assert.Equal(t, before, r.AgentCount())
	left := alice.eventsOfType(t, protocol.EvtAgentLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "bob", left[0].AgentID)

	_, ok := repo.Metadata("room-1", "bob")
	assert.False(t, ok)
}

func TestRoom_LeaveByOtherConnectionIsIgnored(t *testing.T) {
	r := newTestRoom(t, store.NewMemory())

	alice := &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")

	imposter := &fakeConn{}
	r.HandleCommand(imposter, &protocol.Command{Type: protocol.CmdLeave, Timestamp: 1, AgentID: "alice"})

	assert.Equal(t, 1, r.AgentCount())
}

func TestRoom_DisconnectEquivalentToLeave(t *testing.T) {
	r := newTestRoom(t, store.NewMemory())

	alice, bob := &fakeConn{}, &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")
	join(r, bob, "bob", "Bob", "critic")

	r.HandleDisconnect(bob)

	assert.Equal(t, 1, r.AgentCount())
	assert.Len(t, alice.eventsOfType(t, protocol.EvtAgentLeft), 1)

	// Unknown connections are ignored.
	r.HandleDisconnect(&fakeConn{})
	assert.Equal(t, 1, r.AgentCount())
}

func TestRoom_ProposalFlowApproved(t *testing.T) {
	repo := store.NewMemory()
	r := newTestRoom(t, repo)

	alice, bob := &fakeConn{}, &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")
	join(r, bob, "bob", "Bob", "critic")

	r.HandleCommand(alice, &protocol.Command{
		Type:       protocol.CmdCreateProposal,
		Timestamp:  10,
		ProposalID: "p1",
		Title:      "Use PostgreSQL",
		ProposerID: "alice",
	})

	created := bob.eventsOfType(t, protocol.EvtProposalCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "p1", created[0].ProposalID)
	// Mode deep defaults the threshold to 0.6.
	assert.Equal(t, 0.6, created[0].Threshold)
	assert.Equal(t, "Alice", created[0].ProposerName)

	// The proposer also sees PROPOSAL_CREATED.
	require.Len(t, alice.eventsOfType(t, protocol.EvtProposalCreated), 1)

	rec, ok := repo.Proposal("p1")
	require.True(t, ok)
	assert.Equal(t, "pending", rec.Status)

	r.HandleCommand(bob, &protocol.Command{
		Type:       protocol.CmdVote,
		Timestamp:  11,
		ProposalID: "p1",
		AgentID:    "bob",
		Vote:       "yes",
		Rationale:  "sound choice",
	})

	cast := alice.eventsOfType(t, protocol.EvtVoteCast)
	require.Len(t, cast, 1)
	assert.Equal(t, "yes", cast[0].Vote)
	assert.Equal(t, "sound choice", cast[0].Rationale)

	resolved := alice.eventsOfType(t, protocol.EvtProposalResolved)
	require.Len(t, resolved, 1)
	assert.Equal(t, "approved", resolved[0].Status)
	assert.Equal(t, 1, resolved[0].Yes)
	assert.Equal(t, 0, resolved[0].No)
	assert.Equal(t, 1, resolved[0].Total)

	rec, _ = repo.Proposal("p1")
	assert.Equal(t, "approved", rec.Status)

	// Voting on a resolved proposal returns ERROR to the voter only.
	r.HandleCommand(alice, &protocol.Command{
		Type:       protocol.CmdVote,
		Timestamp:  12,
		ProposalID: "p1",
		AgentID:    "alice",
		Vote:       "no",
	})
	errEvt := alice.lastEvent(t)
	assert.Equal(t, protocol.EvtError, errEvt.Type)
	assert.Contains(t, errEvt.Message, "already approved")
	assert.Len(t, bob.eventsOfType(t, protocol.EvtVoteCast), 1)
}

func TestRoom_ProposalFromNonMemberErrors(t *testing.T) {
	r := newTestRoom(t, store.NewMemory())

	stranger := &fakeConn{}
	r.HandleCommand(stranger, &protocol.Command{
		Type:       protocol.CmdCreateProposal,
		Timestamp:  1,
		Title:      "motion",
		ProposerID: "ghost",
	})

	errEvt := stranger.lastEvent(t)
	assert.Equal(t, protocol.EvtError, errEvt.Type)
	assert.Contains(t, errEvt.Message, "unknown proposer")
}

func TestRoom_ProposalThresholdOverride(t *testing.T) {
	r := newTestRoom(t, store.NewMemory())

	alice := &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")

	threshold := 0.75
	r.HandleCommand(alice, &protocol.Command{
		Type:       protocol.CmdCreateProposal,
		Timestamp:  1,
		ProposalID: "p1",
		Title:      "motion",
		ProposerID: "alice",
		Threshold:  &threshold,
	})

	p, ok := r.Votes().Get("p1")
	require.True(t, ok)
	assert.Equal(t, 0.75, p.Threshold)
}

func TestRoom_ProposalGeneratesIDWhenAbsent(t *testing.T) {
	r := newTestRoom(t, store.NewMemory())

	alice := &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")

	r.HandleCommand(alice, &protocol.Command{
		Type:       protocol.CmdCreateProposal,
		Timestamp:  1,
		Title:      "motion",
		ProposerID: "alice",
	})

	created := alice.eventsOfType(t, protocol.EvtProposalCreated)
	require.Len(t, created, 1)
	assert.NotEmpty(t, created[0].ProposalID)
}

func TestRoom_VoteOnUnknownProposalErrorsVoterOnly(t *testing.T) {
	r := newTestRoom(t, store.NewMemory())

	alice, bob := &fakeConn{}, &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")
	join(r, bob, "bob", "Bob", "critic")

	r.HandleCommand(bob, &protocol.Command{
		Type:       protocol.CmdVote,
		Timestamp:  1,
		ProposalID: "ghost",
		AgentID:    "bob",
		Vote:       "yes",
	})

	assert.Equal(t, protocol.EvtError, bob.lastEvent(t).Type)
	assert.Empty(t, alice.eventsOfType(t, protocol.EvtVoteCast))
}

func TestRoom_UpdateMetadataBroadcastsToAll(t *testing.T) {
	repo := store.NewMemory()
	r := newTestRoom(t, repo)

	alice, bob := &fakeConn{}, &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")
	join(r, bob, "bob", "Bob", "critic")

	blob := json.RawMessage(`{"model":"large"}`)
	r.HandleCommand(alice, &protocol.Command{
		Type:      protocol.CmdUpdateMetadata,
		Timestamp: 1,
		AgentID:   "alice",
		Metadata:  blob,
	})

	// Sender included, so distributed views stay consistent.
	for _, conn := range []*fakeConn{alice, bob} {
		updated := conn.eventsOfType(t, protocol.EvtMetadataUpdated)
		require.Len(t, updated, 1)
		assert.Equal(t, "alice", updated[0].AgentID)
		assert.JSONEq(t, string(blob), string(updated[0].Metadata))
	}

	rec, ok := repo.Metadata("room-1", "alice")
	require.True(t, ok)
	assert.JSONEq(t, string(blob), string(rec.Metadata))

	// Unknown agents are silently dropped.
	stranger := &fakeConn{}
	r.HandleCommand(stranger, &protocol.Command{
		Type:      protocol.CmdUpdateMetadata,
		Timestamp: 2,
		AgentID:   "ghost",
		Metadata:  blob,
	})
	assert.Empty(t, stranger.events(t))
}

func TestRoom_InvokeTool(t *testing.T) {
	r := newTestRoom(t, store.NewMemory())

	alice := &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")

	r.Tools().Register(&tools.Tool{
		Name:        "search",
		Permissions: tools.Permissions{Tier: tools.TierAll},
		Enabled:     true,
	})

	args := json.RawMessage(`{"query":"cache invalidation"}`)
	r.HandleCommand(alice, &protocol.Command{
		Type:      protocol.CmdInvokeTool,
		Timestamp: 1,
		AgentID:   "alice",
		ToolName:  "search",
		Arguments: args,
	})

	results := alice.eventsOfType(t, protocol.EvtToolResult)
	require.Len(t, results, 1)
	assert.Equal(t, "search", results[0].ToolName)
	assert.JSONEq(t, string(args), string(results[0].Result))

	stats := r.Tools().Stats("search")
	assert.Equal(t, 1, stats.TotalCalls)
}

func TestRoom_InvokeToolDenied(t *testing.T) {
	r := newTestRoom(t, store.NewMemory())

	alice := &fakeConn{}
	join(r, alice, "alice", "Alice", "participant")

	r.Tools().Register(&tools.Tool{
		Name:        "moderate",
		Permissions: tools.Permissions{Tier: tools.TierModerator},
		Enabled:     true,
	})

	r.HandleCommand(alice, &protocol.Command{
		Type:      protocol.CmdInvokeTool,
		Timestamp: 1,
		AgentID:   "alice",
		ToolName:  "moderate",
	})

	errEvt := alice.lastEvent(t)
	assert.Equal(t, protocol.EvtError, errEvt.Type)
	assert.Contains(t, errEvt.Message, "permission denied")
	assert.Zero(t, r.Tools().Stats("moderate").TotalCalls)
}

func TestRoom_InvokeToolRateLimited(t *testing.T) {
	r := newTestRoom(t, store.NewMemory())

	alice := &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")

	r.Tools().Register(&tools.Tool{
		Name:        "search",
		Permissions: tools.Permissions{Tier: tools.TierAll},
		RateLimit:   &tools.RateLimit{PerHour: 1},
		Enabled:     true,
	})

	invoke := &protocol.Command{
		Type:      protocol.CmdInvokeTool,
		Timestamp: 1,
		AgentID:   "alice",
		ToolName:  "search",
	}
	r.HandleCommand(alice, invoke)
	r.HandleCommand(alice, invoke)

	errEvt := alice.lastEvent(t)
	assert.Equal(t, protocol.EvtError, errEvt.Type)
	assert.Contains(t, errEvt.Message, "rate limit")
	assert.Len(t, alice.eventsOfType(t, protocol.EvtToolResult), 1)
}

func TestRoom_WelcomeListsPermittedTools(t *testing.T) {
	repo := store.NewMemory()
	r := newTestRoom(t, repo)

	r.Tools().Register(&tools.Tool{
		Name:        "search",
		Permissions: tools.Permissions{Tier: tools.TierAll},
		Enabled:     true,
	})
	r.Tools().Register(&tools.Tool{
		Name:        "moderate",
		Permissions: tools.Permissions{Tier: tools.TierModerator},
		Enabled:     true,
	})

	alice := &fakeConn{}
	join(r, alice, "alice", "Alice", "moderator")

	welcome := alice.lastEvent(t)
	require.Equal(t, protocol.EvtWelcome, welcome.Type)
	assert.ElementsMatch(t, []string{"search", "moderate"}, welcome.Tools)
}

func TestRoom_UnknownCommandErrors(t *testing.T) {
	r := newTestRoom(t, store.NewMemory())

	alice := &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")

	r.HandleCommand(alice, &protocol.Command{Type: protocol.CmdCreateRoom, Timestamp: 1, Topic: "x"})
	assert.Equal(t, protocol.EvtError, alice.lastEvent(t).Type)
}

func TestRoom_ShutdownClosesConnectionsAndIsIdempotent(t *testing.T) {
	r := NewRoom(context.Background(), Options{
		ID:       "room-x",
		Topic:    "t",
		Mode:     types.ModeQuick,
		ServerID: "node-test",
		Repo:     store.NewMemory(),
	})

	alice := &fakeConn{}
	join(r, alice, "alice", "Alice", "architect")

	require.NoError(t, r.Shutdown(context.Background()))
	assert.True(t, alice.isClosed())
	assert.Equal(t, 0, r.AgentCount())

	require.NoError(t, r.Shutdown(context.Background()))
}

func TestRoom_ShutdownCallbackFires(t *testing.T) {
	var got string
	r := NewRoom(context.Background(), Options{
		ID:         "room-x",
		Topic:      "t",
		Mode:       types.ModeQuick,
		ServerID:   "node-test",
		Repo:       store.NewMemory(),
		OnShutdown: func(id string) { got = id },
	})

	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, "room-x", got)
}
