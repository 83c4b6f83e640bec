package room

import (
	"go.uber.org/zap"

	"github.com/osobh/parley/internal/v1/bus"
	"github.com/osobh/parley/internal/v1/logging"
	"github.com/osobh/parley/internal/v1/metrics"
	"github.com/osobh/parley/internal/v1/protocol"
	"github.com/osobh/parley/internal/v1/store"
)

// handleBusMessage is the federation ingress path. All rooms share one
// bus channel, so the payload's roomId routes the envelope; anything
// else is filtered before it touches local state:
//
//	room filter -> echo drop -> dedup -> MESSAGE-only -> persist -> fan out
//
// Remote frames are re-broadcast to every local member; the remote
// sender has no local connection to exclude.
func (r *Room) handleBusMessage(m bus.Message) {
	ev, err := protocol.DecodeEvent(m.Payload)
	if err != nil {
		logging.Warn(r.ctx, "Dropping undecodable bus payload", zap.String("roomId", r.ID), zap.Error(err))
		return
	}
	if ev.RoomID != r.ID {
		return
	}

	if m.ServerID == r.serverID {
		metrics.BusEchoesDropped.Inc()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Own-id check backs up the serverId comparison for buses that
	// rewrite the envelope.
	if r.ownIDs.Contains(m.MessageID) {
		metrics.BusEchoesDropped.Inc()
		return
	}
	if r.seenIDs.Contains(m.MessageID) {
		metrics.BusDeduplicated.Inc()
		return
	}
	r.seenIDs.Add(m.MessageID)

	// Only conversation messages federate. Membership, proposals, and
	// votes are local to the node that owns the connection.
	if ev.Type != protocol.EvtMessage {
		return
	}

	if err := r.repo.SaveMessage(r.ctx, store.MessageRecord{
		RoomID:    r.ID,
		AgentID:   ev.AgentID,
		AgentName: ev.AgentName,
		Role:      ev.Role,
		Content:   ev.Content,
		Timestamp: ev.Timestamp,
	}); err != nil {
		logging.Error(r.ctx, "Failed to persist federated message", zap.String("roomId", r.ID), zap.Error(err))
	}

	r.broadcastRawLocked(m.Payload, nil)
	metrics.MessagesBroadcast.Inc()
}
