package room

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/osobh/parley/internal/v1/bus"
	"github.com/osobh/parley/internal/v1/logging"
	"github.com/osobh/parley/internal/v1/metrics"
	"github.com/osobh/parley/internal/v1/protocol"
	"github.com/osobh/parley/internal/v1/store"
	"github.com/osobh/parley/internal/v1/types"
	"github.com/osobh/parley/internal/v1/voting"
)

// HandleCommand routes a decoded client frame to the matching handler.
// Room-level commands only; CREATE_ROOM and LIST_ROOMS are resolved by
// the session layer against the room manager.
func (r *Room) HandleCommand(conn types.Conn, cmd *protocol.Command) {
	switch cmd.Type {
	case protocol.CmdJoin:
		r.handleJoin(conn, cmd)
	case protocol.CmdLeave, protocol.CmdLeaveRoom:
		r.handleLeave(conn, cmd)
	case protocol.CmdMessage:
		r.handleMessage(conn, cmd)
	case protocol.CmdCreateProposal:
		r.handleCreateProposal(conn, cmd)
	case protocol.CmdVote:
		r.handleVote(conn, cmd)
	case protocol.CmdUpdateMetadata:
		r.handleUpdateMetadata(conn, cmd)
	case protocol.CmdInvokeTool:
		r.handleInvokeTool(conn, cmd)
	default:
		conn.Send(protocol.MustEncode(protocol.ErrorEvent("command not valid inside a room: " + string(cmd.Type))))
	}
}

// HandleDisconnect removes the member bound to the connection, with the
// same semantics as an explicit LEAVE. Unknown connections are ignored.
func (r *Room) HandleDisconnect(conn types.Conn) {
	r.mu.Lock()
	agent := r.agentByConnLocked(conn)
	if agent == nil {
		r.mu.Unlock()
		return
	}
	r.removeAgentLocked(agent)
	r.mu.Unlock()

	logging.Info(r.ctx, "Agent disconnected", zap.String("roomId", r.ID), zap.String("agentId", agent.ID))
}

func (r *Room) handleJoin(conn types.Conn, cmd *protocol.Command) {
	r.mu.Lock()

	if _, exists := r.agents[cmd.AgentID]; exists {
		r.mu.Unlock()
		conn.Send(protocol.MustEncode(protocol.ErrorEvent("agent already exists: " + cmd.AgentID)))
		return
	}

	agent := &Agent{
		ID:       cmd.AgentID,
		Name:     cmd.AgentName,
		Role:     cmd.Role,
		Conn:     conn,
		Metadata: cmd.Metadata,
	}
	r.agents[agent.ID] = agent
	count := len(r.agents)

	if len(cmd.Metadata) > 0 {
		if err := r.repo.SaveAgentMetadata(r.ctx, store.MetadataRecord{
			RoomID:   r.ID,
			AgentID:  agent.ID,
			Metadata: cmd.Metadata,
		}); err != nil {
			logging.Error(r.ctx, "Failed to persist agent metadata", zap.String("agentId", agent.ID), zap.Error(err))
		}
	}

	welcome := &protocol.Event{
		Type:       protocol.EvtWelcome,
		Timestamp:  protocol.Now(),
		RoomID:     r.ID,
		Topic:      r.Topic,
		Mode:       string(r.Mode),
		AgentCount: count,
		Tools:      r.registry.ListFor(agent.ID, agent.Role),
	}
	conn.Send(protocol.MustEncode(welcome))

	joined := &protocol.Event{
		Type:      protocol.EvtAgentJoined,
		Timestamp: protocol.Now(),
		RoomID:    r.ID,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Role:      agent.Role,
		Metadata:  agent.Metadata,
	}
	r.broadcastRawLocked(protocol.MustEncode(joined), conn)
	r.mu.Unlock()

	metrics.RoomAgents.WithLabelValues(r.ID).Set(float64(count))
	logging.Info(r.ctx, "Agent joined room",
		zap.String("roomId", r.ID),
		zap.String("agentId", agent.ID),
		zap.String("role", agent.Role),
	)
}

func (r *Room) handleLeave(conn types.Conn, cmd *protocol.Command) {
	r.mu.Lock()
	agent, ok := r.agents[cmd.AgentID]
	if !ok || agent.Conn != conn {
		// Unknown agent or a connection trying to evict someone else.
		r.mu.Unlock()
		return
	}
	r.removeAgentLocked(agent)
	r.mu.Unlock()
}

// removeAgentLocked drops the member, broadcasts AGENT_LEFT to the
// remaining members, and releases the persisted metadata. Caller must
// hold mu.
func (r *Room) removeAgentLocked(agent *Agent) {
	delete(r.agents, agent.ID)

	left := &protocol.Event{
		Type:      protocol.EvtAgentLeft,
		Timestamp: protocol.Now(),
		RoomID:    r.ID,
		AgentID:   agent.ID,
		AgentName: agent.Name,
	}
	r.broadcastRawLocked(protocol.MustEncode(left), nil)

	if err := r.repo.DeleteAgentMetadata(r.ctx, agent.ID, r.ID); err != nil {
		logging.Error(r.ctx, "Failed to delete agent metadata", zap.String("agentId", agent.ID), zap.Error(err))
	}

	count := len(r.agents)
	if count > 0 {
		metrics.RoomAgents.WithLabelValues(r.ID).Set(float64(count))
	} else {
		metrics.RoomAgents.DeleteLabelValues(r.ID)
	}
}

func (r *Room) handleMessage(conn types.Conn, cmd *protocol.Command) {
	r.mu.Lock()

	agent, ok := r.agents[cmd.AgentID]
	if !ok {
		// The agent likely left already; dropping beats erroring here.
		r.mu.Unlock()
		return
	}

	if err := r.repo.SaveMessage(r.ctx, store.MessageRecord{
		RoomID:    r.ID,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Role:      agent.Role,
		Content:   cmd.Content,
		Timestamp: cmd.Timestamp,
	}); err != nil {
		// Liveness over durability for chat: log and keep fanning out.
		logging.Error(r.ctx, "Failed to persist message", zap.String("agentId", agent.ID), zap.Error(err))
	}

	event := &protocol.Event{
		Type:      protocol.EvtMessage,
		Timestamp: cmd.Timestamp,
		RoomID:    r.ID,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Role:      agent.Role,
		Content:   cmd.Content,
	}
	data := protocol.MustEncode(event)
	r.broadcastRawLocked(data, conn)
	metrics.MessagesBroadcast.Inc()

	if r.bus != nil {
		messageID := uuid.NewString()
		r.ownIDs.Add(messageID)
		r.publishAsync(bus.Message{
			ServerID:  r.serverID,
			MessageID: messageID,
			Timestamp: cmd.Timestamp,
			Payload:   data,
		})
	}
	r.mu.Unlock()
}

func (r *Room) handleCreateProposal(conn types.Conn, cmd *protocol.Command) {
	r.mu.Lock()

	proposer, ok := r.agents[cmd.ProposerID]
	if !ok {
		r.mu.Unlock()
		conn.Send(protocol.MustEncode(protocol.ErrorEvent("unknown proposer: " + cmd.ProposerID)))
		return
	}

	proposalID := cmd.ProposalID
	if proposalID == "" {
		proposalID = uuid.NewString()
	}
	threshold := r.Mode.DefaultThreshold()
	if cmd.Threshold != nil {
		threshold = *cmd.Threshold
	}
	proposerName := cmd.ProposerName
	if proposerName == "" {
		proposerName = proposer.Name
	}

	p := &voting.Proposal{
		ID:           proposalID,
		Title:        cmd.Title,
		Description:  cmd.Description,
		ProposerID:   proposer.ID,
		ProposerName: proposerName,
		Threshold:    threshold,
		CreatedAt:    cmd.Timestamp,
	}
	if err := r.votes.CreateProposal(p); err != nil {
		r.mu.Unlock()
		conn.Send(protocol.MustEncode(protocol.ErrorEvent(err.Error())))
		return
	}

	if err := r.repo.SaveProposal(r.ctx, store.ProposalRecord{
		ProposalID:   p.ID,
		RoomID:       r.ID,
		Title:        p.Title,
		Description:  p.Description,
		ProposerID:   p.ProposerID,
		ProposerName: p.ProposerName,
		Threshold:    p.Threshold,
		Status:       string(p.Status),
		CreatedAt:    p.CreatedAt,
	}); err != nil {
		logging.Error(r.ctx, "Failed to persist proposal", zap.String("proposalId", p.ID), zap.Error(err))
		conn.Send(protocol.MustEncode(protocol.ErrorEvent("failed to persist proposal: " + err.Error())))
	}

	created := &protocol.Event{
		Type:         protocol.EvtProposalCreated,
		Timestamp:    protocol.Now(),
		RoomID:       r.ID,
		ProposalID:   p.ID,
		Title:        p.Title,
		Description:  p.Description,
		ProposerID:   p.ProposerID,
		ProposerName: p.ProposerName,
		Threshold:    p.Threshold,
	}
	r.broadcastRawLocked(protocol.MustEncode(created), nil)
	r.mu.Unlock()

	logging.Info(r.ctx, "Proposal created",
		zap.String("roomId", r.ID),
		zap.String("proposalId", p.ID),
		zap.Float64("threshold", p.Threshold),
	)
}

func (r *Room) handleVote(conn types.Conn, cmd *protocol.Command) {
	r.mu.Lock()

	agent, ok := r.agents[cmd.AgentID]
	if !ok {
		r.mu.Unlock()
		conn.Send(protocol.MustEncode(protocol.ErrorEvent("unknown agent: " + cmd.AgentID)))
		return
	}

	vote, _ := types.ParseVote(cmd.Vote) // validated by the codec
	if err := r.votes.Vote(cmd.ProposalID, agent.ID, vote); err != nil {
		r.mu.Unlock()
		conn.Send(protocol.MustEncode(protocol.ErrorEvent(err.Error())))
		return
	}

	if err := r.repo.SaveVote(r.ctx, store.VoteRecord{
		ProposalID: cmd.ProposalID,
		AgentID:    agent.ID,
		AgentName:  agent.Name,
		Vote:       string(vote),
		Rationale:  cmd.Rationale,
		Timestamp:  cmd.Timestamp,
	}); err != nil {
		logging.Error(r.ctx, "Failed to persist vote", zap.String("proposalId", cmd.ProposalID), zap.Error(err))
		conn.Send(protocol.MustEncode(protocol.ErrorEvent("failed to persist vote: " + err.Error())))
	}

	cast := &protocol.Event{
		Type:       protocol.EvtVoteCast,
		Timestamp:  protocol.Now(),
		RoomID:     r.ID,
		ProposalID: cmd.ProposalID,
		AgentID:    agent.ID,
		AgentName:  agent.Name,
		Vote:       string(vote),
		Rationale:  cmd.Rationale,
	}
	r.broadcastRawLocked(protocol.MustEncode(cast), nil)

	// Resolution events are forwarded by onProposalResolved, which runs
	// synchronously inside this critical section.
	status, transitioned := r.votes.UpdateProposalStatus(cmd.ProposalID)
	r.mu.Unlock()

	if transitioned {
		if err := r.repo.UpdateProposalStatus(r.ctx, cmd.ProposalID, string(status)); err != nil {
			logging.Error(r.ctx, "Failed to persist proposal status", zap.String("proposalId", cmd.ProposalID), zap.Error(err))
			conn.Send(protocol.MustEncode(protocol.ErrorEvent("failed to persist proposal status: " + err.Error())))
		}
		metrics.ProposalsResolved.WithLabelValues(string(status)).Inc()
	}
}

// onProposalResolved broadcasts PROPOSAL_RESOLVED when the vote manager
// reports a terminal transition. It runs inside the room's critical
// section (votes are only driven from handleVote) and must not lock mu.
func (r *Room) onProposalResolved(res voting.Resolution) {
	yes, no, abstain := res.Proposal.Counts()
	resolved := &protocol.Event{
		Type:       protocol.EvtProposalResolved,
		Timestamp:  protocol.Now(),
		RoomID:     r.ID,
		ProposalID: res.Proposal.ID,
		Status:     string(res.Status),
		Yes:        yes,
		No:         no,
		Abstain:    abstain,
		Total:      yes + no + abstain,
	}
	r.broadcastRawLocked(protocol.MustEncode(resolved), nil)

	logging.Info(r.ctx, "Proposal resolved",
		zap.String("roomId", r.ID),
		zap.String("proposalId", res.Proposal.ID),
		zap.String("status", string(res.Status)),
	)
}

func (r *Room) handleUpdateMetadata(conn types.Conn, cmd *protocol.Command) {
	r.mu.Lock()

	agent, ok := r.agents[cmd.AgentID]
	if !ok {
		// Same policy as MESSAGE: the agent probably left already.
		r.mu.Unlock()
		return
	}
	agent.Metadata = cmd.Metadata

	if err := r.repo.SaveAgentMetadata(r.ctx, store.MetadataRecord{
		RoomID:   r.ID,
		AgentID:  agent.ID,
		Metadata: cmd.Metadata,
	}); err != nil {
		logging.Error(r.ctx, "Failed to persist agent metadata", zap.String("agentId", agent.ID), zap.Error(err))
	}

	// Broadcast to everyone, sender included, so distributed views of
	// the metadata stay consistent.
	updated := &protocol.Event{
		Type:      protocol.EvtMetadataUpdated,
		Timestamp: protocol.Now(),
		RoomID:    r.ID,
		AgentID:   agent.ID,
		Metadata:  cmd.Metadata,
	}
	r.broadcastRawLocked(protocol.MustEncode(updated), nil)
	r.mu.Unlock()
}

func (r *Room) handleInvokeTool(conn types.Conn, cmd *protocol.Command) {
	r.mu.RLock()
	agent, ok := r.agents[cmd.AgentID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	if !r.registry.HasPermission(cmd.ToolName, agent.ID, agent.Role) {
		metrics.ToolInvocations.WithLabelValues(cmd.ToolName, "denied").Inc()
		conn.Send(protocol.MustEncode(protocol.ErrorEvent("permission denied for tool: " + cmd.ToolName)))
		return
	}
	if !r.registry.CheckRateLimit(cmd.ToolName, agent.ID) {
		metrics.ToolInvocations.WithLabelValues(cmd.ToolName, "rate_limited").Inc()
		conn.Send(protocol.MustEncode(protocol.ErrorEvent("rate limit exceeded for tool: " + cmd.ToolName)))
		return
	}

	// Tool execution itself lives outside the coordination core; the
	// registry gate and accounting are what the room owns. The result
	// echoes the opaque arguments back to the caller.
	start := time.Now()
	r.registry.RecordUsage(cmd.ToolName, agent.ID, true, time.Since(start))
	r.registry.ReleaseConcurrentSlot(cmd.ToolName, agent.ID)
	metrics.ToolInvocations.WithLabelValues(cmd.ToolName, "ok").Inc()

	conn.Send(protocol.MustEncode(&protocol.Event{
		Type:      protocol.EvtToolResult,
		Timestamp: protocol.Now(),
		RoomID:    r.ID,
		AgentID:   agent.ID,
		ToolName:  cmd.ToolName,
		Result:    cmd.Arguments,
	}))
}
