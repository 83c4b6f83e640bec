package store

import (
	"context"
	"fmt"
	"sync"
)

// Memory is the in-memory Repository used in single-node deployments
// and tests. The query accessors exist for exporters and assertions;
// the room engine itself only writes.
type Memory struct {
	mu        sync.RWMutex
	messages  []MessageRecord
	proposals map[string]ProposalRecord
	votes     []VoteRecord
	metadata  map[string]MetadataRecord // keyed by roomID+"/"+agentID
}

var _ Repository = (*Memory)(nil)

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		proposals: make(map[string]ProposalRecord),
		metadata:  make(map[string]MetadataRecord),
	}
}

func metadataKey(roomID, agentID string) string {
	return roomID + "/" + agentID
}

// SaveMessage appends a chat message record.
func (s *Memory) SaveMessage(ctx context.Context, m MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

// SaveProposal stores or replaces a proposal record.
func (s *Memory) SaveProposal(ctx context.Context, p ProposalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[p.ProposalID] = p
	return nil
}

// UpdateProposalStatus transitions a stored proposal's status.
func (s *Memory) UpdateProposalStatus(ctx context.Context, proposalID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[proposalID]
	if !ok {
		return fmt.Errorf("proposal %s not found", proposalID)
	}
	p.Status = status
	s.proposals[proposalID] = p
	return nil
}

// SaveVote appends a vote event record.
func (s *Memory) SaveVote(ctx context.Context, v VoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes = append(s.votes, v)
	return nil
}

// SaveAgentMetadata stores or replaces an agent's metadata blob.
func (s *Memory) SaveAgentMetadata(ctx context.Context, m MetadataRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[metadataKey(m.RoomID, m.AgentID)] = m
	return nil
}

// DeleteAgentMetadata removes an agent's metadata blob if present.
func (s *Memory) DeleteAgentMetadata(ctx context.Context, agentID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metadata, metadataKey(roomID, agentID))
	return nil
}

// --- Query accessors (tests and exporters only) ---

// Messages returns a snapshot of messages persisted for a room.
func (s *Memory) Messages(roomID string) []MessageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []MessageRecord
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out
}

// Proposal returns a stored proposal record.
func (s *Memory) Proposal(proposalID string) (ProposalRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[proposalID]
	return p, ok
}

// Votes returns a snapshot of vote events for a proposal.
func (s *Memory) Votes(proposalID string) []VoteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []VoteRecord
	for _, v := range s.votes {
		if v.ProposalID == proposalID {
			out = append(out, v)
		}
	}
	return out
}

// Metadata returns a stored metadata record.
func (s *Memory) Metadata(roomID, agentID string) (MetadataRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metadata[metadataKey(roomID, agentID)]
	return m, ok
}
