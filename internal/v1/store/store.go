// Package store defines the persistence boundary consumed by the room
// engine. Backends live behind Repository; the core only writes
// identity snapshots, messages, proposals, votes, and metadata blobs.
package store

import (
	"context"

	"github.com/osobh/parley/internal/v1/types"
)

// MessageRecord is one persisted chat message.
type MessageRecord struct {
	RoomID    string
	AgentID   string
	AgentName string
	Role      string
	Content   string
	Timestamp int64
}

// ProposalRecord is the persisted shape of a motion.
type ProposalRecord struct {
	ProposalID   string
	RoomID       string
	Title        string
	Description  string
	ProposerID   string
	ProposerName string
	Threshold    float64
	Status       string
	CreatedAt    int64
}

// VoteRecord is one persisted vote event. Rationale is preserved verbatim.
type VoteRecord struct {
	ProposalID string
	AgentID    string
	AgentName  string
	Vote       string
	Rationale  string
	Timestamp  int64
}

// MetadataRecord is one persisted agent metadata blob, opaque to the core.
type MetadataRecord struct {
	RoomID   string
	AgentID  string
	Metadata types.AgentMetadata
}

// Repository is the durable key/value access the room engine calls.
// Implementations must be safe for concurrent use across rooms.
type Repository interface {
	SaveMessage(ctx context.Context, m MessageRecord) error
	SaveProposal(ctx context.Context, p ProposalRecord) error
	UpdateProposalStatus(ctx context.Context, proposalID, status string) error
	SaveVote(ctx context.Context, v VoteRecord) error
	SaveAgentMetadata(ctx context.Context, m MetadataRecord) error
	DeleteAgentMetadata(ctx context.Context, agentID, roomID string) error
}
