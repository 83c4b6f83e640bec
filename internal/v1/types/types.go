package types

import "encoding/json"

// --- Core Domain Types ---

// RoleType defines the discussion role an agent declares on JOIN.
// Free-form roles are accepted; the constants below are the ones the
// tool permission tiers know about.
type RoleType string

const (
	RoleArchitect   RoleType = "architect"
	RoleCritic      RoleType = "critic"
	RolePragmatist  RoleType = "pragmatist"
	RoleModerator   RoleType = "moderator"
	RoleParticipant RoleType = "participant"
	RoleExpert      RoleType = "expert"
	RoleAdmin       RoleType = "admin"
)

// Mode selects the discussion style of a room. Only the default voting
// threshold matters to the coordination core.
type Mode string

const (
	ModeQuick Mode = "quick"
	ModeDeep  Mode = "deep"
)

// ParseMode validates a wire-level mode string.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeQuick, ModeDeep:
		return Mode(s), true
	}
	return "", false
}

// DefaultThreshold returns the default approval threshold for the mode.
func (m Mode) DefaultThreshold() float64 {
	switch m {
	case ModeQuick:
		return 0.4
	default:
		return 0.6
	}
}

// VoteType is one of yes, no, abstain.
type VoteType string

const (
	VoteYes     VoteType = "yes"
	VoteNo      VoteType = "no"
	VoteAbstain VoteType = "abstain"
)

// ParseVote validates a wire-level vote string.
func ParseVote(s string) (VoteType, bool) {
	switch VoteType(s) {
	case VoteYes, VoteNo, VoteAbstain:
		return VoteType(s), true
	}
	return "", false
}

// AgentMetadata is carried through JOIN/UPDATE_METADATA verbatim and is
// opaque to the coordination core (capabilities, personality, LLM config).
type AgentMetadata = json.RawMessage

// --- Shared Interfaces ---

// Conn is the transport handle a room uses to reach one member. Send
// must never block the caller: implementations queue into a bounded
// buffer and close the connection on overflow. Close is idempotent.
type Conn interface {
	Send(data []byte)
	Close()
}
