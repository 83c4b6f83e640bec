// Package protocol implements the wire codec for the conference server:
// strict decoding of client commands and encoding of server events.
// Frames are JSON records with a mandatory "type" discriminant and a
// "timestamp" integer in milliseconds.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/osobh/parley/internal/v1/types"
)

// CommandType discriminates client frames.
type CommandType string

const (
	CmdJoin           CommandType = "JOIN"
	CmdLeave          CommandType = "LEAVE"
	CmdMessage        CommandType = "MESSAGE"
	CmdCreateRoom     CommandType = "CREATE_ROOM"
	CmdListRooms      CommandType = "LIST_ROOMS"
	CmdLeaveRoom      CommandType = "LEAVE_ROOM"
	CmdCreateProposal CommandType = "CREATE_PROPOSAL"
	CmdVote           CommandType = "VOTE"
	CmdUpdateMetadata CommandType = "UPDATE_METADATA"

	// Extended surface: validated by shape, payload carried opaquely.
	CmdInvokeTool CommandType = "INVOKE_TOOL"
)

// Command is a decoded client frame. Which fields are meaningful
// depends on Type; DecodeCommand enforces the required set per type.
type Command struct {
	Type      CommandType `json:"type"`
	Timestamp int64       `json:"timestamp"`

	RoomID    string              `json:"roomId,omitempty"`
	AgentID   string              `json:"agentId,omitempty"`
	AgentName string              `json:"agentName,omitempty"`
	Role      string              `json:"role,omitempty"`
	Metadata  types.AgentMetadata `json:"metadata,omitempty"`

	Content string `json:"content,omitempty"`

	Topic string `json:"topic,omitempty"`
	Mode  string `json:"mode,omitempty"`

	ProposalID   string   `json:"proposalId,omitempty"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	ProposerID   string   `json:"proposerId,omitempty"`
	ProposerName string   `json:"proposerName,omitempty"`
	Threshold    *float64 `json:"threshold,omitempty"`
	Vote         string   `json:"vote,omitempty"`
	Rationale    string   `json:"rationale,omitempty"`

	ToolName  string          `json:"toolName,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// DecodeCommand parses and validates a client frame. A non-nil error
// means the frame must be answered with ERROR{message} and nothing else.
func DecodeCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	if cmd.Type == "" {
		return nil, fmt.Errorf("missing required field: type")
	}
	if cmd.Timestamp == 0 {
		return nil, fmt.Errorf("missing required field: timestamp")
	}

	switch cmd.Type {
	case CmdJoin:
		if err := require(cmd.AgentID, "agentId"); err != nil {
			return nil, err
		}
		if err := require(cmd.AgentName, "agentName"); err != nil {
			return nil, err
		}
		if cmd.Role == "" {
			cmd.Role = string(types.RoleParticipant)
		}

	case CmdLeave, CmdLeaveRoom:
		if err := require(cmd.AgentID, "agentId"); err != nil {
			return nil, err
		}

	case CmdMessage:
		if err := require(cmd.AgentID, "agentId"); err != nil {
			return nil, err
		}
		if err := require(cmd.Content, "content"); err != nil {
			return nil, err
		}

	case CmdCreateRoom:
		if err := require(cmd.Topic, "topic"); err != nil {
			return nil, err
		}
		if cmd.Mode != "" {
			if _, ok := types.ParseMode(cmd.Mode); !ok {
				return nil, fmt.Errorf("invalid mode %q: must be one of quick, deep", cmd.Mode)
			}
		}

	case CmdListRooms:
		// No payload beyond the envelope.

	case CmdCreateProposal:
		if err := require(cmd.Title, "title"); err != nil {
			return nil, err
		}
		if err := require(cmd.ProposerID, "proposerId"); err != nil {
			return nil, err
		}
		if cmd.Threshold != nil && (*cmd.Threshold < 0 || *cmd.Threshold > 1) {
			return nil, fmt.Errorf("invalid threshold %v: must be within [0,1]", *cmd.Threshold)
		}

	case CmdVote:
		if err := require(cmd.ProposalID, "proposalId"); err != nil {
			return nil, err
		}
		if err := require(cmd.AgentID, "agentId"); err != nil {
			return nil, err
		}
		if _, ok := types.ParseVote(cmd.Vote); !ok {
			return nil, fmt.Errorf("invalid vote %q: must be one of yes, no, abstain", cmd.Vote)
		}

	case CmdUpdateMetadata:
		if err := require(cmd.AgentID, "agentId"); err != nil {
			return nil, err
		}
		if len(cmd.Metadata) == 0 {
			return nil, fmt.Errorf("missing required field: metadata")
		}

	case CmdInvokeTool:
		if err := require(cmd.AgentID, "agentId"); err != nil {
			return nil, err
		}
		if err := require(cmd.ToolName, "toolName"); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown command type %q", cmd.Type)
	}

	return &cmd, nil
}

func require(value, field string) error {
	if value == "" {
		return fmt.Errorf("missing required field: %s", field)
	}
	return nil
}
