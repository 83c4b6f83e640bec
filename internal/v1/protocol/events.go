package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/osobh/parley/internal/v1/types"
)

// EventType discriminates server frames.
type EventType string

const (
	EvtWelcome          EventType = "WELCOME"
	EvtAgentJoined      EventType = "AGENT_JOINED"
	EvtAgentLeft        EventType = "AGENT_LEFT"
	EvtMessage          EventType = "MESSAGE"
	EvtError            EventType = "ERROR"
	EvtRoomCreated      EventType = "ROOM_CREATED"
	EvtRoomList         EventType = "ROOM_LIST"
	EvtProposalCreated  EventType = "PROPOSAL_CREATED"
	EvtVoteCast         EventType = "VOTE_CAST"
	EvtProposalResolved EventType = "PROPOSAL_RESOLVED"
	EvtMetadataUpdated  EventType = "AGENT_METADATA_UPDATED"

	// Extended surface.
	EvtToolResult EventType = "TOOL_RESULT"
)

// RoomSummary is one entry of a ROOM_LIST event.
type RoomSummary struct {
	RoomID     string `json:"roomId"`
	Topic      string `json:"topic"`
	Mode       string `json:"mode"`
	AgentCount int    `json:"agentCount"`
}

// Event is a server frame. Fields are populated per Type; encoding a
// then decoding an event yields the same value.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`

	Message string `json:"message,omitempty"` // ERROR

	RoomID     string `json:"roomId,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Mode       string `json:"mode,omitempty"`
	AgentCount int    `json:"agentCount,omitempty"`

	AgentID   string              `json:"agentId,omitempty"`
	AgentName string              `json:"agentName,omitempty"`
	Role      string              `json:"role,omitempty"`
	Metadata  types.AgentMetadata `json:"metadata,omitempty"`

	Content string `json:"content,omitempty"`

	Rooms []RoomSummary `json:"rooms,omitempty"` // ROOM_LIST
	Tools []string      `json:"tools,omitempty"` // WELCOME extension

	ProposalID   string  `json:"proposalId,omitempty"`
	Title        string  `json:"title,omitempty"`
	Description  string  `json:"description,omitempty"`
	ProposerID   string  `json:"proposerId,omitempty"`
	ProposerName string  `json:"proposerName,omitempty"`
	Threshold    float64 `json:"threshold,omitempty"`
	Vote         string  `json:"vote,omitempty"`
	Rationale    string  `json:"rationale,omitempty"`

	Status  string `json:"status,omitempty"` // PROPOSAL_RESOLVED
	Yes     int    `json:"yes,omitempty"`
	No      int    `json:"no,omitempty"`
	Abstain int    `json:"abstain,omitempty"`
	Total   int    `json:"total,omitempty"`

	ToolName string          `json:"toolName,omitempty"` // TOOL_RESULT
	Result   json.RawMessage `json:"result,omitempty"`
}

// EncodeEvent serializes a server event for the wire or the bus.
func EncodeEvent(e *Event) ([]byte, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("event has no type")
	}
	return json.Marshal(e)
}

// DecodeEvent parses a server event, rejecting unknown discriminants.
// Used on bus ingress, where only known payload kinds may cross.
func DecodeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("invalid event frame: %w", err)
	}
	switch e.Type {
	case EvtWelcome, EvtAgentJoined, EvtAgentLeft, EvtMessage, EvtError,
		EvtRoomCreated, EvtRoomList, EvtProposalCreated, EvtVoteCast,
		EvtProposalResolved, EvtMetadataUpdated, EvtToolResult:
		return &e, nil
	}
	return nil, fmt.Errorf("unknown event type %q", e.Type)
}

// Now returns the current wall clock in milliseconds, the timestamp
// unit used on every frame.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ErrorEvent builds an ERROR frame from a failure message.
func ErrorEvent(message string) *Event {
	return &Event{Type: EvtError, Timestamp: Now(), Message: message}
}

// MustEncode serializes an event, falling back to a bare ERROR frame on
// failure. Marshalling a value of type Event cannot realistically fail,
// so callers on the hot path use this instead of threading an error.
func MustEncode(e *Event) []byte {
	data, err := EncodeEvent(e)
	if err != nil {
		data, _ = json.Marshal(Event{Type: EvtError, Timestamp: Now(), Message: "internal encoding error"})
	}
	return data
}
