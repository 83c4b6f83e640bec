package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	tstrequire "github.com/stretchr/testify/require"
)

func TestDecodeCommand_Join(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{
		"type": "JOIN",
		"timestamp": 1700000000000,
		"roomId": "room-1",
		"agentId": "agent-1",
		"agentName": "Ada",
		"role": "architect",
		"metadata": {"model": "large"}
	}`))
	tstrequire.NoError(t, err)

	assert.Equal(t, CmdJoin, cmd.Type)
	assert.Equal(t, int64(1700000000000), cmd.Timestamp)
	assert.Equal(t, "agent-1", cmd.AgentID)
	assert.Equal(t, "Ada", cmd.AgentName)
	assert.Equal(t, "architect", cmd.Role)
	assert.JSONEq(t, `{"model":"large"}`, string(cmd.Metadata))
}

func TestDecodeCommand_JoinDefaultsRole(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"JOIN","timestamp":1,"agentId":"a","agentName":"A"}`))
	tstrequire.NoError(t, err)
	assert.Equal(t, "participant", cmd.Role)
}

func TestDecodeCommand_InvalidJSON(t *testing.T) {
	_, err := DecodeCommand([]byte(`{not json`))
	tstrequire.Error(t, err)
	assert.Contains(t, err.Error(), "invalid frame")
}

func TestDecodeCommand_MissingEnvelopeFields(t *testing.T) {
	_, err := DecodeCommand([]byte(`{"timestamp":1}`))
	tstrequire.Error(t, err)
	assert.Contains(t, err.Error(), "type")

	_, err = DecodeCommand([]byte(`{"type":"LIST_ROOMS"}`))
	tstrequire.Error(t, err)
	assert.Contains(t, err.Error(), "timestamp")
}

func TestDecodeCommand_UnknownType(t *testing.T) {
	_, err := DecodeCommand([]byte(`{"type":"DANCE","timestamp":1}`))
	tstrequire.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command type")
}

func TestDecodeCommand_RequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		frame   string
		missing string
	}{
		{"join without agentId", `{"type":"JOIN","timestamp":1,"agentName":"A"}`, "agentId"},
		{"join without agentName", `{"type":"JOIN","timestamp":1,"agentId":"a"}`, "agentName"},
		{"message without content", `{"type":"MESSAGE","timestamp":1,"agentId":"a"}`, "content"},
		{"message without agentId", `{"type":"MESSAGE","timestamp":1,"content":"hi"}`, "agentId"},
		{"create room without topic", `{"type":"CREATE_ROOM","timestamp":1}`, "topic"},
		{"proposal without title", `{"type":"CREATE_PROPOSAL","timestamp":1,"proposerId":"a"}`, "title"},
		{"proposal without proposer", `{"type":"CREATE_PROPOSAL","timestamp":1,"title":"t"}`, "proposerId"},
		{"vote without proposalId", `{"type":"VOTE","timestamp":1,"agentId":"a","vote":"yes"}`, "proposalId"},
		{"metadata without payload", `{"type":"UPDATE_METADATA","timestamp":1,"agentId":"a"}`, "metadata"},
		{"tool without name", `{"type":"INVOKE_TOOL","timestamp":1,"agentId":"a"}`, "toolName"},
		{"leave without agentId", `{"type":"LEAVE","timestamp":1}`, "agentId"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeCommand([]byte(tc.frame))
			tstrequire.Error(t, err)
			assert.Contains(t, err.Error(), tc.missing)
		})
	}
}

func TestDecodeCommand_InvalidEnums(t *testing.T) {
	_, err := DecodeCommand([]byte(`{"type":"CREATE_ROOM","timestamp":1,"topic":"x","mode":"fast"}`))
	tstrequire.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mode")

	_, err = DecodeCommand([]byte(`{"type":"VOTE","timestamp":1,"proposalId":"p","agentId":"a","vote":"maybe"}`))
	tstrequire.Error(t, err)
	assert.Contains(t, err.Error(), "invalid vote")
}

func TestDecodeCommand_ThresholdBounds(t *testing.T) {
	_, err := DecodeCommand([]byte(`{"type":"CREATE_PROPOSAL","timestamp":1,"title":"t","proposerId":"a","threshold":1.5}`))
	tstrequire.Error(t, err)
	assert.Contains(t, err.Error(), "threshold")

	cmd, err := DecodeCommand([]byte(`{"type":"CREATE_PROPOSAL","timestamp":1,"title":"t","proposerId":"a","threshold":1.0}`))
	tstrequire.NoError(t, err)
	tstrequire.NotNil(t, cmd.Threshold)
	assert.Equal(t, 1.0, *cmd.Threshold)
}

func TestDecodeCommand_ListRoomsEnvelopeOnly(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"LIST_ROOMS","timestamp":1}`))
	tstrequire.NoError(t, err)
	assert.Equal(t, CmdListRooms, cmd.Type)
}
