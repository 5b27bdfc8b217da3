package a2a

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage_Defaults(t *testing.T) {
	before := time.Now().UTC()
	msg, err := NewMessage("a1", "a2", TypeTaskRequest, TaskRequest{TaskType: "echo"})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "a1", msg.SenderID)
	assert.Equal(t, "a2", msg.RecipientID)
	assert.Equal(t, time.UTC, msg.Timestamp.Location())
	assert.False(t, msg.Timestamp.Before(before.Add(-time.Second)))
	assert.Nil(t, msg.Metadata)
}

func TestNewMessage_Options(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	msg, err := NewMessage("a1", "a2", TypeStatus, Fields{"state": "idle"},
		WithID("fixed"),
		WithTimestamp(ts),
		WithMetadata(map[string]any{"trace": "abc"}),
	)
	require.NoError(t, err)

	assert.Equal(t, "fixed", msg.ID)
	assert.True(t, msg.Timestamp.Equal(ts))
	assert.Equal(t, time.UTC, msg.Timestamp.Location())
	assert.Equal(t, "abc", msg.Metadata["trace"])
}

func TestNewMessage_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		payload   Payload
		want      error
	}{
		{name: "empty recipient", recipient: "", payload: Fields{}, want: ErrEmptyRecipient},
		{name: "nil payload", recipient: "a2", payload: nil, want: ErrNilPayload},
		{name: "nil task request pointer", recipient: "a2", payload: (*TaskRequest)(nil), want: ErrNilPayload},
		{name: "nil task response pointer", recipient: "a2", payload: (*TaskResponse)(nil), want: ErrNilPayload},
		{name: "nil discovery pointer", recipient: "a2", payload: (*CapabilityDiscovery)(nil), want: ErrNilPayload},
		{name: "nil fields pointer", recipient: "a2", payload: (*Fields)(nil), want: ErrNilPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMessage("a1", tt.recipient, TypeStatus, tt.payload)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestMessage_Reply(t *testing.T) {
	req, err := NewMessage("planner", "worker", TypeTaskRequest, TaskRequest{TaskType: "sum"})
	require.NoError(t, err)

	resp, err := req.Reply(TypeTaskResponse, TaskResponse{Success: true, Result: 3.0})
	require.NoError(t, err)

	assert.Equal(t, "worker", resp.SenderID)
	assert.Equal(t, "planner", resp.RecipientID)
	assert.Equal(t, req.ID, resp.Metadata["in_reply_to"])
}

func TestPayloadKind(t *testing.T) {
	assert.Equal(t, KindTaskRequest, PayloadKind(TaskRequest{}))
	assert.Equal(t, KindTaskRequest, PayloadKind(&TaskRequest{}))
	assert.Equal(t, KindTaskResponse, PayloadKind(TaskResponse{}))
	assert.Equal(t, KindCapabilityDiscovery, PayloadKind(CapabilityDiscovery{}))
	assert.Equal(t, KindFields, PayloadKind(Fields{}))
	assert.Equal(t, "", PayloadKind(nil))
	assert.Equal(t, "", PayloadKind((*TaskRequest)(nil)))
	assert.Equal(t, "", PayloadKind((*CapabilityDiscovery)(nil)))
}

func TestNewMessage_StoresPointerPayloadByValue(t *testing.T) {
	msg, err := NewMessage("a1", "a2", TypeTaskRequest, &TaskRequest{TaskType: "echo"})
	require.NoError(t, err)
	assert.Equal(t, TaskRequest{TaskType: "echo"}, msg.Payload)
}

func TestValidate_PointerPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    error
	}{
		{name: "task request", payload: &TaskRequest{TaskType: "echo"}, want: ErrPointerPayload},
		{name: "task response", payload: &TaskResponse{Success: true}, want: ErrPointerPayload},
		{name: "nil task response", payload: (*TaskResponse)(nil), want: ErrNilPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &Message{RecipientID: "a2", Type: TypeTaskRequest, Payload: tt.payload}
			assert.True(t, errors.Is(msg.Validate(), tt.want))

			_, err := ToProto(msg)
			assert.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestMessage_TypeAndPayloadNotCrossChecked(t *testing.T) {
	// A task_response type carrying a request body is accepted as-is.
	_, err := NewMessage("a1", "a2", TypeTaskResponse, TaskRequest{TaskType: "x"})
	assert.NoError(t, err)
}
