package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSendMessage(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"message","to":2,"content":"hi"}`))
	require.NoError(t, err)

	send, ok := ev.(SendMessage)
	require.True(t, ok, "expected SendMessage, got %T", ev)
	assert.Equal(t, int64(2), send.To)
	assert.Equal(t, "hi", send.Content)
}

func TestDecodeHistoryRequest(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"history","friend_id":9}`))
	require.NoError(t, err)

	hist, ok := ev.(HistoryRequest)
	require.True(t, ok, "expected HistoryRequest, got %T", ev)
	assert.Equal(t, int64(9), hist.FriendID)
}

func TestDecodeValidationFailures(t *testing.T) {
	cases := []struct {
		name   string
		frame  string
		reason string
	}{
		{"missing to", `{"type":"message","content":"hi"}`, "Missing 'to' or 'content'"},
		{"empty content", `{"type":"message","to":2,"content":""}`, "Missing 'to' or 'content'"},
		{"missing friend_id", `{"type":"history"}`, "Missing 'friend_id' for history"},
		{"unknown type", `{"type":"presence"}`, "Unknown message type 'presence'"},
		{"missing type", `{"to":2,"content":"hi"}`, "Unknown message type ''"},
		{"string to", `{"type":"message","to":"2","content":"hi"}`, "Invalid type for field 'to'"},
		{"string friend_id", `{"type":"history","friend_id":"9"}`, "Invalid type for field 'friend_id'"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Decode([]byte(tc.frame))
			assert.Nil(t, ev)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.reason, verr.Reason)
		})
	}
}

func TestDecodeInvalidJSONIsNotValidation(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)

	var verr *ValidationError
	assert.False(t, errors.As(err, &verr), "transport-level decode failure must not be a validation error")
}

func TestDeliveryShape(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	raw, err := json.Marshal(NewDelivery(1, 2, "hi", ts))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "message", got["type"])
	assert.Equal(t, float64(1), got["from"])
	assert.Equal(t, float64(2), got["to"])
	assert.Equal(t, "hi", got["content"])
	assert.Equal(t, "2024-05-01T12:30:00Z", got["timestamp"])
}

func TestHistoryResultNormalizesNil(t *testing.T) {
	raw, err := json.Marshal(NewHistoryResult(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"history","messages":[]}`, string(raw))
}
