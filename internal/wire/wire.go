// Package wire defines the JSON frame protocol spoken over a chat session.
//
// Inbound frames are a tagged union discriminated by "type"; decoding
// validates required fields so the session loop can answer malformed frames
// with an error notice instead of tearing the connection down.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Frame type discriminators.
const (
	TypeMessage = "message"
	TypeHistory = "history"
)

// ValidationError marks a frame that parsed as JSON but fails protocol
// validation. It is recoverable: the session answers with an error notice
// and keeps reading.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// InboundEvent is one decoded client frame.
type InboundEvent interface {
	inbound()
}

// SendMessage asks the router to deliver content to another user.
type SendMessage struct {
	To      int64
	Content string
}

func (SendMessage) inbound() {}

// HistoryRequest asks for recent messages exchanged with a friend.
type HistoryRequest struct {
	FriendID int64
}

func (HistoryRequest) inbound() {}

// envelope is the raw shape of every inbound frame. Pointer fields
// distinguish absent ids from zero values.
type envelope struct {
	Type     string `json:"type"`
	To       *int64 `json:"to"`
	Content  string `json:"content"`
	FriendID *int64 `json:"friend_id"`
}

// Decode parses one inbound frame. A payload that is not valid JSON returns
// the underlying decode error (fatal to the session); a well-formed frame
// with an unknown type, a missing field, or a wrong-typed field returns a
// *ValidationError.
func Decode(data []byte) (InboundEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// A type mismatch means the payload was valid JSON, so the frame is
		// answerable in-band; only syntax errors tear the session down.
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &ValidationError{Reason: fmt.Sprintf("Invalid type for field '%s'", typeErr.Field)}
		}
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Type {
	case TypeMessage:
		if env.To == nil || env.Content == "" {
			return nil, &ValidationError{Reason: "Missing 'to' or 'content'"}
		}
		return SendMessage{To: *env.To, Content: env.Content}, nil
	case TypeHistory:
		if env.FriendID == nil {
			return nil, &ValidationError{Reason: "Missing 'friend_id' for history"}
		}
		return HistoryRequest{FriendID: *env.FriendID}, nil
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("Unknown message type '%s'", env.Type)}
	}
}

// Delivery is the outbound envelope for a routed message. The same shape is
// used for the sender's echo and the receiver's push.
type Delivery struct {
	Type      string `json:"type"`
	From      int64  `json:"from"`
	To        int64  `json:"to"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// NewDelivery builds a delivery frame with an ISO-8601 UTC timestamp.
func NewDelivery(from, to int64, content string, ts time.Time) Delivery {
	return Delivery{
		Type:      TypeMessage,
		From:      from,
		To:        to,
		Content:   content,
		Timestamp: Timestamp(ts),
	}
}

// HistoryEntry is one message inside a history result.
type HistoryEntry struct {
	From      int64  `json:"from"`
	To        int64  `json:"to"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// HistoryResult carries recent messages, oldest first.
type HistoryResult struct {
	Type     string         `json:"type"`
	Messages []HistoryEntry `json:"messages"`
}

// NewHistoryResult wraps entries in the history envelope. A nil slice is
// normalized so the JSON field is [] rather than null.
func NewHistoryResult(entries []HistoryEntry) HistoryResult {
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return HistoryResult{Type: TypeHistory, Messages: entries}
}

// ErrorNotice reports a recoverable failure back to the peer.
type ErrorNotice struct {
	Error string `json:"error"`
}

// Timestamp renders a store timestamp in the wire format.
func Timestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}
