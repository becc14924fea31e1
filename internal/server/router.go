package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ParthMatta-9921/Chatapp/internal/registry"
	"github.com/ParthMatta-9921/Chatapp/internal/store"
	"github.com/ParthMatta-9921/Chatapp/internal/wire"
)

const (
	defaultHistoryLimit    = 50
	defaultMaxContentBytes = 4096
)

// noticeError is a recoverable routing failure: the session answers with an
// {"error": ...} frame and keeps reading.
type noticeError struct {
	code string
	msg  string
}

func (e *noticeError) Error() string {
	return e.msg
}

func internalNotice() *noticeError {
	return &noticeError{code: "internal", msg: "internal error"}
}

// MessageStore is the durable collaborator the router persists through.
type MessageStore interface {
	SaveMessage(ctx context.Context, senderID, receiverID int64, content string, ts time.Time) (store.Message, error)
	RecentMessages(ctx context.Context, a, b int64, limit int) ([]store.Message, error)
}

// FriendOracle answers whether two users may exchange messages.
type FriendOracle interface {
	AreFriends(ctx context.Context, a, b int64) (bool, error)
}

// framePusher is the slice of a registered handle the router needs for
// fan-out.
type framePusher interface {
	push(frame any) error
}

// RouterOptions configures limits and observability.
type RouterOptions struct {
	Metrics         *chatMetrics
	HistoryLimit    int
	MaxContentBytes int
}

// Router validates, authorizes, persists and fans out chat events. It holds
// no per-session state.
type Router struct {
	log      *zap.Logger
	store    MessageStore
	friends  FriendOracle
	registry registry.ConnectionRegistry
	metrics  *chatMetrics

	historyLimit    int
	maxContentBytes int
}

// NewRouter wires the router's collaborators.
func NewRouter(log *zap.Logger, st MessageStore, friends FriendOracle, reg registry.ConnectionRegistry, opts RouterOptions) *Router {
	rt := &Router{
		log:             log,
		store:           st,
		friends:         friends,
		registry:        reg,
		metrics:         opts.Metrics,
		historyLimit:    opts.HistoryLimit,
		maxContentBytes: opts.MaxContentBytes,
	}
	if rt.historyLimit <= 0 {
		rt.historyLimit = defaultHistoryLimit
	}
	if rt.maxContentBytes <= 0 {
		rt.maxContentBytes = defaultMaxContentBytes
	}
	return rt
}

// Route dispatches one decoded inbound event for the session.
func (rt *Router) Route(ctx context.Context, sess *session, ev wire.InboundEvent) error {
	switch ev := ev.(type) {
	case wire.SendMessage:
		return rt.handleSend(ctx, sess, ev)
	case wire.HistoryRequest:
		return rt.handleHistory(ctx, sess, ev)
	default:
		return &noticeError{code: "invalid_frame", msg: fmt.Sprintf("Unknown message type '%T'", ev)}
	}
}

// handleSend persists the message and fans it out: an echo to the sender
// always, a best-effort push to the receiver when online.
func (rt *Router) handleSend(ctx context.Context, sess *session, ev wire.SendMessage) error {
	if len(ev.Content) > rt.maxContentBytes {
		return &noticeError{
			code: "content_too_long",
			msg:  fmt.Sprintf("Content exceeds %d bytes", rt.maxContentBytes),
		}
	}

	ok, err := rt.friends.AreFriends(ctx, sess.userID, ev.To)
	if err != nil {
		rt.log.Warn("friendship check failed", zap.Error(err), zap.Int64("user_id", sess.userID))
		return internalNotice()
	}
	if !ok {
		return &noticeError{code: "not_friends", msg: "You are not friends with this user"}
	}

	msg, err := rt.store.SaveMessage(ctx, sess.userID, ev.To, ev.Content, time.Now().UTC())
	if err != nil {
		rt.log.Warn("persist message failed", zap.Error(err), zap.Int64("user_id", sess.userID))
		return internalNotice()
	}
	rt.metrics.recordMessage()

	delivery := wire.NewDelivery(msg.SenderID, msg.ReceiverID, msg.Content, msg.Timestamp)

	// Echo to the sender regardless of the receiver's presence. A failed
	// push here means the sender's own channel is gone, which is fatal.
	if err := sess.push(delivery); err != nil {
		return fmt.Errorf("echo to sender: %w", err)
	}

	// Best-effort push to the receiver: no retry, no queue. Offline
	// receivers catch up via a later history request.
	handle, online := rt.registry.Lookup(ev.To)
	if !online {
		rt.metrics.recordDelivery("offline")
		return nil
	}
	target, ok := handle.(framePusher)
	if !ok {
		rt.metrics.recordDelivery("failed")
		return nil
	}
	if err := target.push(delivery); err != nil {
		rt.metrics.recordDelivery("failed")
		rt.log.Debug("receiver push failed",
			zap.Error(err),
			zap.Int64("receiver_id", ev.To))
		return nil
	}
	rt.metrics.recordDelivery("delivered")
	return nil
}

// handleHistory returns the most recent messages exchanged with the friend,
// oldest first.
func (rt *Router) handleHistory(ctx context.Context, sess *session, ev wire.HistoryRequest) error {
	ok, err := rt.friends.AreFriends(ctx, sess.userID, ev.FriendID)
	if err != nil {
		rt.log.Warn("friendship check failed", zap.Error(err), zap.Int64("user_id", sess.userID))
		return internalNotice()
	}
	if !ok {
		return &noticeError{code: "not_friends", msg: "You are not friends with this user"}
	}

	messages, err := rt.store.RecentMessages(ctx, sess.userID, ev.FriendID, rt.historyLimit)
	if err != nil {
		rt.log.Warn("history query failed", zap.Error(err), zap.Int64("user_id", sess.userID))
		return internalNotice()
	}

	entries := make([]wire.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, wire.HistoryEntry{
			From:      m.SenderID,
			To:        m.ReceiverID,
			Content:   m.Content,
			Timestamp: wire.Timestamp(m.Timestamp),
		})
	}

	if err := sess.push(wire.NewHistoryResult(entries)); err != nil {
		return fmt.Errorf("push history: %w", err)
	}
	return nil
}
