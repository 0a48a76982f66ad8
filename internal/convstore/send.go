package convstore

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrSendInProgress = errors.New("a message is already being sent")
)

// Chat drives sends for one UI surface. Several Chats may share a Store; each
// allows a single send in flight.
type Chat struct {
	store   *Store
	sending atomic.Bool
}

func NewChat(store *Store) *Chat {
	return &Chat{store: store}
}

// Sending reports whether a send is in flight.
func (c *Chat) Sending() bool {
	return c.sending.Load()
}

// Send appends text as a user message to the current conversation, sends it
// and appends the reply to that same conversation, even if the user switched
// away meanwhile. A temporary conversation is renamed to the id the server
// returns. Service failures are absorbed into a fallback bot message; only the
// guard errors ErrEmptyMessage and ErrSendInProgress are returned. There is
// no retry.
func (c *Chat) Send(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	if !c.sending.CompareAndSwap(false, true) {
		return Message{}, ErrSendInProgress
	}
	defer c.sending.Store(false)

	s := c.store

	// the entry is fixed here; later switches or renames do not redirect the reply
	s.mu.Lock()
	e := s.findLocked(s.currentID)
	if e == nil {
		s.createLocked()
		e = s.entries[0]
	}
	target := e.conv.ID
	s.appendEntryLocked(e, s.NewMessage(SenderUser, text))
	s.mu.Unlock()

	sendID := target
	if IsTemporaryID(target) {
		sendID = ""
	}

	res, err := s.svc.SendMessage(ctx, text, sendID)
	if err != nil {
		s.logger.Warn("send message failed", zap.String("conversation_id", target), zap.Error(err))
		fallback := s.NewMessage(SenderBot, FallbackReply)
		s.deliver(e, fallback)
		return fallback, nil
	}

	reply := s.NewMessage(SenderBot, res.Response)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.containsLocked(e) {
		s.logger.Warn("reply for a removed conversation dropped", zap.String("conversation_id", target))
		return reply, nil
	}
	switch {
	case res.ConversationID == "" || IsTemporaryID(res.ConversationID) || res.ConversationID == e.conv.ID:
	case e.conv.ID == target:
		if s.renameLocked(e, res.ConversationID) {
			s.logger.Debug("conversation id reconciled",
				zap.String("old_id", target), zap.String("new_id", res.ConversationID))
		}
	default:
		// another send already renamed the entry
		s.logger.Warn("conversation id diverged",
			zap.String("conversation_id", e.conv.ID), zap.String("server_id", res.ConversationID))
	}
	s.appendEntryLocked(e, reply)
	return reply, nil
}

// deliver appends m to e unless e was removed from the registry.
func (s *Store) deliver(e *entry, m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.containsLocked(e) {
		s.logger.Warn("message for a removed conversation dropped", zap.String("conversation_id", e.conv.ID))
		return
	}
	s.appendEntryLocked(e, m)
}
