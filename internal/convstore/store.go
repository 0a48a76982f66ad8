package convstore

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// entry is one registry slot. The pointer stays stable across renames, so an
// in-flight fetch can find its target after the id changed.
type entry struct {
	conv Conversation

	// fetchGen counts history fetches; only the latest one is applied.
	fetchGen uint64
}

// Store is the conversation registry of one authenticated session. It is safe
// for concurrent use; service calls are made without holding the lock, so the
// registry stays mutable while a fetch or send is in flight.
type Store struct {
	svc    Service
	logger *zap.Logger
	policy ListFailurePolicy
	now    func() time.Time
	newID  func() string

	mu        sync.Mutex
	entries   []*entry // newest first
	currentID string
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithListFailurePolicy(p ListFailurePolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithClock replaces time.Now for timestamps and temporary ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMessageIDs replaces the uuid generator used for local message ids.
func WithMessageIDs(f func() string) Option {
	return func(s *Store) {
		if f != nil {
			s.newID = f
		}
	}
}

func New(svc Service, opts ...Option) *Store {
	s := &Store{
		svc:    svc,
		logger: zap.NewNop(),
		policy: LeaveEmpty,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "convstore"))
	return s
}

// Init loads the session's conversation summaries, selects the most recent
// one and fetches its history. An empty list seeds a new conversation; a list
// failure is handled per the ListFailurePolicy.
func (s *Store) Init(ctx context.Context) {
	summaries, err := s.svc.ListConversations(ctx)
	if err != nil {
		s.logger.Error("list conversations failed",
			zap.Stringer("policy", s.policy), zap.Error(err))
		s.Reset()
		if s.policy == CreateNew {
			s.CreateNewConversation()
		}
		return
	}

	entries := make([]*entry, 0, len(summaries))
	seen := make(map[string]bool, len(summaries))
	for _, sum := range summaries {
		if sum.ID == "" || seen[sum.ID] {
			continue
		}
		seen[sum.ID] = true
		title := sum.Title
		if title == "" {
			title = DefaultTitle
		}
		entries = append(entries, &entry{conv: Conversation{
			ID:        sum.ID,
			Title:     title,
			CreatedAt: sum.CreatedAt,
			UpdatedAt: sum.UpdatedAt,
		}})
	}
	slices.SortStableFunc(entries, func(a, b *entry) int {
		return b.conv.UpdatedAt.Compare(a.conv.UpdatedAt)
	})

	s.mu.Lock()
	s.entries = entries
	s.currentID = ""
	var first *entry
	if len(entries) > 0 {
		first = entries[0]
		s.currentID = first.conv.ID
	}
	s.mu.Unlock()

	s.logger.Info("conversations loaded", zap.Int("count", len(entries)))
	if first == nil {
		s.CreateNewConversation()
		return
	}
	s.fetchHistory(ctx, first)
}

// Reset clears the registry, typically on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.currentID = ""
}

// NewMessage builds a message with a fresh local id and the current time.
func (s *Store) NewMessage(sender Sender, text string) Message {
	return Message{
		ID:        s.newID(),
		Text:      text,
		Sender:    sender,
		Timestamp: s.now(),
	}
}

// AddMessage appends m to the current conversation. It is a no-op when there
// is no current conversation.
func (s *Store) AddMessage(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentID == "" {
		s.logger.Warn("add message without a current conversation")
		return
	}
	s.appendLocked(s.currentID, m)
}

// AddMessageTo appends m to the conversation with the given id, current or
// not. It reports whether the conversation was found.
func (s *Store) AddMessageTo(id string, m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(id, m)
}

func (s *Store) appendLocked(id string, m Message) bool {
	e := s.findLocked(id)
	if e == nil {
		s.logger.Warn("add message to unknown conversation", zap.String("conversation_id", id))
		return false
	}
	s.appendEntryLocked(e, m)
	return true
}

func (s *Store) appendEntryLocked(e *entry, m Message) {
	e.conv.Messages = append(e.conv.Messages, m)
	e.conv.UpdatedAt = s.now()
}

// CreateNewConversation seeds a temporary conversation holding the greeting,
// puts it first and makes it current. It returns the new id.
func (s *Store) CreateNewConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked()
}

func (s *Store) createLocked() string {
	now := s.now()
	id := s.tempIDLocked(now)
	greeting := Message{
		ID:        s.newID(),
		Text:      Greeting,
		Sender:    SenderBot,
		Timestamp: now,
	}
	e := &entry{conv: Conversation{
		ID:        id,
		Title:     DefaultTitle,
		Messages:  []Message{greeting},
		CreatedAt: now,
		UpdatedAt: now,
	}}
	s.entries = append([]*entry{e}, s.entries...)
	s.currentID = id
	return id
}

// tempIDLocked returns "new_<unix millis>", bumping the millisecond value
// until it is unique within the registry.
func (s *Store) tempIDLocked(now time.Time) string {
	ms := now.UnixMilli()
	for {
		id := TempIDPrefix + strconv.FormatInt(ms, 10)
		if e := s.findLocked(id); e == nil {
			return id
		}
		ms++
	}
}

// SwitchConversation makes id current. For a permanent id it then fetches the
// conversation's history and replaces its messages; fetch failures are logged
// and leave the entry untouched. Unknown ids are ignored.
func (s *Store) SwitchConversation(ctx context.Context, id string) {
	s.mu.Lock()
	e := s.findLocked(id)
	if e == nil {
		s.mu.Unlock()
		s.logger.Warn("switch to unknown conversation", zap.String("conversation_id", id))
		return
	}
	s.currentID = id
	s.mu.Unlock()

	if IsTemporaryID(id) {
		return
	}
	s.fetchHistory(ctx, e)
}

// fetchHistory replaces e's messages with the server history. Messages
// appended locally while the request was in flight are kept after it.
func (s *Store) fetchHistory(ctx context.Context, e *entry) {
	s.mu.Lock()
	id := e.conv.ID
	e.fetchGen++
	gen, base := e.fetchGen, len(e.conv.Messages)
	s.mu.Unlock()

	detail, err := s.svc.GetConversation(ctx, id)
	if err != nil {
		s.logger.Error("fetch conversation history failed", zap.String("conversation_id", id), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.containsLocked(e) {
		s.logger.Debug("history fetched for a removed conversation", zap.String("conversation_id", id))
		return
	}
	if e.fetchGen != gen || e.conv.ID != id {
		s.logger.Debug("stale history fetch dropped",
			zap.String("conversation_id", id),
			zap.Uint64("fetch_gen", gen),
			zap.Uint64("latest_gen", e.fetchGen))
		return
	}
	msgs := messagesFromHistory(detail.Messages)
	// only appends touch Messages between a fetch and its result
	if base <= len(e.conv.Messages) {
		msgs = append(msgs, e.conv.Messages[base:]...)
	}
	e.conv.Messages = msgs
	if !detail.UpdatedAt.IsZero() {
		e.conv.UpdatedAt = detail.UpdatedAt
	}
	if t := strings.TrimSpace(detail.Title); t != "" {
		e.conv.Title = t
	}
}

// UpdateConversationID renames oldID to newID in place, moving the current
// pointer along with it. Absent oldID, a temporary newID or an already used
// newID make it a no-op. It reports whether the rename happened.
func (s *Store) UpdateConversationID(oldID, newID string) bool {
	if oldID == newID || newID == "" || IsTemporaryID(newID) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findLocked(oldID)
	if e == nil {
		return false
	}
	return s.renameLocked(e, newID)
}

func (s *Store) renameLocked(e *entry, newID string) bool {
	oldID := e.conv.ID
	if s.findLocked(newID) != nil {
		s.logger.Warn("conversation id already in use",
			zap.String("old_id", oldID), zap.String("new_id", newID))
		return false
	}
	e.conv.ID = newID
	if s.currentID == oldID {
		s.currentID = newID
	}
	return true
}

// DeleteConversation removes a conversation. A permanent id is deleted on the
// server first and kept locally if that fails. When the current conversation
// is removed the next most recent one becomes current, or a new one is seeded
// if none remain. It reports whether the entry was removed.
func (s *Store) DeleteConversation(ctx context.Context, id string) bool {
	s.mu.Lock()
	e := s.findLocked(id)
	s.mu.Unlock()
	if e == nil {
		return false
	}

	if !IsTemporaryID(id) {
		if err := s.svc.DeleteConversation(ctx, id); err != nil {
			s.logger.Error("delete conversation failed", zap.String("conversation_id", id), zap.Error(err))
			return false
		}
	}

	s.mu.Lock()
	i := slices.Index(s.entries, e)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	wasCurrent := s.currentID == e.conv.ID
	s.entries = slices.Delete(s.entries, i, i+1)

	var next *entry
	if wasCurrent {
		if len(s.entries) == 0 {
			s.createLocked()
		} else {
			next = s.entries[0]
			s.currentID = next.conv.ID
		}
	}
	s.mu.Unlock()

	if next != nil && !IsTemporaryID(next.conv.ID) {
		s.fetchHistory(ctx, next)
	}
	return true
}

// Conversations returns a copy of the registry, newest first.
func (s *Store) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.conv.clone())
	}
	return out
}

func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findLocked(id)
	if e == nil {
		return Conversation{}, false
	}
	return e.conv.clone(), true
}

func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

func (s *Store) Current() (Conversation, bool) {
	return s.Conversation(s.CurrentID())
}

// CurrentMessages returns the current conversation's messages, or nil when
// there is no current conversation.
func (s *Store) CurrentMessages() []Message {
	c, ok := s.Current()
	if !ok {
		return nil
	}
	return c.Messages
}

func (s *Store) findLocked(id string) *entry {
	if id == "" {
		return nil
	}
	for _, e := range s.entries {
		if e.conv.ID == id {
			return e
		}
	}
	return nil
}

func (s *Store) containsLocked(e *entry) bool {
	return slices.Contains(s.entries, e)
}
