package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/fitmate-chat/internal/ai"
	"github.com/suPer8Hu/fitmate-chat/internal/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrEmptyMessage = errors.New("message is empty")

const (
	defaultProvider = "ollama"
	defaultModel    = "llama3:latest"

	maxTitleRunes = 60

	coachSystemPrompt = "You are FitMate, a friendly and knowledgeable fitness coach. " +
		"Help learners with workouts, nutrition, recovery and motivation. " +
		"Keep answers practical and safe, and suggest seeing a professional for medical concerns."

	titlePrompt = "Summarize the following fitness coaching conversation as a title of at most 6 words. " +
		"Reply with the title only, without quotes."
)

// ListCache caches the per-user conversation summary list.
type ListCache interface {
	GetConversationList(ctx context.Context, userID uint64) ([]Summary, bool, error)
	SetConversationList(ctx context.Context, userID uint64, list []Summary) error
	InvalidateConversationList(ctx context.Context, userID uint64) error
}

// JobPublisher hands a queued job id to the worker queue.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Service struct {
	repo              *Repo
	registry          *ai.Registry
	contextWindowSize int

	provider string
	model    string

	cache     ListCache
	publisher JobPublisher
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithDefaultProvider selects the provider and model given to new conversations.
func WithDefaultProvider(provider, model string) Option {
	return func(s *Service) {
		if p := strings.TrimSpace(provider); p != "" {
			s.provider = p
		}
		if m := strings.TrimSpace(model); m != "" {
			s.model = m
		}
	}
}

func WithListCache(c ListCache) Option { return func(s *Service) { s.cache = c } }

func WithJobPublisher(p JobPublisher) Option { return func(s *Service) { s.publisher = p } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(repo *Repo, registry *ai.Registry, contextWindowSize int, opts ...Option) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	s := &Service{
		repo:              repo,
		registry:          registry,
		contextWindowSize: contextWindowSize,
		provider:          defaultProvider,
		model:             defaultModel,
		logger:            zap.NewNop(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "chat"))
	return s
}

// ListConversations returns summaries, most recently updated first.
func (s *Service) ListConversations(ctx context.Context, userID uint64) ([]Summary, error) {
	if s.cache != nil {
		list, ok, err := s.cache.GetConversationList(ctx, userID)
		if err != nil {
			s.logger.Warn("conversation list cache read failed", zap.Uint64("user_id", userID), zap.Error(err))
		} else if ok {
			return list, nil
		}
	}

	convs, err := s.repo.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(convs))
	for i := range convs {
		out = append(out, convs[i].Summary())
	}

	if s.cache != nil {
		if err := s.cache.SetConversationList(ctx, userID, out); err != nil {
			s.logger.Warn("conversation list cache write failed", zap.Uint64("user_id", userID), zap.Error(err))
		}
	}
	return out, nil
}

// GetHistory returns gorm.ErrRecordNotFound for unknown or foreign conversations.
func (s *Service) GetHistory(ctx context.Context, userID uint64, conversationID string) (*History, error) {
	conv, err := s.repo.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	h := &History{
		ID:        conv.ConversationID,
		Title:     conv.Title,
		UpdatedAt: conv.UpdatedAt,
		Messages:  make([]HistoryMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		h.Messages = append(h.Messages, HistoryMessage{
			ID:        strconv.FormatUint(m.ID, 10),
			Content:   m.Content,
			Role:      m.Role,
			Timestamp: m.CreatedAt,
		})
	}
	return h, nil
}

// SendMessage stores the user message, asks the conversation's provider for a
// reply and stores it. An empty or unknown conversationID starts a new
// conversation; the returned id is the one the exchange was recorded under.
func (s *Service) SendMessage(ctx context.Context, userID uint64, conversationID string, content string) (convID string, reply string, err error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", "", ErrEmptyMessage
	}

	// 1) resolve or create the conversation
	conv, created, err := s.ensureConversation(ctx, userID, conversationID, content)
	if err != nil {
		return "", "", err
	}
	if created {
		defer func() {
			// a failed first exchange leaves nothing behind
			if err != nil {
				s.discardConversation(ctx, userID, conv.ConversationID)
			}
			s.invalidateList(ctx, userID)
		}()
	}

	provider, err := s.providerFor(ctx, conv)
	if err != nil {
		return "", "", err
	}

	// 2) store user message first
	userMsg := &Message{
		ConversationID: conv.ConversationID,
		UserID:         userID,
		Role:           RoleUser,
		Content:        content,
	}
	if err := s.repo.InsertMessage(ctx, userMsg); err != nil {
		return "", "", err
	}

	// 3) build provider messages from recent DB history
	providerMsgs, err := s.providerContext(ctx, conv.ConversationID, coachSystemPrompt, s.contextWindowSize)
	if err != nil {
		return "", "", err
	}

	// 4) call provider
	reply, err = provider.Chat(ctx, providerMsgs)
	if err != nil {
		s.logger.Warn("assistant reply failed",
			zap.String("conversation_id", conv.ConversationID),
			zap.String("provider", conv.Provider),
			zap.Error(err))
		return "", "", fmt.Errorf("assistant reply: %w", err)
	}

	// 5) store assistant message
	assistantMsg := &Message{
		ConversationID: conv.ConversationID,
		UserID:         userID,
		Role:           RoleAssistant,
		Content:        reply,
	}
	if err := s.repo.InsertMessage(ctx, assistantMsg); err != nil {
		return "", "", err
	}
	if err := s.repo.TouchConversation(ctx, conv.ConversationID, s.now()); err != nil {
		s.logger.Warn("touch conversation failed", zap.String("conversation_id", conv.ConversationID), zap.Error(err))
	}
	if !created {
		s.invalidateList(ctx, userID)
	} else {
		s.enqueueTitleJob(ctx, userID, conv.ConversationID)
	}

	return conv.ConversationID, reply, nil
}

func (s *Service) discardConversation(ctx context.Context, userID uint64, conversationID string) {
	if err := s.repo.DeleteConversation(context.WithoutCancel(ctx), userID, conversationID); err != nil {
		s.logger.Warn("discard conversation failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

func (s *Service) ensureConversation(ctx context.Context, userID uint64, conversationID, firstMessage string) (*Conversation, bool, error) {
	if conversationID != "" {
		conv, err := s.repo.GetConversation(ctx, userID, conversationID)
		if err == nil {
			return conv, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
		s.logger.Info("unknown conversation, starting a new one",
			zap.Uint64("user_id", userID), zap.String("conversation_id", conversationID))
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	conv := &Conversation{
		ConversationID: id,
		UserID:         userID,
		Title:          TitleFromMessage(firstMessage),
		Provider:       s.provider,
		Model:          s.model,
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// DeleteConversation returns gorm.ErrRecordNotFound for unknown or foreign conversations.
func (s *Service) DeleteConversation(ctx context.Context, userID uint64, conversationID string) error {
	if err := s.repo.DeleteConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	s.invalidateList(ctx, userID)
	return nil
}

// GenerateTitle asks the conversation's provider for a short title and stores it.
func (s *Service) GenerateTitle(ctx context.Context, userID uint64, conversationID string) (string, error) {
	conv, err := s.repo.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return "", err
	}
	provider, err := s.providerFor(ctx, conv)
	if err != nil {
		return "", err
	}

	msgs, err := s.providerContext(ctx, conversationID, titlePrompt, 4)
	if err != nil {
		return "", err
	}
	raw, err := provider.Chat(ctx, msgs)
	if err != nil {
		return "", err
	}
	title := cleanTitle(raw)
	if title == "" {
		return "", errors.New("provider returned an empty title")
	}

	if err := s.repo.UpdateTitle(ctx, conversationID, title); err != nil {
		return "", err
	}
	s.invalidateList(ctx, userID)
	return title, nil
}

func (s *Service) providerFor(ctx context.Context, conv *Conversation) (ai.Provider, error) {
	p := conv.Provider
	m := conv.Model
	if p == "" {
		p = s.provider
	}
	if m == "" {
		m = s.model
	}
	return s.registry.Get(ctx, p, m)
}

// providerContext loads the newest `window` messages and returns them oldest
// first behind a system prompt.
func (s *Service) providerContext(ctx context.Context, conversationID, systemPrompt string, window int) ([]ai.Message, error) {
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, conversationID, window)
	if err != nil {
		return nil, err
	}
	out := make([]ai.Message, 0, len(recentDesc)+1)
	out = append(out, ai.Message{Role: RoleSystem, Content: systemPrompt})
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

func (s *Service) invalidateList(ctx context.Context, userID uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateConversationList(ctx, userID); err != nil {
		s.logger.Warn("conversation list cache invalidation failed", zap.Uint64("user_id", userID), zap.Error(err))
	}
}

// enqueueTitleJob is best effort: the conversation keeps its provisional
// title when the queue is unavailable.
func (s *Service) enqueueTitleJob(ctx context.Context, userID uint64, conversationID string) {
	if s.publisher == nil {
		return
	}
	jobID, err := common.NewULID()
	if err != nil {
		s.logger.Warn("title job id failed", zap.Error(err))
		return
	}
	job := &Job{
		ID:             jobID,
		UserID:         userID,
		ConversationID: conversationID,
		Kind:           JobTitle,
		Status:         JobQueued,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		s.logger.Warn("create title job failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	if err := s.publisher.PublishJob(ctx, jobID); err != nil {
		s.logger.Warn("publish title job failed", zap.String("job_id", jobID), zap.Error(err))
		_ = s.repo.MarkJobFailed(ctx, jobID, "enqueue failed: "+err.Error())
	}
}

// TitleFromMessage derives a provisional title from the first user message.
func TitleFromMessage(msg string) string {
	line := strings.TrimSpace(msg)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.Join(strings.Fields(line), " ")
	if line == "" {
		return "New Chat"
	}
	if utf8.RuneCountInString(line) <= maxTitleRunes {
		return line
	}
	r := []rune(line)
	return strings.TrimSpace(string(r[:maxTitleRunes-3])) + "..."
}

func cleanTitle(raw string) string {
	t := strings.TrimSpace(raw)
	if i := strings.IndexAny(t, "\r\n"); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSpace(strings.TrimPrefix(t, "Title:"))
	t = strings.Trim(t, " \t\"'`*#")
	if t == "" {
		return ""
	}
	return TitleFromMessage(t)
}
