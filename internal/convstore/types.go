package convstore

import (
	"context"
	"strings"
	"time"

	"github.com/suPer8Hu/fitmate-chat/internal/chatclient"
)

const (
	// TempIDPrefix marks ids minted locally for conversations the server has
	// not seen yet.
	TempIDPrefix = "new_"

	DefaultTitle = "New Chat"

	Greeting      = "Hi! I'm your FitMate coach. Ask me anything about workouts, nutrition or recovery."
	FallbackReply = "Sorry, I'm having trouble connecting right now. Please try again in a moment."
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is immutable once added to a conversation.
type Message struct {
	ID        string
	Text      string
	Sender    Sender
	Timestamp time.Time
}

type Conversation struct {
	ID        string
	Title     string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c Conversation) clone() Conversation {
	c.Messages = append([]Message(nil), c.Messages...)
	return c
}

func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Service is the part of the Conversation Service API the store consumes.
// *chatclient.Client implements it.
type Service interface {
	ListConversations(ctx context.Context) ([]chatclient.ConversationSummary, error)
	GetConversation(ctx context.Context, id string) (*chatclient.ConversationDetail, error)
	SendMessage(ctx context.Context, message, conversationID string) (*chatclient.SendResult, error)
	DeleteConversation(ctx context.Context, id string) error
}

var _ Service = (*chatclient.Client)(nil)

func senderFromRole(role string) Sender {
	if role == chatclient.RoleAssistant {
		return SenderBot
	}
	return SenderUser
}

func messagesFromHistory(in []chatclient.HistoryMessage) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		out = append(out, Message{
			ID:        m.ID,
			Text:      m.Content,
			Sender:    senderFromRole(m.Role),
			Timestamp: m.Timestamp,
		})
	}
	return out
}

// ListFailurePolicy decides what Init does when the conversation list cannot
// be loaded.
type ListFailurePolicy int

const (
	// LeaveEmpty keeps the registry empty until the next Init or an explicit
	// CreateNewConversation.
	LeaveEmpty ListFailurePolicy = iota
	// CreateNew seeds a fresh temporary conversation.
	CreateNew
)

func (p ListFailurePolicy) String() string {
	switch p {
	case LeaveEmpty:
		return "leave_empty"
	case CreateNew:
		return "create_new"
	}
	return "unknown"
}
