package chatclient

import "time"

// Message roles as reported by the server.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type HistoryMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

type ConversationDetail struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Messages  []HistoryMessage `json:"messages"`
}

// SendResult is the reply to POST /chat/message. ConversationID is the id the
// exchange was recorded under, which may differ from the one sent.
type SendResult struct {
	ConversationID string `json:"conversationId"`
	Response       string `json:"response"`
}

type User struct {
	ID       uint64 `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}
