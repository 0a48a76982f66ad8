package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Conversation struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ConversationID string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"id"`
	UserID         uint64    `gorm:"index:idx_chat_conv_user_updated,priority:1;not null" json:"-"`
	Title          string    `gorm:"type:varchar(120);not null" json:"title"`
	Provider       string    `gorm:"type:varchar(32);not null" json:"-"`
	Model          string    `gorm:"type:varchar(64);not null" json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `gorm:"index:idx_chat_conv_user_updated,priority:2" json:"updatedAt"`
}

func (Conversation) TableName() string { return "chat_conversations" }

type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ConversationID string    `gorm:"type:varchar(26);not null;index:idx_chat_msg_conv_id,priority:1" json:"-"`
	UserID         uint64    `gorm:"not null;index" json:"-"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `json:"timestamp"`
}

func (Message) TableName() string { return "chat_messages" }

// Summary is one entry of GET /chat/conversations.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Conversation) Summary() Summary {
	return Summary{ID: c.ConversationID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

// HistoryMessage is one entry of GET /chat/:conversationId.
type HistoryMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

type History struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Messages  []HistoryMessage `json:"messages"`
}

// Models lists every table owned by this package, for migrations.
func Models() []any {
	return []any{&Conversation{}, &Message{}, &Job{}}
}
