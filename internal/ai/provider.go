package ai

import "context"

type Message struct {
	Role    string
	Content string
}

// Provider produces one assistant reply for an ordered (oldest first) message list.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}
