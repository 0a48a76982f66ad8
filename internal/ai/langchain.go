package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// LangChainProvider serves any OpenAI-compatible endpoint through langchaingo.
type LangChainProvider struct {
	llm llms.Model
}

func NewLangChainProvider(baseURL, token, model string) (*LangChainProvider, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("openai: api key is required")
	}
	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, err
	}
	return &LangChainProvider{llm: llm}, nil
}

func (p *LangChainProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatMessageType(m.Role), m.Content))
	}

	resp, err := p.llm.GenerateContent(ctx, content)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", errors.New("openai: empty response")
	}
	return resp.Choices[0].Content, nil
}

func chatMessageType(role string) schema.ChatMessageType {
	switch strings.ToLower(role) {
	case "assistant":
		return schema.ChatMessageTypeAI
	case "system":
		return schema.ChatMessageTypeSystem
	default:
		return schema.ChatMessageTypeHuman
	}
}
