package ai

import (
	"context"
	"strings"

	"github.com/suPer8Hu/fitmate-chat/internal/config"
)

// RegistryFromConfig registers every provider the configuration can serve.
// Conversations keep the provider and model they were created with, so the
// factories honor the requested model and fall back to the configured one.
func RegistryFromConfig(cfg config.Config) *Registry {
	reg := NewRegistry()

	reg.Register("ollama", func(ctx context.Context, model string) (Provider, error) {
		return NewOllamaProvider(cfg.OllamaBaseURL, modelOr(model, cfg.OllamaModel)), nil
	})

	reg.Register("openrouter", func(ctx context.Context, model string) (Provider, error) {
		return NewOpenRouterProvider(
			cfg.OpenRouterBaseURL,
			cfg.OpenRouterAPIKey,
			modelOr(model, cfg.OpenRouterModel),
			cfg.OpenRouterSiteURL,
			cfg.OpenRouterAppName,
		), nil
	})

	reg.Register("openai", func(ctx context.Context, model string) (Provider, error) {
		return NewLangChainProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, modelOr(model, cfg.OpenAIModel))
	})

	return reg
}

// DefaultModel returns the configured model of the named provider.
func DefaultModel(cfg config.Config, provider string) string {
	switch normalizeName(provider) {
	case "openrouter":
		return cfg.OpenRouterModel
	case "openai":
		return cfg.OpenAIModel
	default:
		return cfg.OllamaModel
	}
}

func modelOr(model, def string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return def
}
