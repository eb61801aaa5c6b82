// Package providers selects the text generator named by AI_PROVIDER.
package providers

import (
	"context"
	"fmt"

	"analyzer-backend/internal/shared/config"
	"analyzer-backend/internal/shared/telemetry"
	"analyzer-backend/internal/textgen"
	"analyzer-backend/internal/textgen/anthropic"
	"analyzer-backend/internal/textgen/gemini"
	"analyzer-backend/internal/textgen/openai"
)

// New builds the configured generator wrapped with the default retry policy.
// AI_PROVIDER=none yields textgen.Placeholder, which fails every call.
func New(ctx context.Context, cfg config.Config) (textgen.Generator, error) {
	var (
		gen textgen.Generator
		err error
	)
	switch cfg.AIProvider {
	case "none":
		telemetry.Warn("textgen.placeholder", map[string]any{"reason": "AI_PROVIDER=none"})
		return textgen.Placeholder{}, nil
	case "chatgpt":
		gen, err = openai.NewClient(openai.Options{
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.OpenAIModel,
			MaxTokens: cfg.LLMMaxTokens,
			Timeout:   cfg.LLMTimeout,
		})
	case "anthropic":
		gen, err = anthropic.NewClient(anthropic.Options{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.AnthropicModel,
			MaxTokens: cfg.LLMMaxTokens,
			Timeout:   cfg.LLMTimeout,
		})
	case "gemini":
		gen, err = gemini.NewClient(ctx, gemini.Options{
			APIKey:    cfg.GeminiAPIKey,
			Model:     cfg.GeminiModel,
			MaxTokens: cfg.LLMMaxTokens,
			Timeout:   cfg.LLMTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown AI_PROVIDER %q", cfg.AIProvider)
	}
	if err != nil {
		return nil, err
	}

	telemetry.Info("textgen.provider", map[string]any{"provider": cfg.AIProvider})
	return textgen.WithRetry(gen, textgen.DefaultRetryPolicy()), nil
}
