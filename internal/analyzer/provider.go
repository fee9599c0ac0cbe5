package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cisage/internal/config"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned by providers that have no API key.
var ErrNotConfigured = errors.New("llm provider not configured")

const (
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultGeminiModel    = "gemini-2.5-flash"
)

type CompletionOptions struct {
	MaxTokens   int
	Temperature float64
}

// Provider sends one prompt to a model and returns its text reply.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error)
}

// NewProvider builds the provider selected in cfg. Without an API key it
// returns a Disabled provider, so analyses degrade to the fallback result.
func NewProvider(ctx context.Context, cfg config.LLM, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case config.ProviderGemini:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return Disabled{Provider: config.ProviderGemini}, nil
		}
		return NewGeminiProvider(ctx, GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
			RPS:     cfg.RequestsPerSecond,
		}, logger)
	case config.ProviderAnthropic, "":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return Disabled{Provider: config.ProviderAnthropic}, nil
		}
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
			RPS:     cfg.RequestsPerSecond,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// Disabled stands in for a provider whose API key is missing.
type Disabled struct {
	Provider string
}

func (d Disabled) Name() string { return d.Provider + " (disabled)" }

func (d Disabled) Complete(context.Context, string, CompletionOptions) (string, error) {
	return "", ErrNotConfigured
}
