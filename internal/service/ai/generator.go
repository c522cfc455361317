package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/botdialog/internal/config"
)

// ErrGenerationFailed is wrapped by every error a Generator returns: network
// failures, non-success statuses, malformed bodies and timeouts alike.
var ErrGenerationFailed = errors.New("generation failed")

// Generator produces a reply for message in the voice described by description.
// Implementations do not retry.
type Generator interface {
	Generate(ctx context.Context, description, message string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, description, message string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, description, message string) (string, error) {
	return f(ctx, description, message)
}

// New builds the generator selected by cfg.Provider.
func New(ctx context.Context, cfg config.AIConfig) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", config.ProviderOpenRouter:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OPENROUTER_API_KEY is required for provider %q", config.ProviderOpenRouter)
		}
		client := &http.Client{Timeout: cfg.RequestTimeout() + 5*time.Second}
		return NewChatCompletions(cfg.Endpoint, cfg.APIKey, cfg.Model,
			WithHTTPClient(client),
			WithAppInfo(cfg.AppReferer, cfg.AppTitle),
		), nil
	case config.ProviderArk:
		return NewService(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}

func failed(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrGenerationFailed, op, err)
}
