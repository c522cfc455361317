package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/botdialog/internal/config"
)

// Service generates replies through an eino chain: persona prompt template
// followed by the configured chat model.
type Service struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
}

var _ Generator = (*Service)(nil)

// NewService creates the Ark-backed generator described by cfg.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel)
}

// NewServiceWithModel compiles the generation chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
	}, nil
}

// Generate runs the chain once for a single exchange.
func (s *Service) Generate(ctx context.Context, description, message string) (string, error) {
	response, err := s.chain.Invoke(ctx, buildChainInput(description, message))
	if err != nil {
		return "", failed("run chain", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", failed("run chain", errors.New("empty model response"))
	}
	return response.Content, nil
}

// GetChatModel returns the underlying chat model.
func (s *Service) GetChatModel() model.ChatModel {
	return s.chatModel
}
