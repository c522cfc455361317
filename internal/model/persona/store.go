package persona

import (
	"context"
	"errors"
)

var (
	ErrBotNotFound    = errors.New("bot not found")
	ErrTokenRequired  = errors.New("bot token is required")
	ErrDuplicateToken = errors.New("bot token already registered")
	ErrDuplicateID    = errors.New("bot id already registered")
	ErrInvalidToken   = errors.New("bot token must look like <digits>:<secret>")
)

// Store exposes bot registration and lookup for HTTP handlers.
type Store interface {
	CreateBot(ctx context.Context, bot Bot) (Bot, error)
	GetBot(ctx context.Context, id int64) (Bot, error)
}
