package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Supported LLM providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderArk        = "ark"
)

// Config aggregates the settings of the whole service.
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Dialog   DialogConfig
	Database DatabaseConfig
	Log      LogConfig
}

// Load reads the configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	if _, err := c.Server.Addr(); err != nil {
		return err
	}

	switch strings.ToLower(c.AI.Provider) {
	case ProviderOpenRouter, ProviderArk:
	default:
		return fmt.Errorf("invalid LLM_PROVIDER value %q", c.AI.Provider)
	}
	if c.AI.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid LLM_REQUEST_TIMEOUT value %d: must be positive", c.AI.RequestTimeoutSeconds)
	}

	d := c.Dialog
	switch {
	case d.SessionTimeoutSeconds <= 0:
		return fmt.Errorf("invalid DIALOG_TIMEOUT value %d: must be positive", d.SessionTimeoutSeconds)
	case d.ReapIntervalSeconds <= 0:
		return fmt.Errorf("invalid DIALOG_REAP_INTERVAL value %d: must be positive", d.ReapIntervalSeconds)
	case d.QueueSize <= 0:
		return fmt.Errorf("invalid DIALOG_QUEUE_SIZE value %d: must be positive", d.QueueSize)
	case d.StopGraceSeconds <= 0:
		return fmt.Errorf("invalid DIALOG_STOP_GRACE value %d: must be positive", d.StopGraceSeconds)
	case d.PersistRetries < 0:
		return fmt.Errorf("invalid DIALOG_PERSIST_RETRIES value %d: must not be negative", d.PersistRetries)
	}

	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("invalid DB_DRIVER value %q", c.Database.Driver)
	}

	if _, err := c.Log.NewLogger(io.Discard); err != nil {
		return err
	}
	return nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
}

// Addr turns PORT into a listen address. "8080", ":8080" and "127.0.0.1:8080" are accepted.
func (c ServerConfig) Addr() (string, error) {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	if strings.Contains(port, ":") {
		return port, nil
	}
	return ":" + port, nil
}

// AIConfig describes the response generator.
type AIConfig struct {
	Provider              string `env:"LLM_PROVIDER"        envDefault:"openrouter"`
	Endpoint              string `env:"OPENROUTER_URL"      envDefault:"https://openrouter.ai/api/v1/chat/completions"`
	Model                 string `env:"AI_MODEL"            envDefault:"anthropic/claude-3-opus"`
	APIKey                string `env:"OPENROUTER_API_KEY"`
	AppReferer            string `env:"OPENROUTER_REFERER"`
	AppTitle              string `env:"OPENROUTER_TITLE"    envDefault:"PersonaCrafter"`
	RequestTimeoutSeconds int    `env:"LLM_REQUEST_TIMEOUT" envDefault:"60"`

	ArkAPIKey    string `env:"ARK_API_KEY"`
	ArkAccessKey string `env:"ARK_ACCESS_KEY"`
	ArkSecretKey string `env:"ARK_SECRET_KEY"`
	ArkBaseURL   string `env:"ARK_BASE_URL"   envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	ArkRegion    string `env:"ARK_REGION"     envDefault:"cn-beijing"`
	ArkMaxTokens int    `env:"ARK_MAX_TOKENS"`
}

// RequestTimeout bounds a single generator call.
func (c AIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ArkEnabled reports whether the Ark credentials required by NewChatModel are present.
func (c AIConfig) ArkEnabled() bool {
	return c.Model != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
}

// NewChatModel creates the Ark chat model used by the eino generator.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, errors.New("ark credentials or model missing: provide ARK_API_KEY, or ARK_ACCESS_KEY and ARK_SECRET_KEY, plus AI_MODEL")
	}

	var maxTokens *int
	if c.ArkMaxTokens > 0 {
		val := c.ArkMaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:   c.ArkBaseURL,
		Region:    c.ArkRegion,
		APIKey:    c.ArkAPIKey,
		AccessKey: c.ArkAccessKey,
		SecretKey: c.ArkSecretKey,
		Model:     c.Model,
		MaxTokens: maxTokens,
	}

	return ark.NewChatModel(ctx, cfg)
}

// DialogConfig controls session lifecycle.
type DialogConfig struct {
	SessionTimeoutSeconds int `env:"DIALOG_TIMEOUT"         envDefault:"600"`
	ReapIntervalSeconds   int `env:"DIALOG_REAP_INTERVAL"   envDefault:"60"`
	QueueSize             int `env:"DIALOG_QUEUE_SIZE"      envDefault:"32"`
	StopGraceSeconds      int `env:"DIALOG_STOP_GRACE"      envDefault:"5"`
	PersistRetries        int `env:"DIALOG_PERSIST_RETRIES" envDefault:"1"`
}

// SessionTimeout is the idle period after which a session is evicted.
func (c DialogConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// ReapInterval is the period of the idle-session reaper.
func (c DialogConfig) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSeconds) * time.Second
}

// StopGrace bounds how long a stopping worker may take to finish its current exchange.
func (c DialogConfig) StopGrace() time.Duration {
	return time.Duration(c.StopGraceSeconds) * time.Second
}

// DatabaseConfig selects the transcript store backend.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DB_DSN"    envDefault:"shared_resources/bots.db"`
	Seed   bool   `env:"DB_SEED"   envDefault:"false"`
}
