package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LogConfig controls the process-wide slog handler.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL"  envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// NewLogger builds a logger writing to w in the configured format.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := c.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT value %q", c.Format)
	}
}

func (c LogConfig) level() (slog.Level, error) {
	var level slog.Level
	raw := strings.TrimSpace(c.Level)
	if raw == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL value %q: %w", raw, err)
	}
	return level, nil
}
