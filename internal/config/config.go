package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Server
	Port      int    `env:"PORT" envDefault:"8050"`
	Host      string `env:"HOST" envDefault:"0.0.0.0"`
	StaticDir string `env:"STATIC_DIR" envDefault:"./assets"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Slides
	DataDir       string `env:"DATA_DIR" envDefault:"./data"`
	SlideManifest string `env:"SLIDE_MANIFEST"`

	// Chat
	ChatHistoryDir string        `env:"CHAT_HISTORY_DIR" envDefault:"./chat_sessions"`
	ChatProvider   string        `env:"CHAT_PROVIDER" envDefault:"ollama"`
	ChatModel      string        `env:"CHAT_MODEL" envDefault:"qwen2.5vl:72b"`
	ChatTimeout    time.Duration `env:"CHAT_TIMEOUT" envDefault:"120s"`
	OllamaURL      string        `env:"OLLAMA_URL"`
	OllamaHost     string        `env:"OLLAMA_HOST"`
	OpenAIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIURL      string        `env:"OPENAI_URL"`
	GeminiKey      string        `env:"GEMINI_API_KEY"`

	// Tiles
	TileHost       string `env:"TILE_HOST" envDefault:"0.0.0.0"`
	TilePort       int    `env:"TILE_PORT" envDefault:"9015"`
	TileClientHost string `env:"TILE_CLIENT_HOST" envDefault:"localhost"`

	// 0 disables
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.ChatProvider {
	case "ollama", "openai", "gemini":
	default:
		return fmt.Errorf("unsupported CHAT_PROVIDER %q", c.ChatProvider)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	// overlay tiles are served on TilePort-1
	if c.TilePort <= 1 || c.TilePort > 65535 {
		return fmt.Errorf("invalid TILE_PORT %d", c.TilePort)
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE %d", c.RateLimitPerMinute)
	}
	return nil
}

// OllamaEndpoint prefers OLLAMA_URL over OLLAMA_HOST; empty means the
// client default.
func (c *Config) OllamaEndpoint() string {
	if c.OllamaURL != "" {
		return c.OllamaURL
	}
	return c.OllamaHost
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SlogLevel maps LOG_LEVEL onto slog levels, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
