package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8050, cfg.Port)
	assert.Equal(t, 9015, cfg.TilePort)
	assert.Equal(t, "./chat_sessions", cfg.ChatHistoryDir)
	assert.Equal(t, "qwen2.5vl:72b", cfg.ChatModel)
	assert.Equal(t, 120*time.Second, cfg.ChatTimeout)
	assert.Equal(t, "0.0.0.0:8050", cfg.Addr())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CHAT_PROVIDER", "gemini")
	t.Setenv("CHAT_TIMEOUT", "5s")
	t.Setenv("OLLAMA_HOST", "gpu01:11434")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "gemini", cfg.ChatProvider)
	assert.Equal(t, 5*time.Second, cfg.ChatTimeout)
	assert.Equal(t, "gpu01:11434", cfg.OllamaEndpoint())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())

	t.Setenv("OLLAMA_URL", "http://tunnel:11434")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "http://tunnel:11434", cfg.OllamaEndpoint())
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"provider", "CHAT_PROVIDER", "claude"},
		{"port", "PORT", "70000"},
		{"tile port", "TILE_PORT", "1"},
		{"not a number", "PORT", "eighty"},
		{"negative rate", "RATE_LIMIT_PER_MINUTE", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
