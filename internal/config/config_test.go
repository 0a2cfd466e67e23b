package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Addr)
	assert.Equal(t, "localhost:3001", cfg.AdminAddr)
	assert.Equal(t, int64(10000000), cfg.MaxMessageSize)
	assert.Equal(t, 100, cfg.SendBuffer)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("CHATIFY_ADDR", ":9999")
	t.Setenv("CHATIFY_ALLOWED_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("CHATIFY_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("CHATIFY_LOG_LEVEL", "chatty")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadClient(t *testing.T) {
	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, 500000, cfg.ChunkSize)
	assert.Equal(t, 1000000, cfg.ChunkThreshold)
	assert.Equal(t, 50*time.Millisecond, cfg.ChunkDelay)
	assert.Equal(t, 5*time.Second, cfg.ChunkGrace)
	assert.Equal(t, time.Second, cfg.TypingTimeout)
	assert.Equal(t, 5, cfg.ReconnectAttempts)

	t.Setenv("CHATIFY_CHUNK_STALE", "1s")
	_, err = LoadClient()
	assert.Error(t, err, "stale timeout shorter than grace must be rejected")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := ParseLevel(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}
