package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MINDMATE_DATA_DIR", "/tmp/mm")

	cfg := Load()

	assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	assert.Equal(t, BackendSQLite, cfg.VectorBackend)
	assert.Equal(t, "cosine", cfg.VectorMetric)
	assert.Equal(t, 300, cfg.ChunkMaxTokens)
	assert.Equal(t, 3, cfg.MemoryTopK)
	assert.Equal(t, 100, cfg.FactLimit)
	assert.Equal(t, 3, cfg.MinWords)
	assert.Equal(t, 50, cfg.ReplyTokens)
	assert.Equal(t, "5555", cfg.ServerPort)
	assert.Equal(t, filepath.Join("/tmp/mm", "chat_history"), cfg.TranscriptDir)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MINDMATE_EMBED_PROVIDER", "hash")
	t.Setenv("MINDMATE_EMBED_DIMENSION", "64")
	t.Setenv("MINDMATE_TURN_TIMEOUT", "5s")
	t.Setenv("MINDMATE_TEMPERATURE", "0.2")
	t.Setenv("MINDMATE_LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, ProviderHash, cfg.EmbedProvider)
	assert.Equal(t, 64, cfg.EmbedDimension)
	assert.Equal(t, 5*time.Second, cfg.TurnTimeout)
	assert.InDelta(t, 0.2, cfg.Temperature, 1e-9)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("MINDMATE_MEMORY_TOP_K", "three")
	t.Setenv("MINDMATE_TURN_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, 3, cfg.MemoryTopK)
	assert.Equal(t, 60*time.Second, cfg.TurnTimeout)
}

func TestValidate(t *testing.T) {
	base := Load()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad llm provider", func(c *Config) { c.LLMProvider = "gpt4all" }, "unsupported LLM provider"},
		{"bad embed provider", func(c *Config) { c.EmbedProvider = "anthropic" }, "unsupported embedding provider"},
		{"bad backend", func(c *Config) { c.VectorBackend = "faiss" }, "unsupported vector backend"},
		{"bad metric", func(c *Config) { c.VectorMetric = "dot" }, "unsupported vector metric"},
		{"pgvector without url", func(c *Config) {
			c.VectorBackend = BackendPGVector
			c.DatabaseURL = ""
		}, "DATABASE_URL required"},
		{"zero dimension", func(c *Config) { c.EmbedDimension = 0 }, "MINDMATE_EMBED_DIMENSION must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("turn complete", "namespace", "alice")

	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "turn complete")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(file.String())), &entry))
	assert.Equal(t, "turn complete", entry["msg"])
	assert.Equal(t, "alice", entry["namespace"])
}

func TestSetupLoggerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mindmate.log")

	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("hello")
	require.NoError(t, cleanup())

	assert.FileExists(t, path)
}
