package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/mindmate/internal/config"
	"github.com/raphaelgruber/mindmate/internal/embedding"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		LLMProvider:       config.ProviderOllama,
		LLMModel:          "llama3",
		OllamaHost:        "http://127.0.0.1:1",
		EmbedProvider:     config.ProviderHash,
		EmbedDimension:    32,
		EmbedCacheSize:    16,
		VectorBackend:     config.BackendSQLite,
		VectorMetric:      "cosine",
		DataDir:           dir,
		TranscriptBackend: config.TranscriptFile,
		TranscriptDir:     filepath.Join(dir, "chat_history"),
		ChunkMaxTokens:    300,
		MemoryTopK:        3,
		CorpusTopK:        3,
		FactLimit:         100,
		MinWords:          3,
		WindowTurns:       6,
		ReplyTokens:       50,
		ElaborateTokens:   200,
		CorpusBatchSize:   64,
	}
}

func TestNew(t *testing.T) {
	if testing.Short() {
		t.Skip("loads the tiktoken encoding")
	}
	ctx := context.Background()

	a, err := New(ctx, testConfig(t), nil)
	require.NoError(t, err)

	assert.NotNil(t, a.Chat)
	assert.NotNil(t, a.Builder)
	assert.IsType(t, &embedding.Cached{}, a.Embedder)
	assert.FileExists(t, filepath.Join(a.Config.DataDir, "memory.db"))

	require.NoError(t, a.Close(ctx))
	// Closing twice is harmless.
	require.NoError(t, a.Close(ctx))
}

func TestNew_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad embedder", func(c *config.Config) { c.EmbedProvider = "word2vec" }},
		{"bad backend", func(c *config.Config) { c.VectorBackend = "redis" }},
		{"bad provider", func(c *config.Config) { c.LLMProvider = "gemini" }},
		{"openai without key", func(c *config.Config) { c.LLMProvider = config.ProviderOpenAI }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			_, err := New(ctx, cfg, nil)
			assert.Error(t, err)
		})
	}
}
