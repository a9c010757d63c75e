package config

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ProviderType identifies an LLM or embedding provider.
type ProviderType string

const (
	ProviderOllama    ProviderType = "ollama"
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderBedrock   ProviderType = "bedrock"
	ProviderHash      ProviderType = "hash"
)

// Vector store backends.
const (
	BackendSQLite    = "sqlite"
	BackendChromem   = "chromem"
	BackendSurrealDB = "surrealdb"
	BackendPGVector  = "pgvector"
)

// Transcript store backends.
const (
	TranscriptFile     = "file"
	TranscriptPostgres = "postgres"
	TranscriptMemory   = "memory"
)

// Config holds all configuration values.
type Config struct {
	// Generation
	LLMProvider ProviderType
	LLMModel    string
	Temperature float64

	// Embedding
	EmbedProvider  ProviderType
	EmbedModel     string
	EmbedDimension int
	EmbedCacheSize int

	// Provider endpoints and credentials
	OllamaHost      string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	AWSRegion       string

	// Vector store
	VectorBackend string
	VectorMetric  string
	DataDir       string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Postgres (pgvector backend and transcript store)
	DatabaseURL string

	// Transcripts
	TranscriptBackend string
	TranscriptDir     string

	// Memory policy
	ChunkMaxTokens   int
	MemoryTopK       int
	CorpusTopK       int
	FactLimit        int
	MinWords         int
	WindowTurns      int
	ReplyTokens      int
	ElaborateTokens  int
	CorpusBatchSize  int
	TurnTimeout      time.Duration
	WriteBackTimeout time.Duration

	// Emotion classifier (empty URL uses the static classifier)
	EmotionURL   string
	EmotionToken string

	// HTTP server
	ServerPort string
	CORSOrigin string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	dataDir := getEnv("MINDMATE_DATA_DIR", defaultDataDir())

	return Config{
		LLMProvider: ProviderType(getEnv("MINDMATE_LLM_PROVIDER", string(ProviderOpenAI))),
		LLMModel:    getEnv("MINDMATE_LLM_MODEL", "gpt-3.5-turbo"),
		Temperature: getEnvFloat("MINDMATE_TEMPERATURE", 0.7),

		EmbedProvider:  ProviderType(getEnv("MINDMATE_EMBED_PROVIDER", string(ProviderOpenAI))),
		EmbedModel:     getEnv("MINDMATE_EMBED_MODEL", "text-embedding-3-small"),
		EmbedDimension: getEnvInt("MINDMATE_EMBED_DIMENSION", 1536),
		EmbedCacheSize: getEnvInt("MINDMATE_EMBED_CACHE_SIZE", 1024),

		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		VectorBackend: getEnv("MINDMATE_VECTOR_BACKEND", BackendSQLite),
		VectorMetric:  getEnv("MINDMATE_VECTOR_METRIC", "cosine"),
		DataDir:       dataDir,

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "mindmate"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "memory"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		TranscriptBackend: getEnv("MINDMATE_TRANSCRIPT_BACKEND", TranscriptFile),
		TranscriptDir:     getEnv("MINDMATE_TRANSCRIPT_DIR", filepath.Join(dataDir, "chat_history")),

		ChunkMaxTokens:   getEnvInt("MINDMATE_CHUNK_MAX_TOKENS", 300),
		MemoryTopK:       getEnvInt("MINDMATE_MEMORY_TOP_K", 3),
		CorpusTopK:       getEnvInt("MINDMATE_CORPUS_TOP_K", 3),
		FactLimit:        getEnvInt("MINDMATE_FACT_LIMIT", 100),
		MinWords:         getEnvInt("MINDMATE_MIN_WORDS", 3),
		WindowTurns:      getEnvInt("MINDMATE_WINDOW_TURNS", 6),
		ReplyTokens:      getEnvInt("MINDMATE_REPLY_TOKENS", 50),
		ElaborateTokens:  getEnvInt("MINDMATE_ELABORATE_TOKENS", 200),
		CorpusBatchSize:  getEnvInt("MINDMATE_CORPUS_BATCH_SIZE", 64),
		TurnTimeout:      getEnvDuration("MINDMATE_TURN_TIMEOUT", 60*time.Second),
		WriteBackTimeout: getEnvDuration("MINDMATE_WRITEBACK_TIMEOUT", 30*time.Second),

		EmotionURL:   getEnv("MINDMATE_EMOTION_URL", ""),
		EmotionToken: getEnv("MINDMATE_EMOTION_TOKEN", ""),

		ServerPort: getEnv("MINDMATE_SERVER_PORT", "5555"),
		CORSOrigin: getEnv("MINDMATE_CORS_ORIGIN", "*"),

		LogFile:  getEnv("MINDMATE_LOG_FILE", filepath.Join(os.TempDir(), "mindmate.log")),
		LogLevel: parseLogLevel(getEnv("MINDMATE_LOG_LEVEL", "INFO")),
	}
}

// Validate reports configuration values that would fail later at startup.
func (c Config) Validate() error {
	var errs []error

	switch c.LLMProvider {
	case ProviderOllama, ProviderOpenAI, ProviderAnthropic, ProviderBedrock:
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM provider: %q", c.LLMProvider))
	}
	switch c.EmbedProvider {
	case ProviderOllama, ProviderOpenAI, ProviderHash:
	default:
		errs = append(errs, fmt.Errorf("unsupported embedding provider: %q", c.EmbedProvider))
	}
	switch c.VectorBackend {
	case BackendSQLite, BackendChromem, BackendSurrealDB, BackendPGVector:
	default:
		errs = append(errs, fmt.Errorf("unsupported vector backend: %q", c.VectorBackend))
	}
	switch c.TranscriptBackend {
	case TranscriptFile, TranscriptPostgres, TranscriptMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported transcript backend: %q", c.TranscriptBackend))
	}
	if m := strings.ToLower(c.VectorMetric); m != "cosine" && m != "l2" {
		errs = append(errs, fmt.Errorf("unsupported vector metric: %q", c.VectorMetric))
	}
	if (c.VectorBackend == BackendPGVector || c.TranscriptBackend == TranscriptPostgres) && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL required for postgres backends"))
	}

	positive := map[string]int{
		"MINDMATE_EMBED_DIMENSION":   c.EmbedDimension,
		"MINDMATE_CHUNK_MAX_TOKENS":  c.ChunkMaxTokens,
		"MINDMATE_MEMORY_TOP_K":      c.MemoryTopK,
		"MINDMATE_CORPUS_TOP_K":      c.CorpusTopK,
		"MINDMATE_FACT_LIMIT":        c.FactLimit,
		"MINDMATE_REPLY_TOKENS":      c.ReplyTokens,
		"MINDMATE_ELABORATE_TOKENS":  c.ElaborateTokens,
		"MINDMATE_CORPUS_BATCH_SIZE": c.CorpusBatchSize,
	}
	for _, key := range slices.Sorted(maps.Keys(positive)) {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, positive[key]))
		}
	}

	return errors.Join(errs...)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mindmate"
	}
	return filepath.Join(home, ".mindmate")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		slog.Warn("invalid number in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

