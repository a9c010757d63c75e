// Package llm provides text generation over langchaingo models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/mindmate/internal/config"
	"github.com/raphaelgruber/mindmate/internal/metrics"
	"github.com/raphaelgruber/mindmate/internal/models"
)

// CallOptions bound a single completion.
type CallOptions struct {
	MaxTokens   int
	Temperature float64
}

// Model wraps langchaingo LLM for text generation.
type Model struct {
	llm         llms.Model
	modelName   string
	temperature float64
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// Option configures a Model.
type Option func(*Model)

// WithMetrics records generation timing and token usage.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Model) { m.metrics = c }
}

// WithLogger sets the model's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) { m.logger = l }
}

// NewModel creates an LLM model based on configuration.
func NewModel(ctx context.Context, cfg config.Config, opts ...Option) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OpenAI API key required")
		}
		openaiOpts := []openai.Option{
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		}
		if cfg.OpenAIBaseURL != "" {
			openaiOpts = append(openaiOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		model, err = openai.New(openaiOpts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		model, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return New(model, cfg.LLMModel, cfg.Temperature, opts...), nil
}

// New wraps an existing langchaingo model.
func New(model llms.Model, name string, temperature float64, opts ...Option) *Model {
	m := &Model{
		llm:         model,
		modelName:   name,
		temperature: temperature,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Complete sends the message list and returns the first choice's text.
// A zero Temperature in opts uses the model's configured temperature.
func (m *Model) Complete(ctx context.Context, messages []models.Message, opts CallOptions) (string, error) {
	content, err := toMessageContent(messages)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = m.temperature
	}
	callOpts := []llms.CallOption{llms.WithTemperature(temperature)}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, content, callOpts...)
	duration := time.Since(start)
	if err != nil {
		m.metrics.Record(metrics.OpLLMGenerate, duration, err)
		m.logger.Warn("generation failed", "model", m.modelName, "duration_ms", duration.Milliseconds(), "error", err)
		return "", fmt.Errorf("%w: %w", ErrGeneration, wrapFatalError(err))
	}
	if len(response.Choices) == 0 {
		m.metrics.Record(metrics.OpLLMGenerate, duration, ErrGeneration)
		return "", fmt.Errorf("%w: no response choices", ErrGeneration)
	}

	choice := response.Choices[0]
	in, out := tokenUsage(choice.GenerationInfo)
	m.metrics.RecordLLMUsage(metrics.OpLLMGenerate, duration, in, out)
	m.logger.Debug("generation complete", "model", m.modelName, "duration_ms", duration.Milliseconds(),
		"input_tokens", in, "output_tokens", out)

	return choice.Content, nil
}

// GenerateWithSystem generates text with a system prompt.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	return m.Complete(ctx, []models.Message{
		{Role: models.RoleSystem, Content: systemPrompt},
		{Role: models.RoleUser, Content: userPrompt},
	}, CallOptions{MaxTokens: maxTokens})
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// tokenUsage reads prompt and completion token counts from provider-specific
// generation info keys.
func tokenUsage(info map[string]any) (int64, int64) {
	in := firstInt(info, "PromptTokens", "InputTokens", "input_tokens", "prompt_tokens")
	out := firstInt(info, "CompletionTokens", "OutputTokens", "output_tokens", "completion_tokens")
	return in, out
}

func firstInt(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
