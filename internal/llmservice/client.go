package llmservice

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"rag-assistant/internal/config"
)

// Generator is the part of llms.Model used for answer generation.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

var _ Generator = (*openai.LLM)(nil)

// NewGenerator creates an openai compatible chat client
func NewGenerator(cfg *config.LLMConfig) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return openai.New(opts...)
}

// call llm
func GenerateContent(ctx context.Context, llm Generator, cfg *config.LLMConfig, messages []llms.MessageContent) (*llms.ContentResponse, error) {
	log.Debug().
		Str("model", cfg.Model).
		Float64("temperature", cfg.Temperature).
		Int("max_tokens", cfg.MaxTokens).
		Msg("Generating content")

	return llm.GenerateContent(ctx, messages,
		llms.WithModel(cfg.Model),
		llms.WithTemperature(cfg.Temperature),
		llms.WithMaxTokens(cfg.MaxTokens),
	)
}
