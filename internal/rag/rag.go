package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"rag-assistant/internal/config"
	"rag-assistant/internal/llmservice"
	"rag-assistant/internal/models"
	"rag-assistant/internal/store"
)

var tracer = otel.Tracer("rag-assistant/internal/rag")

// Embedder turns the question into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever finds the stored chunks closest to a question.
type Retriever struct {
	embedder  Embedder
	store     store.Store
	threshold float64
	topK      int
}

func NewRetriever(embedder Embedder, s store.Store, threshold float64, topK int) *Retriever {
	if threshold < 0 {
		threshold = models.DefaultMatchThreshold
	}
	if topK <= 0 {
		topK = models.DefaultMatchCount
	}
	return &Retriever{embedder: embedder, store: s, threshold: threshold, topK: topK}
}

// Retrieve returns matches in store order. No matches is not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]models.Match, error) {
	ctx, span := tracer.Start(ctx, "rag.Retrieve")
	defer span.End()

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedQuestion, err)
	}
	matches, err := store.Search(ctx, r.store, vec, r.threshold, r.topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearch, err)
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))
	log.Debug().Int("matches", len(matches)).Float64("threshold", r.threshold).Msg("Retrieved context")
	return matches, nil
}

// Synthesizer answers a question from retrieved context with one
// generation call.
type Synthesizer struct {
	llm llmservice.Generator
	cfg config.LLMConfig
}

func NewSynthesizer(llm llmservice.Generator, cfg *config.LLMConfig) *Synthesizer {
	return &Synthesizer{llm: llm, cfg: *cfg}
}

func (s *Synthesizer) Synthesize(ctx context.Context, question string, matches []models.Match) (string, error) {
	if len(matches) == 0 {
		return models.FallbackAnswer, nil
	}

	ctx, span := tracer.Start(ctx, "rag.Synthesize")
	defer span.End()

	messages := BuildMessages(question, matches, s.cfg.ContactAddress)
	res, err := llmservice.GenerateContent(ctx, s.llm, &s.cfg, messages)
	if err != nil {
		return "", &GenerationError{Model: s.cfg.Model, Err: err}
	}
	if res == nil || len(res.Choices) == 0 {
		return "", &GenerationError{Model: s.cfg.Model, Err: ErrEmptyResponse}
	}
	return res.Choices[0].Content, nil
}

// BuildMessages assembles the system instruction and the user turn holding
// the question and every match's content, separated by blank lines.
func BuildMessages(question string, matches []models.Match, contactAddress string) []llms.MessageContent {
	if contactAddress == "" {
		contactAddress = models.DefaultContactAddress
	}
	contents := make([]string, len(matches))
	for i, m := range matches {
		contents[i] = m.Content
	}
	contextText := strings.Join(contents, models.ContextSeparator)

	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(models.SystemPromptTemplate, contactAddress)),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(models.UserPromptTemplate, question, contextText)),
	}
}

// RAG runs retrieval followed by synthesis.
type RAG struct {
	retriever   *Retriever
	synthesizer *Synthesizer
}

func NewRAG(retriever *Retriever, synthesizer *Synthesizer) *RAG {
	return &RAG{retriever: retriever, synthesizer: synthesizer}
}

func (r *RAG) Retrieve(ctx context.Context, question string) ([]models.Match, error) {
	return r.retriever.Retrieve(ctx, question)
}

// Query answers question and returns the matches it was grounded on.
func (r *RAG) Query(ctx context.Context, question string) (*models.PromptResponse, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	ctx, span := tracer.Start(ctx, "rag.Query")
	defer span.End()

	matches, err := r.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, err
	}
	answer, err := r.synthesizer.Synthesize(ctx, question, matches)
	if err != nil {
		return nil, err
	}
	return &models.PromptResponse{Query: question, Answer: answer, Sources: matches}, nil
}
