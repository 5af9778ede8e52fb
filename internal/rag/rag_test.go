package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"rag-assistant/internal/config"
	"rag-assistant/internal/models"
	"rag-assistant/internal/store"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

type fakeStore struct {
	store.Store
	matches   []models.Match
	err       error
	threshold float64
	topK      int
}

func (f *fakeStore) SimilaritySearch(_ context.Context, _ []float32, threshold float64, topK int) ([]models.Match, error) {
	f.threshold, f.topK = threshold, topK
	return f.matches, f.err
}

type fakeGenerator struct {
	calls    int
	messages []llms.MessageContent
	options  llms.CallOptions
	answer   string
	err      error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.messages = messages
	for _, opt := range options {
		opt(&f.options)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.answer}}}, nil
}

func llmConfig() *config.LLMConfig {
	return &config.LLMConfig{
		Model:          "gpt-4o-mini",
		Temperature:    0.1,
		MaxTokens:      1000,
		ContactAddress: "curator@arabidopsis.org",
	}
}

func textOf(t *testing.T, m llms.MessageContent) string {
	t.Helper()
	require.Len(t, m.Parts, 1)
	part, ok := m.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return part.Text
}

func TestSynthesizer_EmptyMatchesUsesFallback(t *testing.T) {
	gen := &fakeGenerator{answer: "should not be used"}
	s := NewSynthesizer(gen, llmConfig())

	answer, err := s.Synthesize(context.Background(), "Who subscribes?", nil)

	require.NoError(t, err)
	assert.Equal(t, models.FallbackAnswer, answer)
	assert.Zero(t, gen.calls)
}

func TestSynthesizer_BuildsPromptAndOptions(t *testing.T) {
	gen := &fakeGenerator{answer: "1. Ohio State University"}
	s := NewSynthesizer(gen, llmConfig())
	matches := []models.Match{
		{Content: "Ohio State University subscribes.", Filename: "subscriber-list.txt", Similarity: 0.9},
		{Content: "Subscriptions renew yearly.", Filename: "FAQ.txt", Similarity: 0.8},
	}

	answer, err := s.Synthesize(context.Background(), "Which universities subscribe?", matches)

	require.NoError(t, err)
	assert.Equal(t, "1. Ohio State University", answer)
	assert.Equal(t, 1, gen.calls)

	require.Len(t, gen.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, gen.messages[0].Role)
	system := textOf(t, gen.messages[0])
	assert.Contains(t, system, "ONLY on the provided context")
	assert.Contains(t, system, "curator@arabidopsis.org")
	assert.Contains(t, system, "numbered items")

	assert.Equal(t, llms.ChatMessageTypeHuman, gen.messages[1].Role)
	assert.Equal(t,
		"Question: Which universities subscribe?\n\nContext:\nOhio State University subscribes.\n\nSubscriptions renew yearly.",
		textOf(t, gen.messages[1]))

	assert.Equal(t, "gpt-4o-mini", gen.options.Model)
	assert.Equal(t, 0.1, gen.options.Temperature)
	assert.Equal(t, 1000, gen.options.MaxTokens)
}

func TestSynthesizer_GenerationError(t *testing.T) {
	boom := errors.New("rate limited")
	s := NewSynthesizer(&fakeGenerator{err: boom}, llmConfig())

	_, err := s.Synthesize(context.Background(), "q", []models.Match{{Content: "c"}})

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "gpt-4o-mini", genErr.Model)
	assert.ErrorIs(t, err, boom)
}

func TestRetriever_PassesThresholdAndTopK(t *testing.T) {
	st := &fakeStore{matches: []models.Match{{Content: "b", Similarity: 0.9}, {Content: "a", Similarity: 0.8}}}
	r := NewRetriever(&fakeEmbedder{vec: []float32{1}}, st, 0.75, 10)

	matches, err := r.Retrieve(context.Background(), "q")

	require.NoError(t, err)
	assert.Equal(t, st.matches, matches)
	assert.Equal(t, 0.75, st.threshold)
	assert.Equal(t, 10, st.topK)
}

func TestRetriever_ZeroThresholdIsKept(t *testing.T) {
	st := &fakeStore{}
	_, err := NewRetriever(&fakeEmbedder{vec: []float32{1}}, st, 0, 0).Retrieve(context.Background(), "q")
	require.NoError(t, err)
	assert.Zero(t, st.threshold)
	assert.Equal(t, models.DefaultMatchCount, st.topK)

	_, err = NewRetriever(&fakeEmbedder{vec: []float32{1}}, st, -1, 3).Retrieve(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultMatchThreshold, st.threshold)
}

func TestRAG_QueryErrorsAreDistinguishable(t *testing.T) {
	boom := errors.New("boom")
	gen := &fakeGenerator{answer: "x"}

	embedFail := NewRAG(NewRetriever(&fakeEmbedder{err: boom}, &fakeStore{}, 0, 0), NewSynthesizer(gen, llmConfig()))
	_, err := embedFail.Query(context.Background(), "q")
	assert.ErrorIs(t, err, ErrEmbedQuestion)
	assert.NotErrorIs(t, err, ErrSearch)

	searchFail := NewRAG(NewRetriever(&fakeEmbedder{vec: []float32{1}}, &fakeStore{err: boom}, 0, 0), NewSynthesizer(gen, llmConfig()))
	_, err = searchFail.Query(context.Background(), "q")
	assert.ErrorIs(t, err, ErrSearch)
	assert.ErrorIs(t, err, store.ErrRead)

	genFail := NewRAG(
		NewRetriever(&fakeEmbedder{vec: []float32{1}}, &fakeStore{matches: []models.Match{{Content: "c"}}}, 0, 0),
		NewSynthesizer(&fakeGenerator{err: boom}, llmConfig()),
	)
	_, err = genFail.Query(context.Background(), "q")
	var genErr *GenerationError
	assert.ErrorAs(t, err, &genErr)

	assert.Zero(t, gen.calls)
}

func TestRAG_QueryNoMatches(t *testing.T) {
	gen := &fakeGenerator{}
	r := NewRAG(NewRetriever(&fakeEmbedder{vec: []float32{1}}, &fakeStore{}, 0, 0), NewSynthesizer(gen, llmConfig()))

	res, err := r.Query(context.Background(), "  anything?  ")

	require.NoError(t, err)
	assert.Equal(t, "anything?", res.Query)
	assert.Equal(t, models.FallbackAnswer, res.Answer)
	assert.Empty(t, res.Sources)
	assert.Zero(t, gen.calls)
}

func TestRAG_EmptyQuestion(t *testing.T) {
	r := NewRAG(NewRetriever(&fakeEmbedder{}, &fakeStore{}, 0, 0), NewSynthesizer(&fakeGenerator{}, llmConfig()))

	_, err := r.Query(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}
