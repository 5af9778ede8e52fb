package models

import "time"

const (
	QAPairRegex        = `\["([^"]+)",\s*"([^"]+)"\]`
	NumberedItemRegex  = `\d+\.\s+`
	ParagraphSeparator = `\n\n+`
	SentenceRegex      = `[^.!?]*[.!?]+|[^.!?]+$`
	ContextSeparator   = "\n\n"
)

const (
	DefaultMaxTokens      = 4000
	ForcedSplitChars      = 4000
	DefaultBatchSize      = 10
	DefaultBatchPause     = time.Second
	DefaultMatchThreshold = 0.75
	DefaultMatchCount     = 10
	DefaultEmbeddingModel = "text-embedding-ada-002"
	DefaultInferenceModel = "gpt-4o-mini"
	DefaultVectorSize     = 1536
)

// FallbackAnswer is returned without calling the generation provider when retrieval finds nothing.
const FallbackAnswer = "No relevant information found in the documents."

var (
	SystemPromptTemplate = `You are an AI assistant for The Arabidopsis Information Resource (TAIR).
Answer questions based ONLY on the provided context.

Important instructions:
1. If you find specific institutions in the context, ALWAYS list them explicitly
2. If you're stating a count, ALWAYS provide the specific names as well
3. If information is not in the context, say "I don't have enough information to answer that question. Please email %s."
4. Format lists of institutions as numbered items

Remember: Being specific and complete is crucial - if you mention a number, you must list the specific items.`

	UserPromptTemplate = "Question: %s\n\nContext:\n%s"

	DefaultContactAddress = "curator@arabidopsis.org"
)
