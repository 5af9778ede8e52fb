package models

import "time"

// Chunk represents a bounded span of normalized document text
type Chunk struct {
	Content  string
	Filename string
	ChunkID  int
}

// Metadata is stored alongside every embedding record
type Metadata struct {
	ChunkLength    int       `json:"chunk_length"`
	CreatedAt      time.Time `json:"created_at"`
	EmbeddingModel string    `json:"embedding_model"`
}

// EmbeddingRecord is the persisted unit; (Content, Filename) is its natural key.
type EmbeddingRecord struct {
	ID        string
	Content   string
	Embedding []float32
	Filename  string
	Metadata  Metadata
}

// Match is one similarity search hit
type Match struct {
	Content    string  `json:"content"`
	Filename   string  `json:"filename"`
	Similarity float64 `json:"similarity"`
}

type PromptResponse struct {
	Query   string  `json:"query"`
	Answer  string  `json:"answer"`
	Sources []Match `json:"sources"`
}
