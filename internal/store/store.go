// Package store defines the vector store contract shared by the supabase,
// chromem and qdrant backends.
package store

import (
	"context"
	"errors"
	"fmt"

	"rag-assistant/internal/models"
)

var (
	ErrWrite = errors.New("store write failed")
	ErrRead  = errors.New("store read failed")
)

// Store persists EmbeddingRecords. (content, filename) is the natural key.
type Store interface {
	Exists(ctx context.Context, content, filename string) (bool, error)
	// Insert returns a nil record and no error when the backend already
	// holds (content, filename), so concurrent duplicates stay single.
	Insert(ctx context.Context, rec *models.EmbeddingRecord) (*models.EmbeddingRecord, error)
	// DeleteFile removes every record of one source document.
	DeleteFile(ctx context.Context, filename string) error
	ClearAll(ctx context.Context) error
	// SimilaritySearch returns at most topK matches with similarity above
	// threshold, best first.
	SimilaritySearch(ctx context.Context, vec []float32, threshold float64, topK int) ([]models.Match, error)
	Close() error
}

// Save inserts rec unless a record with the same content and filename is
// already stored. stored is false when the write was skipped.
func Save(ctx context.Context, s Store, rec *models.EmbeddingRecord) (stored bool, err error) {
	exists, err := s.Exists(ctx, rec.Content, rec.Filename)
	if err != nil {
		return false, fmt.Errorf("%w: existence check: %w", ErrWrite, err)
	}
	if exists {
		return false, nil
	}
	saved, err := s.Insert(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return saved != nil, nil
}

// Search wraps SimilaritySearch failures in ErrRead.
func Search(ctx context.Context, s Store, vec []float32, threshold float64, topK int) ([]models.Match, error) {
	matches, err := s.SimilaritySearch(ctx, vec, threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	return matches, nil
}
