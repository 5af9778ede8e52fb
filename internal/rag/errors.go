package rag

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrEmbedQuestion = errors.New("failed to embed question")
	ErrSearch        = errors.New("similarity search failed")
	ErrEmptyResponse = errors.New("provider returned no choices")
)

// GenerationError wraps a failed answer generation call. It is not retried.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate answer with %s: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
