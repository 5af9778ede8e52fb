package embedding

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout         = errors.New("embedding request timed out")
	ErrEmptyEmbedding  = errors.New("provider returned an empty embedding")
	ErrUnknownProvider = errors.New("unknown embedding provider")
)

// EmbeddingError is returned once every attempt has failed. Err is the
// last attempt's error.
type EmbeddingError struct {
	Attempts int
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}
