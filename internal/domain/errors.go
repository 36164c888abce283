package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput marks a document whose text produced no chunks.
	ErrEmptyInput = errors.New("empty input")
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnscopedSearch rejects retrieval without an owner.
	ErrUnscopedSearch = errors.New("search requires an owner scope")
)

// ChunkPersistError is a DocumentStore write failure for one chunk.
type ChunkPersistError struct {
	Index int
	Err   error
}

func (e *ChunkPersistError) Error() string {
	return fmt.Sprintf("persist chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkPersistError) Unwrap() error { return e.Err }

// EmbeddingError is a failure of the embedding model.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return "embedding: " + e.Err.Error() }

func (e *EmbeddingError) Unwrap() error { return e.Err }

// VectorStoreError is a failure reported by, or while reaching, the vector index.
type VectorStoreError struct {
	Op  string
	Err error
}

func (e *VectorStoreError) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *VectorStoreError) Unwrap() error { return e.Err }

// CompletionAPIError is a failure of the chat-completion API.
type CompletionAPIError struct {
	Err error
}

func (e *CompletionAPIError) Error() string { return "completion api: " + e.Err.Error() }

func (e *CompletionAPIError) Unwrap() error { return e.Err }

// TimeoutError reports an outbound call that hit its deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Retryable reports whether the call may be retried. Timeouts always are.
func (e *TimeoutError) Retryable() bool { return true }

// IsTimeout reports whether err is, or wraps, a deadline expiry.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}
