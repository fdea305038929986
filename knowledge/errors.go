package knowledge

import "fmt"

// The three error kinds the service surfaces. All of them propagate to the
// transport boundary unchanged so callers can tell "no match" (empty list)
// from "operation failed". Match with errors.As.

// ValidationError reports malformed caller input: empty topic or content,
// non-positive top_k, or an embedding dimensionality mismatch.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// validationf builds a *ValidationError from a format string.
func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// EmbeddingError reports a failed embedding step. The operation that hit it
// leaves no partial state behind.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return "embedding: " + e.Err.Error()
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// StorageError reports a persistence layer failure (I/O fault, corrupt
// store). Inserts that hit one are rolled back rather than left half-written.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
