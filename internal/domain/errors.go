package domain

import (
	"errors"
	"fmt"
	"time"
)

// SourceReadError reports a source file that could not be ingested. It is
// recorded and skipped; it never aborts a batch.
type SourceReadError struct {
	Path   string
	Reason error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("source %s unreadable: %v", e.Path, e.Reason)
}

func (e *SourceReadError) Unwrap() error { return e.Reason }

// EmbeddingTransientError is a retryable embedding-service failure
// (rate limit, timeout, 5xx). RetryAfter carries the service's own backoff
// hint when it sent one.
type EmbeddingTransientError struct {
	Reason     error
	RetryAfter time.Duration
}

func (e *EmbeddingTransientError) Error() string {
	return fmt.Sprintf("embedding service transient failure: %v", e.Reason)
}

func (e *EmbeddingTransientError) Unwrap() error { return e.Reason }

// EmbeddingPermanentError marks an input the embedding service rejects
// outright. The offending record is isolated; the rest of its batch proceeds.
type EmbeddingPermanentError struct {
	RecordID string
	Reason   error
}

func (e *EmbeddingPermanentError) Error() string {
	return fmt.Sprintf("embedding rejected for record %s: %v", e.RecordID, e.Reason)
}

func (e *EmbeddingPermanentError) Unwrap() error { return e.Reason }

// StoreWriteError reports a persistence failure for specific records.
type StoreWriteError struct {
	RecordIDs []string
	Reason    error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write failed for %d record(s): %v", len(e.RecordIDs), e.Reason)
}

func (e *StoreWriteError) Unwrap() error { return e.Reason }

// InvalidQueryError rejects caller parameters that are out of contract.
// It is returned synchronously and never retried.
type InvalidQueryError struct {
	Param  string
	Detail string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid query parameter %s: %s", e.Param, e.Detail)
}

// IsTransient reports whether err is a retryable embedding failure.
func IsTransient(err error) bool {
	var te *EmbeddingTransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is an unrecoverable per-input embedding
// failure.
func IsPermanent(err error) bool {
	var pe *EmbeddingPermanentError
	return errors.As(err, &pe)
}
