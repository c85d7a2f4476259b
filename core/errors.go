package core

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable indicates that an embedding provider failed to
	// load its model entirely. No embedding or query can proceed; the error
	// propagates to callers of Sync and Search.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrDimensionMismatch indicates a vector whose length does not match the
	// store's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrWriterClosed is returned by Writer.Enqueue after Close.
	ErrWriterClosed = errors.New("writer closed")

	// ErrPoolExhausted indicates a bounded resource pool (write queue,
	// inference slots) had no capacity for a non-blocking request.
	ErrPoolExhausted = errors.New("resource pool exhausted")
)

// InvalidRecordError reports a raw record missing a required field. The sync
// engine skips such records with a warning without aborting the batch.
type InvalidRecordError struct {
	ID     string
	Reason string
}

func (e *InvalidRecordError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid record: %s", e.Reason)
	}
	return fmt.Sprintf("invalid record %q: %s", e.ID, e.Reason)
}

// transientError marks an error as safe to retry (network blip, 5xx, model
// still initializing).
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so that IsTransient reports true for it. Wrapping nil
// returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or any error in its chain) was marked
// retryable via Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
