// Package errs defines the typed error kinds shared across the query
// pipeline. Components wrap failures with a Kind so callers can pick a
// degraded-mode response with errors.Is instead of string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind sentinels, one per failure category; callers test for them with
// errors.Is.
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrChunking           = errors.New("chunking error")
	ErrEmbedding          = errors.New("embedding error")
	ErrRetrieval          = errors.New("retrieval error")
	ErrResponseGeneration = errors.New("response generation error")
	ErrSafetyFilter       = errors.New("safety filter error")
	ErrRateLimit          = errors.New("rate limit exceeded")
)

// Wrap attaches a kind to err, preserving the original chain.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// New creates a fresh error of the given kind with a formatted message.
func New(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
