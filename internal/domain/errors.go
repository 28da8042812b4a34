package domain

import "errors"

// Error kinds. Callers wrap these with context and classify with errors.Is.
var (
	// ErrInvalidInput marks a request rejected before any I/O.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks data that is unavailable even after ingestion or
	// derivation was attempted.
	ErrNotFound = errors.New("not found")

	// ErrUpstream marks an unreachable remote or an unusable response.
	ErrUpstream = errors.New("upstream failure")

	// ErrInvariant marks corrupt input to a computation, e.g. an unordered
	// price series.
	ErrInvariant = errors.New("computation invariant violated")
)
