package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig is fatal and aborts a run before any document is processed.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAdapterFailure and ErrMalformedAnnotation are recovered per segment.
	ErrAdapterFailure      = errors.New("annotation adapter failure")
	ErrMalformedAnnotation = errors.New("malformed annotation")

	// ErrPartitionIntegrity means a document could not be placed in exactly one lane.
	ErrPartitionIntegrity = errors.New("partition integrity violation")
)
