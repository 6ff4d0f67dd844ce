// Package errs defines the error taxonomy shared by every pipeline stage.
//
// Errors are plain sentinel values wrapped with fmt.Errorf("...: %w", ...)
// the way the rest of the codebase wraps errors; callers use errors.Is to
// classify a failure into one of the kinds below.
package errs

import "errors"

var (
	// ErrInvalidInput covers malformed commands, unknown kinds, duplicate or
	// missing tags, and values outside their declared domain.
	ErrInvalidInput = errors.New("invalid input")

	// ErrResourceExhausted covers full queues, allocation failure, mmap growth
	// failure, and KV map size exceeded. The triggering operation has no
	// side effects.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrConsistencyFault covers cases that should be structurally
	// impossible: an int id with no matching string, a cache hit with a nil
	// bitmap, a writer commit failure after successful puts.
	ErrConsistencyFault = errors.New("consistency fault")

	// ErrCorrupt covers bitmap deserialization failure and checksum
	// mismatches on durable state.
	ErrCorrupt = errors.New("corrupt data")

	// ErrShuttingDown is returned by enqueue operations once a stage has
	// been asked to stop.
	ErrShuttingDown = errors.New("shutting down")

	// ErrFull is returned by a non-blocking queue enqueue when the ring is
	// at capacity.
	ErrFull = errors.New("queue full")

	// ErrNotSupported is returned for AST features that are reserved but
	// intentionally unimplemented (cursor-based pagination).
	ErrNotSupported = errors.New("not supported")

	// ErrNotFound indicates a lookup miss that is a normal, expected outcome
	// rather than a fault (e.g. GetOne on an absent key).
	ErrNotFound = errors.New("not found")
)
