package contracts

import (
	"errors"
)

// Error taxonomy shared by all meshwire components. Callers distinguish
// outcomes with errors.Is; everything not covered by a sentinel is a generic
// failure, recoverable only by retrying the whole operation.
var (
	// ErrInvalidArgument reports a malformed call, such as a nil source or a
	// zero-capacity output buffer.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTimeout reports that a bounded wait expired with no ready source.
	// It is an expected outcome of polling loops, not a failure.
	ErrTimeout = errors.New("wait timed out")

	// ErrUnsupported reports that the engine lacks a requested capability,
	// such as content-filtered subscriptions. Callers are expected to have a
	// fallback path.
	ErrUnsupported = errors.New("not supported by engine")

	// ErrClosed reports use of an entity after its destruction began.
	ErrClosed = errors.New("entity closed")
)
