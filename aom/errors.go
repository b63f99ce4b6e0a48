package aom

import "errors"

// Protocol errors, rejected at admission before stamping.
var (
	// ErrMalformedMessage marks an inbound message missing its digest or
	// payload. The message is never stamped.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownShard marks a reference to a shard the plan does not map.
	ErrUnknownShard = errors.New("unknown shard")
)

// ErrSequenceOverflow signals exhaustion of the 32-bit sequence space.
// It is an invariant violation: the caller must treat it as fatal, since
// continuing would reuse sequence numbers.
var ErrSequenceOverflow = errors.New("sequence counter overflow")

// Configuration errors surfaced by EngineConfig.Validate.
var (
	errInvalidLanes    = errors.New("lane count must be at least 1")
	errInvalidCapacity = errors.New("accelerator capacity must not be negative")
	errInvalidTimeout  = errors.New("accelerator timeout must be positive when the accelerator is enabled")
)
