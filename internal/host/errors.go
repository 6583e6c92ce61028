package host

import "errors"

// Sentinel errors for host gateway operations.
// Use errors.Is() to check error types, as errors may be wrapped with context.
var (
	// ErrNotFound - the host does not know the requested device.
	ErrNotFound = errors.New("host device not found")

	// ErrUnreachable - the host gateway could not be reached.
	ErrUnreachable = errors.New("host unreachable")

	// ErrRequestFailed - the host rejected the request.
	ErrRequestFailed = errors.New("host request failed")

	// ErrInvalidConfig - the client configuration is incomplete.
	ErrInvalidConfig = errors.New("invalid host configuration")
)
