package client

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the client.
var (
	// ErrSessionNotReady indicates a format call against a session that
	// has not reached the Ready state.
	ErrSessionNotReady = errors.New("session not ready")

	// ErrTooManyTimeouts indicates the consecutive-timeout ceiling was
	// reached and the run must abort.
	ErrTooManyTimeouts = errors.New("too many consecutive timeouts")

	// errProtocol indicates the server sent something the client could
	// not decode. Fatal to the session.
	errProtocol = errors.New("protocol corruption on server stream")
)

// StartError indicates the server process could not be brought to a
// working handshake. Always fatal to the run.
type StartError struct {
	// Phase is the startup phase that failed: "spawn" or "handshake".
	Phase string
	Err   error
}

// Error implements the error interface.
func (e *StartError) Error() string {
	return fmt.Sprintf("server start failed during %s: %v", e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *StartError) Unwrap() error { return e.Err }

// ProbeError indicates the readiness probe never succeeded. Soft: the
// caller should warn and proceed.
type ProbeError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	return fmt.Sprintf("readiness probe failed after %d attempt(s): %v", e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error { return e.Err }

// FormatErrorKind classifies a failed format call.
type FormatErrorKind int

const (
	// SyntaxRejected means the server reported the input as malformed.
	// Per-file, not retryable, not a client bug.
	SyntaxRejected FormatErrorKind = iota
	// ProtocolError means the server's response could not be decoded or
	// applied. Fatal to the session.
	ProtocolError
	// Timeout means the per-call deadline elapsed. Retryable by caller
	// policy.
	Timeout
	// Cancelled means the run is shutting down.
	Cancelled
)

// String returns a human-readable kind name.
func (k FormatErrorKind) String() string {
	switch k {
	case SyntaxRejected:
		return "syntax rejected"
	case ProtocolError:
		return "protocol error"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// FormatError is the per-call error returned by Format.
type FormatError struct {
	Path string
	Kind FormatErrorKind
	Err  error
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	return fmt.Sprintf("format %s: %s: %v", e.Path, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *FormatError) Unwrap() error { return e.Err }

// AsFormatError unwraps err to a *FormatError if it is one.
func AsFormatError(err error) (*FormatError, bool) {
	var fe *FormatError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
