package rpc

import "errors"

// Sentinel errors returned by the transport layer.
var (
	// ErrClosed indicates the framer or table has been shut down.
	ErrClosed = errors.New("rpc transport closed")

	// ErrTimeout indicates a pending call's deadline elapsed.
	ErrTimeout = errors.New("rpc call timed out")

	// ErrCancelled indicates a pending call was cancelled during shutdown.
	ErrCancelled = errors.New("rpc call cancelled")

	// ErrMalformedMessage indicates a frame that is neither a response
	// nor a notification.
	ErrMalformedMessage = errors.New("malformed rpc message")

	// ErrMissingContentLength indicates a frame without a Content-Length header.
	ErrMissingContentLength = errors.New("missing Content-Length header")
)
