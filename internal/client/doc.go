// Package client drives the external formatting server for one run.
//
// A Session owns the server process: it spawns it, speaks framed
// JSON-RPC over its standard streams, and pumps its stdout and stderr
// from dedicated goroutines so a full OS pipe buffer can never wedge
// the server. Session state moves strictly forward:
//
//	Starting → Handshaking → ProbingReadiness → Ready → ShuttingDown → Terminated
//
// A failed session is never resurrected in place; callers construct a
// new one.
//
// The Client layers run semantics on top: the initialize handshake, a
// readiness probe with exponential backoff, per-call timeouts, and the
// consecutive-timeout ceiling that distinguishes a wedged server from a
// few slow files.
package client
