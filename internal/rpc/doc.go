// Package rpc implements the framed JSON-RPC 2.0 base protocol used to
// talk to an external formatting server over its standard streams.
//
// The package has three pieces:
//
//   - Framer: encodes and decodes Content-Length delimited messages on a
//     byte stream. Writes are serialized so concurrent callers can never
//     interleave frames.
//   - Table: the correlation table mapping outstanding request ids to
//     their pending completions. Every registered call is resolved
//     exactly once, whether by response, timeout, or cancellation; late
//     responses are discarded.
//   - DecodeMessage: classifies an incoming frame as a response or a
//     notification at a single dispatch point.
//
// The package is transport-only: it knows nothing about what the
// formatting server does with a request.
package rpc
