// Package pool consumes formatted results with bounded concurrency.
//
// The Queue is a fixed-capacity handoff between the protocol client and
// the workers: a full queue blocks the producer, which is the system's
// backpressure mechanism. Its capacity bounds worst-case memory to
// capacity × max item size; it smooths speed mismatch, it does not
// buffer the file set.
//
// Each worker drains the queue, applies the post-processing transform,
// writes the result with a temp-file-then-rename so a crash mid-write
// never leaves partial content at the destination, and records a
// FileOutcome. A failure in one item never aborts the pool.
package pool
