// Package metrics aggregates per-file outcomes for one run.
//
// The Aggregator is shared by the protocol client, the worker pool, and
// the reporter; it is one of the two structures in the system mutated
// concurrently (the correlation table is the other) and guards itself
// with a single mutex that is never held across a blocking operation.
// It is scoped to one run, never a process-wide singleton, so runs stay
// independently testable.
package metrics

import (
	"sync"
	"time"
)

// Status classifies what happened to one file.
type Status int

const (
	// StatusUnchanged means the server had nothing to change.
	StatusUnchanged Status = iota
	// StatusChanged means new content was produced (and written, in
	// write mode).
	StatusChanged
	// StatusFailed means the file was skipped on an error.
	StatusFailed
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusUnchanged:
		return "unchanged"
	case StatusChanged:
		return "changed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Histogram buckets for per-file processing duration.
var bucketBounds = []time.Duration{
	10 * time.Millisecond,
	50 * time.Millisecond,
	250 * time.Millisecond,
	time.Second,
	5 * time.Second,
}

// Snapshot is a point-in-time copy of the aggregate counters.
type Snapshot struct {
	Changed      int64
	Unchanged    int64
	Failed       int64
	BytesWritten int64

	Elapsed        time.Duration
	FilesPerSecond float64

	// DurationBuckets counts files by processing time: one count per
	// bound in BucketBounds, plus a final overflow bucket.
	DurationBuckets []int64
}

// Total returns the number of files accounted for.
func (s Snapshot) Total() int64 {
	return s.Changed + s.Unchanged + s.Failed
}

// BucketBounds returns the histogram bucket upper bounds.
func BucketBounds() []time.Duration {
	out := make([]time.Duration, len(bucketBounds))
	copy(out, bucketBounds)
	return out
}

// Aggregator collects outcome counters and a duration histogram. Safe
// for concurrent use.
type Aggregator struct {
	mu           sync.Mutex
	start        time.Time
	changed      int64
	unchanged    int64
	failed       int64
	bytesWritten int64
	buckets      []int64
}

// New creates an aggregator; the run clock starts now.
func New() *Aggregator {
	return &Aggregator{
		start:   time.Now(),
		buckets: make([]int64, len(bucketBounds)+1),
	}
}

// Record accounts one file outcome.
func (a *Aggregator) Record(status Status, took time.Duration, bytesWritten int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch status {
	case StatusChanged:
		a.changed++
	case StatusUnchanged:
		a.unchanged++
	case StatusFailed:
		a.failed++
	}
	a.bytesWritten += bytesWritten

	i := 0
	for i < len(bucketBounds) && took > bucketBounds[i] {
		i++
	}
	a.buckets[i]++
}

// Snapshot returns a copy of the current aggregates.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	elapsed := time.Since(a.start)
	total := a.changed + a.unchanged + a.failed

	var rate float64
	if elapsed > 0 {
		rate = float64(total) / elapsed.Seconds()
	}

	buckets := make([]int64, len(a.buckets))
	copy(buckets, a.buckets)

	return Snapshot{
		Changed:         a.changed,
		Unchanged:       a.unchanged,
		Failed:          a.failed,
		BytesWritten:    a.bytesWritten,
		Elapsed:         elapsed,
		FilesPerSecond:  rate,
		DurationBuckets: buckets,
	}
}
