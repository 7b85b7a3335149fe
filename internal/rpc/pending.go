package rpc

import (
	"sync"
	"sync/atomic"
	"time"
)

// Outcome is the single resolution delivered to a pending call: either a
// response from the server or a terminal error (timeout, cancellation).
type Outcome struct {
	Response *Response
	Err      error
}

// pendingCall tracks one outstanding request. It is owned exclusively by
// the Table and removed exactly once, whichever of response, timeout, or
// cancellation fires first.
type pendingCall struct {
	id       int64
	created  time.Time
	deadline time.Time
	ch       chan Outcome
}

// Table is the correlation table for outstanding requests. It is safe
// for concurrent use; the lock is never held across a blocking send
// because every completion channel is buffered for its single delivery.
type Table struct {
	mu     sync.Mutex
	calls  map[int64]*pendingCall
	nextID atomic.Int64
	closed bool
}

// NewTable creates an empty correlation table.
func NewTable() *Table {
	return &Table{calls: make(map[int64]*pendingCall)}
}

// Register allocates a fresh correlation id and records a pending call
// with the given deadline. The returned channel receives exactly one
// Outcome. Ids are allocated from a monotonic counter and are therefore
// never reused while outstanding.
func (t *Table) Register(deadline time.Time) (int64, <-chan Outcome) {
	id := t.nextID.Add(1)
	call := &pendingCall{
		id:       id,
		created:  time.Now(),
		deadline: deadline,
		ch:       make(chan Outcome, 1),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		call.ch <- Outcome{Err: ErrClosed}
		return id, call.ch
	}
	t.calls[id] = call
	t.mu.Unlock()

	return id, call.ch
}

// Resolve delivers a response to the pending call with the matching id.
// It reports whether a call was actually resolved: a false return means
// the id was unknown, most often because its deadline already fired and
// the late response must be discarded.
func (t *Table) Resolve(resp *Response) bool {
	t.mu.Lock()
	call, ok := t.calls[resp.ID]
	if ok {
		delete(t.calls, resp.ID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	call.ch <- Outcome{Response: resp}
	return true
}

// Fail resolves the pending call with the given id as an error. It is
// used for per-call timeouts. Like Resolve, it is idempotent with
// respect to completion: if the call was already resolved it does
// nothing and returns false.
func (t *Table) Fail(id int64, err error) bool {
	t.mu.Lock()
	call, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	call.ch <- Outcome{Err: err}
	return true
}

// FailAll resolves every outstanding call with err and marks the table
// closed so later registrations fail immediately. Used during shutdown
// so no caller is ever left dangling.
func (t *Table) FailAll(err error) {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[int64]*pendingCall)
	t.closed = true
	t.mu.Unlock()

	for _, call := range calls {
		call.ch <- Outcome{Err: err}
	}
}

// Outstanding returns the number of unresolved calls.
func (t *Table) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
