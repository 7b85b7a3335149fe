package pool

import "sync"

// defaultErrorLogSize bounds the rolling error log.
const defaultErrorLogSize = 100

// ErrorLog retains the most recent error messages so a pathological
// input set cannot grow memory without bound.
type ErrorLog struct {
	mu   sync.Mutex
	max  int
	msgs []string
}

// NewErrorLog creates a log keeping at most max messages. max <= 0 uses
// the default of 100.
func NewErrorLog(max int) *ErrorLog {
	if max <= 0 {
		max = defaultErrorLogSize
	}
	return &ErrorLog{max: max}
}

// Append records a message, evicting the oldest beyond the cap.
func (l *ErrorLog) Append(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
	if len(l.msgs) > l.max {
		l.msgs = l.msgs[len(l.msgs)-l.max:]
	}
}

// Messages returns a copy of the retained messages, oldest first.
func (l *ErrorLog) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Len returns the number of retained messages.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}
