package pool

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueue_SubmitAndDrain(t *testing.T) {
	q := NewQueue(4)
	for i := 0; i < 3; i++ {
		if err := q.Submit(context.Background(), &Item{Path: "/f"}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}
	q.Close()

	n := 0
	for range q.Items() {
		n++
	}
	if n != 3 {
		t.Errorf("drained %d items, want 3; queued items must survive Close", n)
	}
}

func TestQueue_SubmitFullRespectsContext(t *testing.T) {
	q := NewQueue(1)
	if err := q.Submit(context.Background(), &Item{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Submit(ctx, &Item{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit() on full queue = %v, want deadline exceeded", err)
	}
}

func TestQueue_SubmitAfterClose(t *testing.T) {
	q := NewQueue(1)
	q.Close()
	if err := q.Submit(context.Background(), &Item{}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Submit() = %v, want ErrQueueClosed", err)
	}
}

func TestQueue_CloseIdempotent(t *testing.T) {
	q := NewQueue(1)
	q.Close()
	q.Close() // must not panic
}
