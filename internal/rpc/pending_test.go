package rpc

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTable_ResolveDeliversOnce(t *testing.T) {
	table := NewTable()
	id, ch := table.Register(time.Now().Add(time.Second))

	resp := &Response{JSONRPC: "2.0", ID: id, Result: json.RawMessage(`"ok"`)}
	if !table.Resolve(resp) {
		t.Fatal("Resolve() = false for outstanding call")
	}

	out := <-ch
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if string(out.Response.Result) != `"ok"` {
		t.Errorf("result = %s", out.Response.Result)
	}

	// A second resolution of the same id must be discarded.
	if table.Resolve(resp) {
		t.Error("Resolve() = true for already resolved call")
	}
}

func TestTable_LateResponseDiscarded(t *testing.T) {
	table := NewTable()
	id, ch := table.Register(time.Now().Add(time.Millisecond))

	// Deadline fires first.
	if !table.Fail(id, ErrTimeout) {
		t.Fatal("Fail() = false for outstanding call")
	}
	out := <-ch
	if !errors.Is(out.Err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", out.Err)
	}

	// The response arrives after the deadline already resolved the call.
	late := &Response{JSONRPC: "2.0", ID: id, Result: json.RawMessage(`"late"`)}
	if table.Resolve(late) {
		t.Error("late response was delivered, want discarded")
	}

	select {
	case out := <-ch:
		t.Errorf("double delivery: %+v", out)
	default:
	}
}

func TestTable_FailAfterResolve(t *testing.T) {
	table := NewTable()
	id, ch := table.Register(time.Now().Add(time.Second))

	table.Resolve(&Response{JSONRPC: "2.0", ID: id, Result: json.RawMessage(`1`)})
	<-ch

	if table.Fail(id, ErrTimeout) {
		t.Error("Fail() = true after call already resolved")
	}
}

func TestTable_UnknownID(t *testing.T) {
	table := NewTable()
	if table.Resolve(&Response{JSONRPC: "2.0", ID: 42, Result: json.RawMessage(`1`)}) {
		t.Error("Resolve() = true for unknown id")
	}
}

func TestTable_IDsNeverReused(t *testing.T) {
	table := NewTable()
	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		id, _ := table.Register(time.Now().Add(time.Second))
		if seen[id] {
			t.Fatalf("id %d reused", id)
		}
		seen[id] = true
	}
}

func TestTable_FailAll(t *testing.T) {
	table := NewTable()

	var chans []<-chan Outcome
	for i := 0; i < 5; i++ {
		_, ch := table.Register(time.Now().Add(time.Minute))
		chans = append(chans, ch)
	}

	table.FailAll(ErrCancelled)

	for i, ch := range chans {
		out := <-ch
		if !errors.Is(out.Err, ErrCancelled) {
			t.Errorf("call %d: err = %v, want ErrCancelled", i, out.Err)
		}
	}

	if table.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d after FailAll", table.Outstanding())
	}

	// Registrations after close resolve immediately with ErrClosed.
	_, ch := table.Register(time.Now().Add(time.Minute))
	out := <-ch
	if !errors.Is(out.Err, ErrClosed) {
		t.Errorf("post-close register err = %v, want ErrClosed", out.Err)
	}
}

func TestTable_ConcurrentExactlyOnce(t *testing.T) {
	table := NewTable()
	const n = 200

	type reg struct {
		id int64
		ch <-chan Outcome
	}
	regs := make([]reg, n)
	for i := range regs {
		id, ch := table.Register(time.Now().Add(time.Second))
		regs[i] = reg{id: id, ch: ch}
	}

	// Race a response and a timeout against every call. Exactly one of
	// the two may win; the loser must report false.
	var wg sync.WaitGroup
	wins := make([]int32, n)
	for i, r := range regs {
		wg.Add(2)
		go func(i int, id int64) {
			defer wg.Done()
			if table.Resolve(&Response{JSONRPC: "2.0", ID: id, Result: json.RawMessage(`1`)}) {
				wins[i]++
			}
		}(i, r.id)
		go func(i int, id int64) {
			defer wg.Done()
			if table.Fail(id, ErrTimeout) {
				wins[i] += 100
			}
		}(i, r.id)
	}
	wg.Wait()

	for i, r := range regs {
		if wins[i] != 1 && wins[i] != 100 {
			t.Errorf("call %d: resolution won %d times, want exactly one winner", i, wins[i])
		}
		select {
		case <-r.ch:
		case <-time.After(time.Second):
			t.Fatalf("call %d never received its resolution", i)
		}
		select {
		case out := <-r.ch:
			t.Errorf("call %d double delivery: %+v", i, out)
		default:
		}
	}
}
