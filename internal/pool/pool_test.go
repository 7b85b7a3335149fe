package pool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dshills/fmtflow/internal/metrics"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func collectOutcomes() (func(FileOutcome), func() map[string]FileOutcome) {
	var mu sync.Mutex
	outcomes := make(map[string]FileOutcome)
	record := func(o FileOutcome) {
		mu.Lock()
		outcomes[o.Path] = o
		mu.Unlock()
	}
	get := func() map[string]FileOutcome {
		mu.Lock()
		defer mu.Unlock()
		out := make(map[string]FileOutcome, len(outcomes))
		for k, v := range outcomes {
			out[k] = v
		}
		return out
	}
	return record, get
}

func TestPool_WritesChangedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "old\n")

	record, get := collectOutcomes()
	agg := metrics.New()
	p := New(Config{Workers: 2, QueueCapacity: 4, Write: true, OnOutcome: record}, agg)
	p.Start(context.Background())

	item := &Item{Path: path, Original: []byte("old\n"), Output: []byte("new\n"), Seq: 0, Total: 1}
	if err := p.Submit(context.Background(), item); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := p.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new\n" {
		t.Errorf("file content = %q, want %q", got, "new\n")
	}

	o := get()[path]
	if o.Status != metrics.StatusChanged {
		t.Errorf("status = %v, want changed", o.Status)
	}
	if o.BytesWritten != 4 {
		t.Errorf("BytesWritten = %d, want 4", o.BytesWritten)
	}
}

func TestPool_UnchangedSkipsWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "same\n")
	before, _ := os.Stat(path)

	record, get := collectOutcomes()
	p := New(Config{Workers: 1, Write: true, OnOutcome: record}, metrics.New())
	p.Start(context.Background())

	item := &Item{Path: path, Original: []byte("same\n"), Output: []byte("same\n")}
	if err := p.Submit(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	if err := p.Shutdown(5 * time.Second); err != nil {
		t.Fatal(err)
	}

	if get()[path].Status != metrics.StatusUnchanged {
		t.Errorf("status = %v, want unchanged", get()[path].Status)
	}
	after, _ := os.Stat(path)
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("unchanged file was rewritten")
	}
}

func TestPool_CheckModeNeverWrites(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "old\n")

	record, get := collectOutcomes()
	p := New(Config{Workers: 1, Write: false, OnOutcome: record}, metrics.New())
	p.Start(context.Background())

	item := &Item{Path: path, Original: []byte("old\n"), Output: []byte("new\n")}
	if err := p.Submit(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	if err := p.Shutdown(5 * time.Second); err != nil {
		t.Fatal(err)
	}

	o := get()[path]
	if o.Status != metrics.StatusChanged {
		t.Errorf("status = %v, want changed (reported, not written)", o.Status)
	}
	if o.BytesWritten != 0 {
		t.Errorf("BytesWritten = %d in check mode", o.BytesWritten)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "old\n" {
		t.Errorf("check mode modified the file: %q", got)
	}
}

func TestPool_TransformApplied(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "x\n")

	transform := func(_ string, text []byte) ([]byte, int, error) {
		return append([]byte("header\n"), text...), 1, nil
	}

	record, get := collectOutcomes()
	p := New(Config{Workers: 1, Write: true, Transform: transform, OnOutcome: record}, metrics.New())
	p.Start(context.Background())

	_ = p.Submit(context.Background(), &Item{Path: path, Original: []byte("x\n"), Output: []byte("x\n")})
	if err := p.Shutdown(5 * time.Second); err != nil {
		t.Fatal(err)
	}

	got, _ := os.ReadFile(path)
	if string(got) != "header\nx\n" {
		t.Errorf("content = %q", got)
	}
	if get()[path].ChangeCount != 1 {
		t.Errorf("ChangeCount = %d, want 1", get()[path].ChangeCount)
	}
}

func TestPool_FailureIsolation(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.txt", "b\n")
	good := writeFile(t, dir, "good.txt", "g\n")

	transform := func(path string, text []byte) ([]byte, int, error) {
		if path == bad {
			return nil, 0, errors.New("rule exploded")
		}
		return text, 0, nil
	}

	record, get := collectOutcomes()
	agg := metrics.New()
	p := New(Config{Workers: 1, Write: true, Transform: transform, OnOutcome: record}, agg)
	p.Start(context.Background())

	_ = p.Submit(context.Background(), &Item{Path: bad, Original: []byte("b\n"), Output: []byte("B\n")})
	_ = p.Submit(context.Background(), &Item{Path: good, Original: []byte("g\n"), Output: []byte("G\n")})
	if err := p.Shutdown(5 * time.Second); err != nil {
		t.Fatal(err)
	}

	outcomes := get()
	if outcomes[bad].Status != metrics.StatusFailed {
		t.Errorf("bad status = %v, want failed", outcomes[bad].Status)
	}
	if outcomes[good].Status != metrics.StatusChanged {
		t.Errorf("good status = %v, want changed; one bad item must not abort the pool", outcomes[good].Status)
	}

	if len(p.Errors()) != 1 {
		t.Errorf("error log has %d entries, want 1", len(p.Errors()))
	}

	snap := agg.Snapshot()
	if snap.Failed != 1 || snap.Changed != 1 {
		t.Errorf("metrics failed/changed = %d/%d, want 1/1", snap.Failed, snap.Changed)
	}
}

func TestPool_PanicContained(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "x\n")

	transform := func(string, []byte) ([]byte, int, error) {
		panic("regex gone wrong")
	}

	record, get := collectOutcomes()
	p := New(Config{Workers: 1, Write: true, Transform: transform, OnOutcome: record}, metrics.New())
	p.Start(context.Background())

	_ = p.Submit(context.Background(), &Item{Path: path, Original: []byte("x\n"), Output: []byte("y\n")})
	if err := p.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v; a panicking item must not leak a worker", err)
	}

	o := get()[path]
	if o.Status != metrics.StatusFailed {
		t.Errorf("status = %v, want failed", o.Status)
	}
	if o.Err == nil {
		t.Error("outcome has no error after panic")
	}
}

func TestPool_Backpressure(t *testing.T) {
	release := make(chan struct{})
	transform := func(string, []byte) ([]byte, int, error) {
		<-release
		return nil, 0, errors.New("discard")
	}

	p := New(Config{Workers: 1, QueueCapacity: 2, Transform: transform}, metrics.New())
	p.Start(context.Background())

	// One item occupies the worker, two fill the queue.
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := p.Submit(ctx, &Item{Path: fmt.Sprintf("/f%d", i), Output: []byte("x")})
		cancel()
		if err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}

	// The fourth submit must block until the worker frees a slot.
	blocked := make(chan error, 1)
	start := time.Now()
	go func() {
		blocked <- p.Submit(context.Background(), &Item{Path: "/f3", Output: []byte("x")})
	}()

	select {
	case err := <-blocked:
		t.Fatalf("submit over capacity returned immediately (err=%v), want block", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	if err := <-blocked; err != nil {
		t.Fatalf("blocked submit error = %v", err)
	}
	if time.Since(start) < 200*time.Millisecond {
		t.Error("backpressure not observed")
	}

	_ = p.Shutdown(5 * time.Second)
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := New(Config{Workers: 1}, metrics.New())
	p.Start(context.Background())
	_ = p.Shutdown(time.Second)

	err := p.Submit(context.Background(), &Item{Path: "/late"})
	if !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Submit() after shutdown = %v, want ErrQueueClosed", err)
	}
}

func TestPool_CancelStillReportsQueuedItems(t *testing.T) {
	release := make(chan struct{})
	transform := func(string, []byte) ([]byte, int, error) {
		<-release
		return nil, 0, nil
	}

	record, get := collectOutcomes()
	agg := metrics.New()
	ctx, cancel := context.WithCancel(context.Background())
	p := New(Config{Workers: 1, QueueCapacity: 8, Transform: transform, OnOutcome: record}, agg)
	p.Start(ctx)

	// One item occupies the worker, eight sit in the queue.
	for i := 0; i < 9; i++ {
		if err := p.Submit(context.Background(), &Item{Path: fmt.Sprintf("/f%d", i), Output: []byte("x")}); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}

	cancel()
	close(release)
	if err := p.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	outcomes := get()
	if len(outcomes) != 9 {
		t.Fatalf("got %d outcomes for 9 accepted items, want 9", len(outcomes))
	}
	if total := agg.Snapshot().Total(); total != 9 {
		t.Errorf("metrics account for %d items, want 9", total)
	}
	cancelled := 0
	for _, o := range outcomes {
		if o.Status == metrics.StatusFailed && o.Err != nil {
			cancelled++
		}
	}
	// The in-flight item may finish normally; everything behind it must
	// be reported as a cancelled failure, not dropped.
	if cancelled < 8 {
		t.Errorf("%d cancelled outcomes, want at least 8", cancelled)
	}
}

func TestPool_ShutdownTimeoutReportsAbandoned(t *testing.T) {
	stuck := make(chan struct{})
	defer close(stuck)
	transform := func(string, []byte) ([]byte, int, error) {
		<-stuck
		return nil, 0, nil
	}

	record, get := collectOutcomes()
	p := New(Config{Workers: 1, QueueCapacity: 4, Transform: transform, OnOutcome: record}, metrics.New())
	p.Start(context.Background())

	// First item wedges the worker; the second never gets picked up.
	_ = p.Submit(context.Background(), &Item{Path: "/wedged", Output: []byte("x")})
	_ = p.Submit(context.Background(), &Item{Path: "/stranded", Output: []byte("x")})

	err := p.Shutdown(100 * time.Millisecond)
	var pe *PoolError
	if !errors.As(err, &pe) {
		t.Fatalf("Shutdown() = %v, want *PoolError", err)
	}

	o, ok := get()["/stranded"]
	if !ok {
		t.Fatal("queued item got no outcome at shutdown timeout")
	}
	if o.Status != metrics.StatusFailed || o.Err == nil {
		t.Errorf("stranded outcome = %+v, want failed with error", o)
	}
}

func TestPool_ShutdownReportsLeak(t *testing.T) {
	stuck := make(chan struct{})
	defer close(stuck)
	transform := func(string, []byte) ([]byte, int, error) {
		<-stuck
		return nil, 0, nil
	}

	p := New(Config{Workers: 1, Transform: transform}, metrics.New())
	p.Start(context.Background())
	_ = p.Submit(context.Background(), &Item{Path: "/hang", Output: []byte("x")})

	err := p.Shutdown(100 * time.Millisecond)
	var pe *PoolError
	if !errors.As(err, &pe) {
		t.Fatalf("Shutdown() = %v, want *PoolError", err)
	}
	if pe.Leaked != 1 {
		t.Errorf("Leaked = %d, want 1", pe.Leaked)
	}
}

func TestErrorLog_Bounded(t *testing.T) {
	l := NewErrorLog(10)
	for i := 0; i < 25; i++ {
		l.Append(fmt.Sprintf("error %d", i))
	}
	msgs := l.Messages()
	if len(msgs) != 10 {
		t.Fatalf("len = %d, want 10", len(msgs))
	}
	if msgs[0] != "error 15" || msgs[9] != "error 24" {
		t.Errorf("window = [%s .. %s], want [error 15 .. error 24]", msgs[0], msgs[9])
	}
}
