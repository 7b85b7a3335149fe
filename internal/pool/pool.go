package pool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/fmtflow/internal/metrics"
)

// Transform is the post-processing hook applied to the server's output
// before it is written. It must not perform I/O. It returns the final
// text and the number of substitutions it made.
type Transform func(path string, text []byte) ([]byte, int, error)

// FileOutcome is the final result for one file. Created once per item,
// published to the metrics aggregator and the outcome handler, never
// mutated afterward.
type FileOutcome struct {
	Path         string
	Status       metrics.Status
	BytesWritten int
	ChangeCount  int
	Err          error
}

// PoolError indicates a systemic pool failure, currently only workers
// failing to stop within the shutdown timeout.
type PoolError struct {
	Leaked int
	Err    error
}

// Error implements the error interface.
func (e *PoolError) Error() string {
	return fmt.Sprintf("worker pool: %d worker(s) leaked: %v", e.Leaked, e.Err)
}

// Unwrap returns the underlying error.
func (e *PoolError) Unwrap() error { return e.Err }

// Config configures a Pool.
type Config struct {
	// Workers is the number of concurrent workers (default 4).
	Workers int

	// QueueCapacity is the bounded queue size (default 8). Small by
	// design; see the package comment.
	QueueCapacity int

	// Write enables writing results to disk. When false (check mode)
	// outcomes are computed but nothing touches the filesystem.
	Write bool

	// Transform is the post-processing hook. Optional.
	Transform Transform

	// OnOutcome receives every FileOutcome as it is produced. Optional.
	// Called from worker goroutines; must be safe for concurrent use.
	OnOutcome func(FileOutcome)
}

// Pool drains the bounded queue with a fixed set of workers.
type Pool struct {
	cfg     Config
	queue   *Queue
	agg     *metrics.Aggregator
	errlog  *ErrorLog
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// New creates a pool recording into agg.
func New(cfg Config, agg *metrics.Aggregator) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.QueueCapacity < 1 {
		cfg.QueueCapacity = 8
	}
	return &Pool{
		cfg:    cfg,
		queue:  NewQueue(cfg.QueueCapacity),
		agg:    agg,
		errlog: NewErrorLog(defaultErrorLogSize),
	}
}

// Start launches the workers. ctx cancellation stops real processing;
// items already accepted are still drained and reported as cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit hands one item to the queue, blocking while it is full.
func (p *Pool) Submit(ctx context.Context, item *Item) error {
	return p.queue.Submit(ctx, item)
}

// Shutdown signals no-more-input and waits up to timeout for in-flight
// items to drain. Workers still running past the timeout are reported
// as a *PoolError, never silently ignored, and any items still queued
// at that point are published as Failed outcomes rather than dropped.
// Results written before then remain valid since every file write is
// independent and atomic.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		p.abandonQueued()
		return &PoolError{
			Leaked: p.cfg.Workers,
			Err:    fmt.Errorf("did not drain within %s", timeout),
		}
	}
}

// abandonQueued accounts for items no worker will ever take. The queue
// is closed by the time this runs, so a non-blocking drain sees
// everything the stuck workers left behind.
func (p *Pool) abandonQueued() {
	for {
		select {
		case item, ok := <-p.queue.Items():
			if !ok {
				return
			}
			p.publish(FileOutcome{
				Path:   item.Path,
				Status: metrics.StatusFailed,
				Err:    errors.New("abandoned at pool shutdown timeout"),
			}, 0)
		default:
			return
		}
	}
}

// Errors returns the rolling log of per-item error messages.
func (p *Pool) Errors() []string {
	return p.errlog.Messages()
}

// QueueCapacity returns the bounded queue's capacity.
func (p *Pool) QueueCapacity() int {
	return p.queue.Capacity()
}

// worker drains the queue until it closes. Cancellation does not make
// a worker walk away from accepted items: every WorkItem taken off the
// queue gets an outcome. After ctx is cancelled remaining items are
// reported as cancelled failures instead of processed, so the drain
// stays fast but nothing disappears silently.
func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for item := range p.queue.Items() {
		if err := ctx.Err(); err != nil {
			p.publish(FileOutcome{
				Path:   item.Path,
				Status: metrics.StatusFailed,
				Err:    fmt.Errorf("cancelled before processing: %w", err),
			}, 0)
			continue
		}
		start := time.Now()
		outcome := p.process(item)
		p.publish(outcome, time.Since(start))
	}
}

// publish records one outcome with the aggregator, the error log, and
// the outcome handler.
func (p *Pool) publish(outcome FileOutcome, took time.Duration) {
	if p.agg != nil {
		p.agg.Record(outcome.Status, took, int64(outcome.BytesWritten))
	}
	if outcome.Err != nil {
		p.errlog.Append(fmt.Sprintf("%s: %v", outcome.Path, outcome.Err))
	}
	if p.cfg.OnOutcome != nil {
		p.cfg.OnOutcome(outcome)
	}
}

// process runs one item through transform and write. Any error or panic
// is contained at the item boundary and becomes a Failed outcome; the
// pool keeps going.
func (p *Pool) process(item *Item) (outcome FileOutcome) {
	outcome = FileOutcome{Path: item.Path}

	defer func() {
		if r := recover(); r != nil {
			outcome.Status = metrics.StatusFailed
			outcome.Err = fmt.Errorf("post-processing panicked: %v", r)
		}
	}()

	final := item.Output
	if p.cfg.Transform != nil {
		var n int
		var err error
		final, n, err = p.cfg.Transform(item.Path, item.Output)
		if err != nil {
			outcome.Status = metrics.StatusFailed
			outcome.Err = fmt.Errorf("post-process: %w", err)
			return outcome
		}
		outcome.ChangeCount = n
	}

	if bytes.Equal(final, item.Original) {
		outcome.Status = metrics.StatusUnchanged
		return outcome
	}

	outcome.Status = metrics.StatusChanged
	if p.cfg.Write {
		if err := WriteAtomic(item.Path, final); err != nil {
			outcome.Status = metrics.StatusFailed
			outcome.Err = err
			return outcome
		}
		outcome.BytesWritten = len(final)
	}
	return outcome
}
