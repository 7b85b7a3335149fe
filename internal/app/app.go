// Package app wires the whole pipeline together: preflight, file
// discovery, the server session, the worker pool, and reporting. It
// owns the ordering rules (preflight before spawn, drain the pool
// before the session dies) and maps the run's outcome to an exit
// code.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dshills/fmtflow/internal/client"
	"github.com/dshills/fmtflow/internal/config"
	"github.com/dshills/fmtflow/internal/discover"
	"github.com/dshills/fmtflow/internal/metrics"
	"github.com/dshills/fmtflow/internal/pool"
	"github.com/dshills/fmtflow/internal/post"
	"github.com/dshills/fmtflow/internal/preflight"
	"github.com/dshills/fmtflow/internal/report"
	"github.com/dshills/fmtflow/internal/watch"
)

// Exit codes.
const (
	ExitOK           = 0 // everything formatted
	ExitCheckChanges = 1 // check mode found files that would change
	ExitFileFailures = 2 // some files failed, the run itself survived
	ExitFatal        = 3 // orchestration failure, results incomplete
)

// formatter is the slice of client.Client the orchestrator needs.
// Narrow so tests can drive the pipeline without a real server.
type formatter interface {
	Start(ctx context.Context) error
	ProbeReadiness(ctx context.Context) *client.ProbeError
	Format(ctx context.Context, path, content string) (string, error)
	Shutdown()
	StderrTail() []string
}

// Options is everything a run needs beyond the config file.
type Options struct {
	Config  config.Config
	Roots   []string
	Check   bool
	Watch   bool
	Verbose bool

	// Reporter defaults to one writing to stderr.
	Reporter *report.Reporter
}

// App runs formatting passes.
type App struct {
	opts      Options
	rep       *report.Reporter
	transform func(path string, text []byte) ([]byte, int, error)

	// newFormatter is swapped out in tests.
	newFormatter func() formatter
}

// New builds an App, loading the rules file and Lua hook up front so
// bad definitions fail before any server is spawned.
func New(opts Options) (*App, error) {
	rep := opts.Reporter
	if rep == nil {
		rep = report.New(os.Stderr, opts.Verbose)
	}

	var rules *post.RuleSet
	if opts.Config.Rules.File != "" {
		var err error
		rules, err = post.LoadRules(opts.Config.Rules.File)
		if err != nil {
			return nil, err
		}
	}
	var hook *post.Hook
	if opts.Config.Rules.LuaHook != "" {
		var err error
		hook, err = post.LoadHook(opts.Config.Rules.LuaHook)
		if err != nil {
			return nil, err
		}
	}

	a := &App{
		opts:      opts,
		rep:       rep,
		transform: post.Chain(rules, hook),
	}
	a.newFormatter = func() formatter {
		srv := opts.Config.Server
		root := ""
		if len(opts.Roots) > 0 {
			root = opts.Roots[0]
		}
		return client.New(client.Config{
			Command:                srv.Command,
			Args:                   srv.Args,
			RootPath:               root,
			InitTimeout:            srv.InitTimeout.Std(),
			CallTimeout:            srv.CallTimeout.Std(),
			ProbeTimeout:           srv.ProbeTimeout.Std(),
			ShutdownGrace:          srv.ShutdownGrace.Std(),
			MaxConsecutiveTimeouts: srv.MaxConsecutiveTimeouts,
			TabSize:                srv.TabSize,
			InsertSpaces:           srv.InsertSpaces,
			WarnFunc:               rep.Warnf,
		})
	}
	return a, nil
}

// Run executes the configured run and returns the process exit code.
func (a *App) Run(ctx context.Context) int {
	if code, ok := a.runPreflight(); !ok {
		return code
	}

	files, err := discover.Files(a.opts.Roots, discover.Options{
		Include: a.opts.Config.Discover.Include,
		Exclude: a.opts.Config.Discover.Exclude,
	})
	if err != nil {
		a.rep.Fatal("discovery", err, nil, "")
		return ExitFatal
	}
	if len(files) == 0 && !a.opts.Watch {
		a.rep.Warnf("no files matched")
		return ExitOK
	}

	code := ExitOK
	if len(files) > 0 {
		code = a.runPass(ctx, files)
	}
	if !a.opts.Watch || code == ExitFatal {
		return code
	}
	return a.runWatch(ctx)
}

// runPreflight applies the configured cleanup policy. The bool result
// is false when the run must stop.
func (a *App) runPreflight() (int, bool) {
	pf := a.opts.Config.Preflight
	policy, err := preflight.ParsePolicy(pf.Policy)
	if err != nil {
		a.rep.Fatal("preflight", err, nil, "")
		return ExitFatal, false
	}
	mgr := preflight.New(preflight.Config{
		Policy:     policy,
		ServerName: a.opts.Config.Server.Command,
		Staleness:  pf.Staleness.Std(),
		LockDirs:   pf.LockDirs,
		WarnFunc:   a.rep.Warnf,
	})
	if _, err := mgr.Run(); err != nil {
		var pe *preflight.PreflightError
		if errors.As(err, &pe) {
			a.rep.Fatal("preflight", err, nil,
				"another run may be active; stop it or lower preflight.policy")
		} else {
			a.rep.Fatal("preflight", err, nil, "")
		}
		return ExitFatal, false
	}
	return ExitOK, true
}

// runPass formats one batch of files through a fresh server session
// and worker pool.
func (a *App) runPass(ctx context.Context, files []string) int {
	agg := metrics.New()

	p := pool.New(pool.Config{
		Workers:       a.opts.Config.Pool.Workers,
		QueueCapacity: a.opts.Config.Pool.QueueCapacity,
		Write:         !a.opts.Check,
		Transform:     a.transform,
		OnOutcome:     a.rep.Outcome,
	}, agg)
	p.Start(ctx)

	fm := a.newFormatter()
	if err := fm.Start(ctx); err != nil {
		_ = p.Shutdown(a.opts.Config.Pool.ShutdownTimeout.Std())
		a.rep.Fatal("startup", err, fm.StderrTail(),
			fmt.Sprintf("check that %q is installed and accepts the configured args", a.opts.Config.Server.Command))
		return ExitFatal
	}
	if perr := fm.ProbeReadiness(ctx); perr != nil {
		a.rep.Warnf("%v; proceeding anyway", perr)
	}

	fatal := a.pumpFiles(ctx, fm, p, agg, files)

	// Shutdown order: the queue drains first so every accepted item is
	// finished or accounted for, then the session goes down.
	if err := p.Shutdown(a.opts.Config.Pool.ShutdownTimeout.Std()); err != nil {
		a.rep.Warnf("%v", err)
	}
	fm.Shutdown()

	snap := agg.Snapshot()
	a.rep.Summary(snap)

	switch {
	case fatal:
		return ExitFatal
	case snap.Failed > 0:
		return ExitFileFailures
	case a.opts.Check && snap.Changed > 0:
		return ExitCheckChanges
	default:
		return ExitOK
	}
}

// pumpFiles drives the format loop. Returns true when the run died a
// systemic death rather than finishing with per-file errors.
func (a *App) pumpFiles(ctx context.Context, fm formatter, p *pool.Pool, agg *metrics.Aggregator, files []string) bool {
	total := len(files)
	for i, path := range files {
		if ctx.Err() != nil {
			return false
		}

		start := time.Now()
		original, err := os.ReadFile(path)
		if err != nil {
			a.failFile(agg, path, start, fmt.Errorf("read: %w", err))
			continue
		}

		formatted, err := fm.Format(ctx, path, string(original))
		if err != nil {
			if errors.Is(err, client.ErrTooManyTimeouts) {
				a.failFile(agg, path, start, err)
				a.rep.Fatal("format", err, fm.StderrTail(),
					"the server is wedged; it will be terminated")
				return true
			}
			if fe, ok := client.AsFormatError(err); ok {
				switch fe.Kind {
				case client.SyntaxRejected, client.Timeout:
					a.failFile(agg, path, start, err)
					continue
				case client.Cancelled:
					return false
				case client.ProtocolError:
					a.failFile(agg, path, start, err)
					a.rep.Fatal("format", err, fm.StderrTail(),
						"the server stream is corrupt; results so far are kept")
					return true
				}
			}
			a.failFile(agg, path, start, err)
			a.rep.Fatal("format", err, fm.StderrTail(), "")
			return true
		}

		item := &pool.Item{
			Path:     path,
			Original: original,
			Output:   []byte(formatted),
			Seq:      i,
			Total:    total,
		}
		if err := p.Submit(ctx, item); err != nil {
			// Queue closed or run cancelled; nothing more goes in.
			return false
		}
	}
	return false
}

// failFile records a failure discovered before the pool got involved.
func (a *App) failFile(agg *metrics.Aggregator, path string, start time.Time, err error) {
	agg.Record(metrics.StatusFailed, time.Since(start), 0)
	a.rep.Outcome(pool.FileOutcome{Path: path, Status: metrics.StatusFailed, Err: err})
}

// runWatch re-formats files as they change until ctx is cancelled.
func (a *App) runWatch(ctx context.Context) int {
	w, err := watch.New(a.opts.Roots, a.opts.Config.Watch.Debounce.Std(), a.rep.Warnf)
	if err != nil {
		a.rep.Fatal("watch", err, nil, "")
		return ExitFatal
	}
	defer w.Close()

	include := a.opts.Config.Discover.Include
	exclude := a.opts.Config.Discover.Exclude

	err = w.Run(ctx, func(paths []string) {
		var batch []string
		for _, p := range paths {
			if discover.Matches(p, include, exclude) {
				batch = append(batch, p)
			}
		}
		if len(batch) == 0 {
			return
		}
		a.runPass(ctx, batch)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.rep.Fatal("watch", err, nil, "")
		return ExitFatal
	}
	return ExitOK
}
