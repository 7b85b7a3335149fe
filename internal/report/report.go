// Package report renders fmtflow's human-facing output: warnings while
// the run is in flight, optional per-file outcome lines, the
// end-of-run summary, and fatal-error explanations. Everything goes to
// one writer (normally stderr) so formatted text on stdout, if anyone
// ever pipes it, stays clean.
package report

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/dshills/fmtflow/internal/metrics"
	"github.com/dshills/fmtflow/internal/pool"
)

// styles holds the lipgloss styles used when the writer is a terminal.
type styles struct {
	changed lipgloss.Style
	failed  lipgloss.Style
	muted   lipgloss.Style
	header  lipgloss.Style
}

func newStyles() styles {
	return styles{
		changed: lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		header:  lipgloss.NewStyle().Bold(true),
	}
}

// Reporter writes run output. Outcomes arrive concurrently from the
// worker goroutines and the producer, so every write goes through one
// mutex; lines never interleave.
type Reporter struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	styled  bool
	styles  styles
}

// New creates a Reporter. Styling turns on when out is a terminal.
func New(out io.Writer, verbose bool) *Reporter {
	styled := false
	if f, ok := out.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &Reporter{out: out, verbose: verbose, styled: styled, styles: newStyles()}
}

// render applies a style only when styling is on.
func (r *Reporter) render(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

// Warnf writes one warning line.
func (r *Reporter) Warnf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "warning: "+format+"\n", args...)
}

// Outcome writes one per-file line. Failures always print; unchanged
// and changed files only under -v.
func (r *Reporter) Outcome(o pool.FileOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch o.Status {
	case metrics.StatusFailed:
		fmt.Fprintf(r.out, "%s %s: %v\n", r.render(r.styles.failed, "fail"), o.Path, o.Err)
	case metrics.StatusChanged:
		if r.verbose {
			fmt.Fprintf(r.out, "%s %s\n", r.render(r.styles.changed, "edit"), o.Path)
		}
	case metrics.StatusUnchanged:
		if r.verbose {
			fmt.Fprintf(r.out, "%s %s\n", r.render(r.styles.muted, "  ok"), o.Path)
		}
	}
}

// Summary writes the end-of-run totals.
func (r *Reporter) Summary(snap metrics.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s %d files: %d changed, %d unchanged, %d failed\n",
		r.render(r.styles.header, "done"),
		snap.Total(), snap.Changed, snap.Unchanged, snap.Failed)
	fmt.Fprintf(r.out, "     %s elapsed, %.1f files/s, %s written\n",
		snap.Elapsed.Round(time.Millisecond),
		snap.FilesPerSecond,
		formatBytes(snap.BytesWritten))
}

// Fatal explains an unrecoverable failure: which phase died, the
// error, the server's last stderr lines, and what to try.
func (r *Reporter) Fatal(phase string, err error, stderrTail []string, remedy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s %s: %v\n", r.render(r.styles.failed, "fatal"), phase, err)
	if len(stderrTail) > 0 {
		fmt.Fprintf(r.out, "server stderr (last %d lines):\n", len(stderrTail))
		for _, line := range stderrTail {
			fmt.Fprintf(r.out, "  %s\n", r.render(r.styles.muted, line))
		}
	}
	if remedy != "" {
		fmt.Fprintf(r.out, "hint: %s\n", remedy)
	}
}

// formatBytes renders a byte count with a binary unit.
func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
