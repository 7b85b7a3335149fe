package preflight

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ProcessInfo describes one enumerated server process.
type ProcessInfo struct {
	// PID is the process id.
	PID int

	// Cmdline is the full command line, arguments space-joined.
	Cmdline string

	// UID is the owning user id.
	UID int

	// Started is the process start time.
	Started time.Time
}

// Age returns how long the process has been running as of now.
func (p ProcessInfo) Age(now time.Time) time.Duration {
	return now.Sub(p.Started)
}

// Lister enumerates running instances of a named program. Implemented
// against /proc in production and faked in tests.
type Lister interface {
	// List returns every process whose command name matches name,
	// excluding the calling process itself.
	List(name string) ([]ProcessInfo, error)
}

// Terminator ends a process. Split from Lister so tests can observe
// which PIDs would be signalled without signalling anything.
type Terminator interface {
	Terminate(pid int) error
}

// clkTck is the kernel clock tick rate used for the starttime field of
// /proc/<pid>/stat. Linux has reported 100 here for a long time
// regardless of the scheduler's actual HZ.
const clkTck = 100

// procLister reads process information from /proc.
type procLister struct {
	root string // "/proc", overridable in tests
}

// NewLister returns the /proc-backed process lister.
func NewLister() Lister {
	return &procLister{root: "/proc"}
}

// List implements Lister.
func (l *procLister) List(name string) ([]ProcessInfo, error) {
	boot, err := l.bootTime()
	if err != nil {
		return nil, fmt.Errorf("read boot time: %w", err)
	}

	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.root, err)
	}

	self := os.Getpid()
	var procs []ProcessInfo
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid == self {
			continue
		}
		info, err := l.read(pid, boot)
		if err != nil {
			// The process may have exited between ReadDir and read.
			continue
		}
		if !matchesName(info.Cmdline, name) {
			continue
		}
		procs = append(procs, info)
	}
	return procs, nil
}

// read assembles a ProcessInfo from /proc/<pid>.
func (l *procLister) read(pid int, boot time.Time) (ProcessInfo, error) {
	dir := filepath.Join(l.root, strconv.Itoa(pid))

	raw, err := os.ReadFile(filepath.Join(dir, "cmdline"))
	if err != nil {
		return ProcessInfo{}, err
	}
	cmdline := strings.TrimSpace(string(bytes.ReplaceAll(raw, []byte{0}, []byte{' '})))
	if cmdline == "" {
		return ProcessInfo{}, fmt.Errorf("pid %d: kernel thread", pid)
	}

	stat, err := os.ReadFile(filepath.Join(dir, "stat"))
	if err != nil {
		return ProcessInfo{}, err
	}
	started, err := statStartTime(stat, boot)
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("pid %d: %w", pid, err)
	}

	uid := -1
	if info, err := os.Stat(dir); err == nil {
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			uid = int(st.Uid)
		}
	}

	return ProcessInfo{PID: pid, Cmdline: cmdline, UID: uid, Started: started}, nil
}

// bootTime reads the btime line from /proc/stat.
func (l *procLister) bootTime() (time.Time, error) {
	data, err := os.ReadFile(filepath.Join(l.root, "stat"))
	if err != nil {
		return time.Time{}, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if rest, ok := strings.CutPrefix(line, "btime "); ok {
			secs, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
			if err != nil {
				return time.Time{}, err
			}
			return time.Unix(secs, 0), nil
		}
	}
	return time.Time{}, fmt.Errorf("no btime in /proc/stat")
}

// statStartTime extracts field 22 (starttime, clock ticks since boot)
// from a /proc/<pid>/stat line. The comm field may itself contain
// spaces and parentheses, so fields are counted after the final ')'.
func statStartTime(stat []byte, boot time.Time) (time.Time, error) {
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 {
		return time.Time{}, fmt.Errorf("malformed stat line")
	}
	fields := strings.Fields(string(stat[i+1:]))
	// fields[0] is field 3 of the stat line; starttime is field 22.
	const idx = 22 - 3
	if len(fields) <= idx {
		return time.Time{}, fmt.Errorf("short stat line (%d fields)", len(fields))
	}
	ticks, err := strconv.ParseInt(fields[idx], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse starttime: %w", err)
	}
	secs := ticks / clkTck
	rem := ticks % clkTck
	return boot.Add(time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/clkTck), nil
}

// matchesName reports whether a command line belongs to the named
// program: the executable's base name must equal name.
func matchesName(cmdline, name string) bool {
	argv0, _, _ := strings.Cut(cmdline, " ")
	return filepath.Base(argv0) == name
}

// sigTerminator sends SIGTERM.
type sigTerminator struct{}

// NewTerminator returns the signal-based process terminator.
func NewTerminator() Terminator {
	return sigTerminator{}
}

// Terminate implements Terminator.
func (sigTerminator) Terminate(pid int) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	return nil
}
