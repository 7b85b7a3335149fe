package preflight

import (
	"fmt"
	"os"
	"time"
)

// defaultStaleness is the age past which a server process or lock file
// counts as abandoned.
const defaultStaleness = 30 * time.Minute

// PreflightError aborts the run under PolicyFail when strays exist.
type PreflightError struct {
	Strays int
	Locks  int
}

// Error implements the error interface.
func (e *PreflightError) Error() string {
	return fmt.Sprintf("preflight: %d stray server process(es) and %d lock file(s) present (policy fail)",
		e.Strays, e.Locks)
}

// Config configures a preflight Manager.
type Config struct {
	// Policy selects the action taken. Default PolicySafe.
	Policy Policy

	// ServerName is the executable name of the formatting server.
	ServerName string

	// Staleness is the age threshold separating abandoned processes
	// and locks from live ones. Default 30 minutes.
	Staleness time.Duration

	// LockDirs are directories searched for "<server>*.lock" files.
	LockDirs []string

	// Lister enumerates candidate processes. Default /proc-backed.
	Lister Lister

	// Terminator signals processes. Default SIGTERM.
	Terminator Terminator

	// WarnFunc receives human-readable notes about what preflight
	// found and did. Optional.
	WarnFunc func(format string, args ...any)
}

// Report summarizes one preflight pass.
type Report struct {
	Stale      []ProcessInfo
	Fresh      []ProcessInfo
	Terminated []int
	Locks      []LockFile
	Removed    []string
}

// Manager runs the preflight pass.
type Manager struct {
	cfg Config
	uid int
	now func() time.Time
}

// New creates a Manager, filling config defaults.
func New(cfg Config) *Manager {
	if cfg.Staleness <= 0 {
		cfg.Staleness = defaultStaleness
	}
	if cfg.Lister == nil {
		cfg.Lister = NewLister()
	}
	if cfg.Terminator == nil {
		cfg.Terminator = NewTerminator()
	}
	if cfg.WarnFunc == nil {
		cfg.WarnFunc = func(string, ...any) {}
	}
	return &Manager{cfg: cfg, uid: os.Getuid(), now: time.Now}
}

// Run performs one preflight pass: enumerate, age, act per policy.
// Only PIDs enumerated during this call are ever signalled. Returns a
// *PreflightError under PolicyFail when anything stray exists.
func (m *Manager) Run() (*Report, error) {
	report := &Report{}
	if m.cfg.Policy == PolicyOff {
		return report, nil
	}

	procs, err := m.cfg.Lister.List(m.cfg.ServerName)
	if err != nil {
		return nil, fmt.Errorf("preflight: enumerate processes: %w", err)
	}

	now := m.now()
	for _, p := range procs {
		if p.Age(now) > m.cfg.Staleness {
			report.Stale = append(report.Stale, p)
		} else {
			report.Fresh = append(report.Fresh, p)
		}
	}

	locks, err := findLocks(m.cfg.LockDirs, m.cfg.ServerName)
	if err != nil {
		return nil, fmt.Errorf("preflight: %w", err)
	}
	var staleLocks []LockFile
	for _, l := range locks {
		if l.Stale(now, m.cfg.Staleness) {
			staleLocks = append(staleLocks, l)
		}
	}
	report.Locks = staleLocks

	switch m.cfg.Policy {
	case PolicyWarn:
		m.warnAll(report, staleLocks)
		return report, nil

	case PolicyFail:
		if len(procs) > 0 || len(staleLocks) > 0 {
			return report, &PreflightError{Strays: len(procs), Locks: len(staleLocks)}
		}
		return report, nil

	case PolicySafe:
		m.terminate(report, report.Stale)
		return report, nil

	case PolicyKillClean:
		m.terminate(report, report.Stale)
		m.removeLocks(report, staleLocks)
		return report, nil

	case PolicyAggressive:
		m.terminate(report, procs)
		m.removeLocks(report, staleLocks)
		return report, nil
	}
	return report, nil
}

// terminate signals each candidate owned by the current user.
func (m *Manager) terminate(report *Report, procs []ProcessInfo) {
	for _, p := range procs {
		if p.UID >= 0 && p.UID != m.uid {
			m.cfg.WarnFunc("preflight: skipping pid %d owned by uid %d", p.PID, p.UID)
			continue
		}
		if err := m.cfg.Terminator.Terminate(p.PID); err != nil {
			m.cfg.WarnFunc("preflight: %v", err)
			continue
		}
		m.cfg.WarnFunc("preflight: terminated stray %s (pid %d, age %s)",
			m.cfg.ServerName, p.PID, p.Age(m.now()).Round(time.Second))
		report.Terminated = append(report.Terminated, p.PID)
	}
}

// removeLocks deletes stale lock files.
func (m *Manager) removeLocks(report *Report, locks []LockFile) {
	for _, l := range locks {
		if err := os.Remove(l.Path); err != nil {
			m.cfg.WarnFunc("preflight: remove lock %s: %v", l.Path, err)
			continue
		}
		m.cfg.WarnFunc("preflight: removed stale lock %s", l.Path)
		report.Removed = append(report.Removed, l.Path)
	}
}

// warnAll reports findings without acting on them.
func (m *Manager) warnAll(report *Report, locks []LockFile) {
	now := m.now()
	for _, p := range report.Stale {
		m.cfg.WarnFunc("preflight: stale %s process pid %d (age %s)",
			m.cfg.ServerName, p.PID, p.Age(now).Round(time.Second))
	}
	for _, p := range report.Fresh {
		m.cfg.WarnFunc("preflight: another %s process is running (pid %d)",
			m.cfg.ServerName, p.PID)
	}
	for _, l := range locks {
		m.cfg.WarnFunc("preflight: stale lock file %s", l.Path)
	}
}
