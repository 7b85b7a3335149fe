package preflight

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeLister struct {
	procs []ProcessInfo
	err   error
}

func (f *fakeLister) List(string) ([]ProcessInfo, error) {
	return f.procs, f.err
}

type fakeTerminator struct {
	killed []int
	err    error
}

func (f *fakeTerminator) Terminate(pid int) error {
	if f.err != nil {
		return f.err
	}
	f.killed = append(f.killed, pid)
	return nil
}

func newTestManager(policy Policy, lister *fakeLister, term *fakeTerminator, lockDirs []string) *Manager {
	m := New(Config{
		Policy:     policy,
		ServerName: "fmtserve",
		Staleness:  30 * time.Minute,
		LockDirs:   lockDirs,
		Lister:     lister,
		Terminator: term,
	})
	m.uid = 1000
	m.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func procAt(pid int, age time.Duration, uid int) ProcessInfo {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return ProcessInfo{PID: pid, Cmdline: "fmtserve --stdio", UID: uid, Started: base.Add(-age)}
}

func writeLock(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	mt := time.Now().Add(-age)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Off(t *testing.T) {
	lister := &fakeLister{procs: []ProcessInfo{procAt(10, time.Hour, 1000)}}
	term := &fakeTerminator{}
	m := newTestManager(PolicyOff, lister, term, nil)

	report, err := m.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Stale)+len(report.Fresh) != 0 {
		t.Error("policy off still enumerated processes")
	}
	if len(term.killed) != 0 {
		t.Error("policy off terminated a process")
	}
}

func TestRun_WarnOnly(t *testing.T) {
	lister := &fakeLister{procs: []ProcessInfo{
		procAt(10, time.Hour, 1000),
		procAt(11, time.Minute, 1000),
	}}
	term := &fakeTerminator{}
	m := newTestManager(PolicyWarn, lister, term, nil)

	var warns []string
	m.cfg.WarnFunc = func(format string, args ...any) {
		warns = append(warns, format)
	}

	report, err := m.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Stale) != 1 || len(report.Fresh) != 1 {
		t.Errorf("stale/fresh = %d/%d, want 1/1", len(report.Stale), len(report.Fresh))
	}
	if len(term.killed) != 0 {
		t.Error("warn policy terminated a process")
	}
	if len(warns) != 2 {
		t.Errorf("emitted %d warnings, want 2", len(warns))
	}
}

func TestRun_SafeKillsOnlyStale(t *testing.T) {
	lister := &fakeLister{procs: []ProcessInfo{
		procAt(10, time.Hour, 1000),
		procAt(11, time.Minute, 1000),
	}}
	term := &fakeTerminator{}
	m := newTestManager(PolicySafe, lister, term, nil)

	report, err := m.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(term.killed) != 1 || term.killed[0] != 10 {
		t.Errorf("killed = %v, want [10]", term.killed)
	}
	if len(report.Terminated) != 1 {
		t.Errorf("Terminated = %v, want one pid", report.Terminated)
	}
}

func TestRun_SafeSkipsOtherUsers(t *testing.T) {
	lister := &fakeLister{procs: []ProcessInfo{procAt(10, time.Hour, 2000)}}
	term := &fakeTerminator{}
	m := newTestManager(PolicySafe, lister, term, nil)

	if _, err := m.Run(); err != nil {
		t.Fatal(err)
	}
	if len(term.killed) != 0 {
		t.Errorf("killed %v, want nothing: pid 10 belongs to another user", term.killed)
	}
}

func TestRun_KillCleanRemovesStaleLocks(t *testing.T) {
	dir := t.TempDir()
	stale := writeLock(t, dir, "fmtserve-1234.lock", time.Hour)
	fresh := writeLock(t, dir, "fmtserve-5678.lock", time.Minute)
	writeLock(t, dir, "other.lock", time.Hour) // different server, ignored

	lister := &fakeLister{}
	term := &fakeTerminator{}
	m := newTestManager(PolicyKillClean, lister, term, []string{dir})
	// Lock staleness is judged against file mtimes, so this test needs
	// the real clock.
	m.now = time.Now

	report, err := m.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Removed) != 1 || report.Removed[0] != stale {
		t.Errorf("Removed = %v, want [%s]", report.Removed, stale)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale lock still exists")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh lock was removed")
	}
}

func TestRun_AggressiveKillsFreshToo(t *testing.T) {
	lister := &fakeLister{procs: []ProcessInfo{
		procAt(10, time.Hour, 1000),
		procAt(11, time.Minute, 1000),
		procAt(12, time.Hour, 2000), // other user, left alone
	}}
	term := &fakeTerminator{}
	m := newTestManager(PolicyAggressive, lister, term, nil)

	if _, err := m.Run(); err != nil {
		t.Fatal(err)
	}
	if len(term.killed) != 2 {
		t.Fatalf("killed = %v, want pids 10 and 11", term.killed)
	}
}

func TestRun_FailPolicyAborts(t *testing.T) {
	lister := &fakeLister{procs: []ProcessInfo{procAt(11, time.Minute, 1000)}}
	term := &fakeTerminator{}
	m := newTestManager(PolicyFail, lister, term, nil)

	_, err := m.Run()
	var pe *PreflightError
	if !errors.As(err, &pe) {
		t.Fatalf("Run() error = %v, want *PreflightError", err)
	}
	if pe.Strays != 1 {
		t.Errorf("Strays = %d, want 1", pe.Strays)
	}
	if len(term.killed) != 0 {
		t.Error("fail policy terminated a process")
	}
}

func TestRun_FailPolicyCleanPasses(t *testing.T) {
	m := newTestManager(PolicyFail, &fakeLister{}, &fakeTerminator{}, nil)
	if _, err := m.Run(); err != nil {
		t.Fatalf("Run() on a clean machine = %v, want nil", err)
	}
}

func TestRun_ListerError(t *testing.T) {
	lister := &fakeLister{err: errors.New("proc unreadable")}
	m := newTestManager(PolicySafe, lister, &fakeTerminator{}, nil)
	if _, err := m.Run(); err == nil {
		t.Fatal("Run() succeeded despite enumeration failure")
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"off", PolicyOff, false},
		{"warn", PolicyWarn, false},
		{"safe", PolicySafe, false},
		{"", PolicySafe, false},
		{"kill+clean", PolicyKillClean, false},
		{"aggressive", PolicyAggressive, false},
		{"fail", PolicyFail, false},
		{"nuke", PolicySafe, true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStatStartTime(t *testing.T) {
	boot := time.Unix(1_700_000_000, 0)
	// comm contains spaces and a parenthesis to exercise the LastIndex
	// scan. starttime (field 22) is 4200 ticks = 42s after boot.
	stat := []byte("1234 (fmt serve)) S 1 1234 1234 0 -1 4194560 100 0 0 0 5 3 0 0 20 0 4 0 4200 1000000 500 18446744073709551615")
	got, err := statStartTime(stat, boot)
	if err != nil {
		t.Fatal(err)
	}
	if want := boot.Add(42 * time.Second); !got.Equal(want) {
		t.Errorf("start = %v, want %v", got, want)
	}
}

func TestMatchesName(t *testing.T) {
	if !matchesName("/usr/local/bin/fmtserve --stdio", "fmtserve") {
		t.Error("full path did not match")
	}
	if matchesName("/usr/bin/vim fmtserve.go", "fmtserve") {
		t.Error("argument mention matched")
	}
}
