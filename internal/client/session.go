package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/fmtflow/internal/rpc"
)

// SessionState is the lifecycle state of a server session. Transitions
// are strictly forward; in particular Ready never goes back to Starting.
type SessionState int32

const (
	StateStarting SessionState = iota
	StateHandshaking
	StateProbingReadiness
	StateReady
	StateShuttingDown
	StateTerminated
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateHandshaking:
		return "handshaking"
	case StateProbingReadiness:
		return "probing readiness"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// pumpJoinTimeout bounds how long shutdown waits for each stream pump.
// A pump that misses it is abandoned with a warning, never allowed to
// block process exit.
const pumpJoinTimeout = 1 * time.Second

// stderrRingSize bounds how many diagnostic lines from the server are
// retained for fatal-error reporting.
const stderrRingSize = 50

// NotificationHandler receives server-initiated notifications.
type NotificationHandler func(method string, params json.RawMessage)

// Session owns one external server process and its streams for the
// lifetime of one run.
type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	framer *rpc.Framer
	table  *rpc.Table

	state atomic.Int32

	// protocolErr is set when the stdout pump hits undecodable frames;
	// the session is unusable afterwards.
	protocolErr atomic.Bool

	stderrMu   sync.Mutex
	stderrTail []string

	notifyMu sync.Mutex
	onNotify NotificationHandler

	exitCh     chan error
	readDone   chan struct{}
	stderrDone chan struct{}

	warnf func(format string, args ...any)
}

// startSession spawns the server process and starts the stream pumps.
// The session begins in StateStarting and is moved to StateHandshaking
// by the caller once it begins the initialize exchange.
func startSession(command string, args []string, env map[string]string, workDir string, warnf func(string, ...any)) (*Session, error) {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}

	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if workDir != "" {
		cmd.Dir = workDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}

	s := &Session{
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		framer:     rpc.NewFramer(stdout, stdin),
		table:      rpc.NewTable(),
		exitCh:     make(chan error, 1),
		readDone:   make(chan struct{}),
		stderrDone: make(chan struct{}),
		warnf:      warnf,
	}
	s.state.Store(int32(StateStarting))

	go s.readPump()
	go s.stderrPump()
	go s.monitorProcess()

	return s, nil
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// advance moves the session from one state to the next. Backward
// transitions are rejected, which is what forbids resurrecting a failed
// session in place.
func (s *Session) advance(from, to SessionState) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// PID returns the server's process id, or -1 before start.
func (s *Session) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return -1
	}
	return s.cmd.Process.Pid
}

// OnNotification installs the handler for server notifications. There
// is a single dispatch point (the stdout pump); methods without a
// handler are dropped.
func (s *Session) OnNotification(h NotificationHandler) {
	s.notifyMu.Lock()
	s.onNotify = h
	s.notifyMu.Unlock()
}

// StderrTail returns the most recent diagnostic lines captured from the
// server's stderr, oldest first.
func (s *Session) StderrTail() []string {
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()
	out := make([]string, len(s.stderrTail))
	copy(out, s.stderrTail)
	return out
}

// call sends a request and blocks until its correlated response arrives,
// the deadline elapses, or ctx is cancelled. Every path resolves the
// pending call exactly once.
func (s *Session) call(ctx context.Context, method string, params any, deadline time.Time) (*rpc.Response, error) {
	id, ch := s.table.Register(deadline)

	if err := s.framer.WriteMessage(rpc.NewRequest(id, method, params)); err != nil {
		// The call never reached the server; resolve it locally so the
		// table does not leak. If the pump raced a resolution in, take it.
		if s.table.Fail(id, err) {
			<-ch
			return nil, fmt.Errorf("send request: %w", err)
		}
		out := <-ch
		return out.Response, out.Err
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.Response, out.Err
	case <-timer.C:
		// Deregister first; if the response raced in, prefer it.
		if s.table.Fail(id, rpc.ErrTimeout) {
			out := <-ch
			return nil, out.Err
		}
		out := <-ch
		return out.Response, out.Err
	case <-ctx.Done():
		if s.table.Fail(id, rpc.ErrCancelled) {
			out := <-ch
			return nil, out.Err
		}
		out := <-ch
		return out.Response, out.Err
	}
}

// notify sends a notification. No response is expected.
func (s *Session) notify(method string, params any) error {
	return s.framer.WriteMessage(rpc.NewNotification(method, params))
}

// readPump continuously reads frames from the server's stdout and
// dispatches each through the tagged message union: responses resolve
// the correlation table, notifications go to the handler. It is the
// only reader of the stream and the only dispatch point.
func (s *Session) readPump() {
	defer close(s.readDone)

	for {
		body, err := s.framer.ReadMessage()
		if err != nil {
			if s.State() >= StateShuttingDown {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				// Server closed its end; outstanding calls will be
				// cancelled by shutdown or fail via the exit monitor.
				return
			}
			s.warnf("server stream: unreadable frame: %v", err)
			s.protocolErr.Store(true)
			s.table.FailAll(errProtocol)
			return
		}

		msg, err := rpc.DecodeMessage(body)
		if err != nil {
			s.warnf("server stream: %v", err)
			s.protocolErr.Store(true)
			s.table.FailAll(errProtocol)
			return
		}

		switch msg.Kind {
		case rpc.KindResponse:
			if !s.table.Resolve(msg.Response) {
				// Late response for a call whose deadline already fired.
				s.warnf("discarding late response for id %d", msg.Response.ID)
			}
		case rpc.KindNotification:
			s.notifyMu.Lock()
			h := s.onNotify
			s.notifyMu.Unlock()
			if h != nil {
				// Handlers run off the pump so a slow one cannot stall
				// response dispatch.
				go h(msg.Notification.Method, msg.Notification.Params)
			}
		}
	}
}

// stderrPump drains the server's stderr for the whole session so the OS
// pipe buffer can never fill and block the server. The last lines are
// kept for fatal-error reporting.
func (s *Session) stderrPump() {
	defer close(s.stderrDone)

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	flush := func(line string) {
		s.stderrMu.Lock()
		s.stderrTail = append(s.stderrTail, line)
		if len(s.stderrTail) > stderrRingSize {
			s.stderrTail = s.stderrTail[len(s.stderrTail)-stderrRingSize:]
		}
		s.stderrMu.Unlock()
	}

	for {
		n, err := s.stderr.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				i := bytes.IndexByte(buf, '\n')
				if i < 0 {
					break
				}
				flush(string(bytes.TrimSuffix(buf[:i], []byte{'\r'})))
				buf = buf[i+1:]
			}
		}
		if err != nil {
			if len(buf) > 0 {
				flush(string(bytes.TrimSuffix(buf, []byte{'\r'})))
			}
			return
		}
	}
}

// monitorProcess waits for the process and records its exit.
func (s *Session) monitorProcess() {
	err := s.cmd.Wait()
	select {
	case s.exitCh <- err:
	default:
	}
}

// ExitChannel receives the process's exit error once it terminates.
func (s *Session) ExitChannel() <-chan error {
	return s.exitCh
}

// shutdown performs the ordered teardown: shutdown request, exit
// notification, bounded wait for process exit, then force kill. All
// outstanding calls are resolved Cancelled; the pumps are joined with a
// bounded timeout and abandoned with a warning if they miss it.
func (s *Session) shutdown(grace time.Duration) {
	// Move to ShuttingDown from whichever forward state we are in.
	for {
		st := s.State()
		if st >= StateShuttingDown {
			break
		}
		if s.advance(st, StateShuttingDown) {
			break
		}
	}

	// Polite protocol goodbye, each bounded by the grace period.
	if !s.framer.IsClosed() && !s.protocolErr.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		_, _ = s.call(ctx, "shutdown", nil, time.Now().Add(grace))
		cancel()
		_ = s.notify("exit", nil)
	}

	s.framer.Close()
	s.stdin.Close()

	// Wait for the process, then force it.
	if s.cmd != nil {
		exited := false
		select {
		case <-s.exitCh:
			exited = true
		case <-time.After(grace):
		}
		if !exited && s.cmd.Process != nil {
			s.warnf("server did not exit within %s, killing pid %d", grace, s.cmd.Process.Pid)
			_ = s.cmd.Process.Kill()
			select {
			case <-s.exitCh:
			case <-time.After(pumpJoinTimeout):
			}
		}
	}

	// Nothing outstanding may dangle.
	s.table.FailAll(rpc.ErrCancelled)

	s.stdout.Close()
	s.stderr.Close()

	// Join the pumps, bounded.
	for _, p := range []struct {
		name string
		done <-chan struct{}
	}{
		{"stdout", s.readDone},
		{"stderr", s.stderrDone},
	} {
		select {
		case <-p.done:
		case <-time.After(pumpJoinTimeout):
			s.warnf("%s pump did not stop within %s, abandoning", p.name, pumpJoinTimeout)
		}
	}

	s.state.Store(int32(StateTerminated))
}
