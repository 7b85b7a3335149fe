package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/fmtflow/internal/rpc"
)

// Config defines how to start and drive the formatting server.
type Config struct {
	// Command is the server executable.
	Command string

	// Args are command-line arguments.
	Args []string

	// Env are additional environment variables.
	Env map[string]string

	// WorkDir is the server's working directory.
	WorkDir string

	// RootPath is the workspace root advertised during initialize.
	RootPath string

	// InitTimeout bounds the initialize handshake (default: 30s).
	InitTimeout time.Duration

	// CallTimeout bounds each format request (default: 10s).
	CallTimeout time.Duration

	// ProbeTimeout is the overall readiness-probe budget; the attempt
	// count is derived from it (default: 20s).
	ProbeTimeout time.Duration

	// ShutdownGrace bounds the polite shutdown exchange and the wait
	// for process exit (default: 2s).
	ShutdownGrace time.Duration

	// MaxConsecutiveTimeouts is the ceiling at which the run aborts.
	// Zero or less disables the ceiling; DefaultConfig uses 5. New does
	// not fill this from the default because zero is a meaningful
	// setting here, unlike the timeouts.
	MaxConsecutiveTimeouts int

	// TabSize and InsertSpaces are passed through as formatting options.
	TabSize      int
	InsertSpaces bool

	// WarnFunc receives non-fatal diagnostics. Optional.
	WarnFunc func(format string, args ...any)
}

// Probe backoff: start at 2s, multiply by 1.5, cap at 10s. One attempt
// is budgeted per 5 seconds of ProbeTimeout.
const (
	probeInitialDelay   = 2 * time.Second
	probeDelayMultipler = 1.5
	probeMaxDelay       = 10 * time.Second
	probeBudgetPerTry   = 5 * time.Second
)

// DefaultConfig returns a config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		InitTimeout:            30 * time.Second,
		CallTimeout:            10 * time.Second,
		ProbeTimeout:           20 * time.Second,
		ShutdownGrace:          2 * time.Second,
		MaxConsecutiveTimeouts: 5,
		TabSize:                4,
		InsertSpaces:           true,
	}
}

// Client turns (path, content) pairs into formatted text by driving
// exactly one external server process per run. A Client whose session
// fails is done; construct a new Client for a new session.
type Client struct {
	cfg      Config
	session  *Session
	failures *Counter
	clock    Clock
	warnf    func(format string, args ...any)

	serverInfo *ServerInfo
}

// New creates a client. Zero-valued timeouts are filled from defaults.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = def.InitTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
	if cfg.TabSize <= 0 {
		cfg.TabSize = def.TabSize
	}

	warnf := cfg.WarnFunc
	if warnf == nil {
		warnf = func(string, ...any) {}
	}

	return &Client{
		cfg:      cfg,
		failures: NewCounter(cfg.MaxConsecutiveTimeouts),
		clock:    realClock{},
		warnf:    warnf,
	}
}

// Start spawns the server and performs the initialize handshake. On any
// failure the process is terminated and a *StartError is returned; the
// run cannot proceed.
func (c *Client) Start(ctx context.Context) error {
	if c.session != nil {
		return &StartError{Phase: "spawn", Err: errors.New("client already started")}
	}

	sess, err := startSession(c.cfg.Command, c.cfg.Args, c.cfg.Env, c.cfg.WorkDir, c.warnf)
	if err != nil {
		return &StartError{Phase: "spawn", Err: err}
	}
	c.session = sess

	sess.advance(StateStarting, StateHandshaking)

	params := InitializeParams{
		ProcessID: os.Getpid(),
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Formatting: FormattingClientCapabilities{},
			},
		},
	}
	if c.cfg.RootPath != "" {
		params.RootURI = FilePathToURI(c.cfg.RootPath)
		params.WorkspaceFolders = []WorkspaceFolder{{
			URI:  params.RootURI,
			Name: "workspace",
		}}
	}

	deadline := time.Now().Add(c.cfg.InitTimeout)
	resp, err := sess.call(ctx, "initialize", params, deadline)
	if err != nil {
		sess.shutdown(c.cfg.ShutdownGrace)
		if errors.Is(err, rpc.ErrTimeout) {
			return &StartError{Phase: "handshake", Err: fmt.Errorf("no response within %s: %w", c.cfg.InitTimeout, err)}
		}
		return &StartError{Phase: "handshake", Err: err}
	}
	if resp.Error != nil {
		sess.shutdown(c.cfg.ShutdownGrace)
		return &StartError{Phase: "handshake", Err: resp.Error}
	}

	var result InitializeResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			sess.shutdown(c.cfg.ShutdownGrace)
			return &StartError{Phase: "handshake", Err: fmt.Errorf("decode initialize result: %w", err)}
		}
	}
	c.serverInfo = result.ServerInfo

	if err := sess.notify("initialized", InitializedParams{}); err != nil {
		sess.shutdown(c.cfg.ShutdownGrace)
		return &StartError{Phase: "handshake", Err: fmt.Errorf("initialized notification: %w", err)}
	}

	sess.advance(StateHandshaking, StateProbingReadiness)
	return nil
}

// ProbeReadiness sends a minimal synthetic format request until one
// succeeds, retrying on timeout with exponential backoff. Success once
// is sufficient. A soft failure does not abort the run: the session is
// promoted to Ready anyway and the returned *ProbeError is the caller's
// cue to proceed with a warning.
func (c *Client) ProbeReadiness(ctx context.Context) *ProbeError {
	maxAttempts := int(c.cfg.ProbeTimeout / probeBudgetPerTry)
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	delay := probeInitialDelay

loop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		uri := DocumentURI("untitled:probe-" + uuid.NewString())
		_, err := c.formatDocument(ctx, uri, "\n", c.cfg.CallTimeout)
		if err == nil {
			c.session.advance(StateProbingReadiness, StateReady)
			return nil
		}

		// Any answer at all proves the server is servicing requests;
		// only silence (timeout) means it is still warming up.
		var fe *FormatError
		if errors.As(err, &fe) && fe.Kind != Timeout {
			c.session.advance(StateProbingReadiness, StateReady)
			return nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			break loop
		case <-c.clock.After(delay):
		}
		delay = time.Duration(float64(delay) * probeDelayMultipler)
		if delay > probeMaxDelay {
			delay = probeMaxDelay
		}
	}

	c.session.advance(StateProbingReadiness, StateReady)
	return &ProbeError{Attempts: maxAttempts, Err: lastErr}
}

// Format formats one file's content through the server. Per-file errors
// come back as *FormatError; ErrTooManyTimeouts means the run must
// abort.
func (c *Client) Format(ctx context.Context, path, content string) (string, error) {
	if c.session == nil || c.session.State() != StateReady {
		return "", &FormatError{Path: path, Kind: Cancelled, Err: ErrSessionNotReady}
	}

	text, err := c.formatDocument(ctx, FilePathToURI(path), content, c.cfg.CallTimeout)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Path = path
			if fe.Kind == Timeout {
				if c.failures.RecordTimeout() {
					return "", fmt.Errorf("%w (%d in a row, ceiling %d): last error: %v",
						ErrTooManyTimeouts, c.failures.Count(), c.cfg.MaxConsecutiveTimeouts, fe)
				}
			}
		}
		return "", err
	}

	c.failures.Reset()
	return text, nil
}

// formatDocument runs the didOpen / formatting / didClose exchange for
// one document and applies the returned edits.
func (c *Client) formatDocument(ctx context.Context, uri DocumentURI, content string, timeout time.Duration) (string, error) {
	sess := c.session

	open := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: "plaintext",
			Version:    1,
			Text:       content,
		},
	}
	if err := sess.notify("textDocument/didOpen", open); err != nil {
		return "", &FormatError{Kind: Cancelled, Err: fmt.Errorf("didOpen: %w", err)}
	}
	// Best effort: the server drops its copy whether or not the request
	// below succeeded.
	defer func() {
		_ = sess.notify("textDocument/didClose", DidCloseTextDocumentParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
		})
	}()

	params := DocumentFormattingParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Options: FormattingOptions{
			TabSize:      c.cfg.TabSize,
			InsertSpaces: c.cfg.InsertSpaces,
		},
	}

	deadline := time.Now().Add(timeout)
	resp, err := sess.call(ctx, "textDocument/formatting", params, deadline)
	if err != nil {
		switch {
		case errors.Is(err, rpc.ErrTimeout):
			return "", &FormatError{Kind: Timeout, Err: err}
		case errors.Is(err, rpc.ErrCancelled), errors.Is(err, rpc.ErrClosed), errors.Is(err, context.Canceled):
			return "", &FormatError{Kind: Cancelled, Err: err}
		case errors.Is(err, errProtocol):
			return "", &FormatError{Kind: ProtocolError, Err: err}
		default:
			return "", &FormatError{Kind: Cancelled, Err: err}
		}
	}

	if resp.Error != nil {
		switch resp.Error.Code {
		case rpc.CodeRequestCancelled, rpc.CodeServerCancelled, rpc.CodeContentModified:
			return "", &FormatError{Kind: Cancelled, Err: resp.Error}
		default:
			// A well-formed error response is the server telling us the
			// input is unformattable. Per-file, never the session's fault.
			return "", &FormatError{Kind: SyntaxRejected, Err: resp.Error}
		}
	}

	var edits []TextEdit
	if len(resp.Result) > 0 && string(resp.Result) != "null" {
		if err := json.Unmarshal(resp.Result, &edits); err != nil {
			return "", &FormatError{Kind: ProtocolError, Err: fmt.Errorf("decode edits: %w", err)}
		}
	}

	text, err := ApplyEdits(content, edits)
	if err != nil {
		return "", &FormatError{Kind: ProtocolError, Err: err}
	}
	return text, nil
}

// Shutdown tears the session down. It always succeeds from the caller's
// perspective: problems are reported through the warn func, and any
// outstanding calls are resolved Cancelled.
func (c *Client) Shutdown() {
	if c.session == nil {
		return
	}
	c.session.shutdown(c.cfg.ShutdownGrace)
}

// ConsecutiveTimeouts returns the current consecutive-timeout count.
func (c *Client) ConsecutiveTimeouts() int {
	return c.failures.Count()
}

// StderrTail returns the last diagnostic lines from the server, for
// fatal-error reporting.
func (c *Client) StderrTail() []string {
	if c.session == nil {
		return nil
	}
	return c.session.StderrTail()
}

// ServerInfo returns the server's self-identification from the
// handshake, or nil.
func (c *Client) ServerInfo() *ServerInfo {
	return c.serverInfo
}

// SessionState returns the session's current state, or StateTerminated
// if no session was ever started.
func (c *Client) SessionState() SessionState {
	if c.session == nil {
		return StateTerminated
	}
	return c.session.State()
}
