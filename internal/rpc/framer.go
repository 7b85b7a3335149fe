package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Framer reads and writes Content-Length framed JSON messages on a byte
// stream, per the LSP base protocol. Writes are serialized: even though
// many logical callers may be in flight awaiting responses, exactly one
// goroutine at a time touches the underlying writer, so frames can never
// interleave.
type Framer struct {
	reader *bufio.Reader

	wmu    sync.Mutex
	writer io.Writer

	closed atomic.Bool
}

// NewFramer creates a framer over the given reader and writer, typically
// a child process's stdout and stdin pipes.
func NewFramer(r io.Reader, w io.Writer) *Framer {
	return &Framer{
		reader: bufio.NewReaderSize(r, 64*1024),
		writer: w,
	}
}

// WriteMessage marshals msg and writes it as a single frame.
func (f *Framer) WriteMessage(msg any) error {
	if f.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	f.wmu.Lock()
	defer f.wmu.Unlock()

	if _, err := io.WriteString(f.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// ReadMessage reads a single frame and returns its raw body.
// It blocks until a full frame is available or the stream ends.
func (f *Framer) ReadMessage() (json.RawMessage, error) {
	var contentLength int
	for {
		line, err := f.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break // end of headers
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				length, err := strconv.Atoi(strings.TrimSpace(parts[1]))
				if err == nil {
					contentLength = length
				}
			}
		}
		// Content-Type and other headers are ignored.
	}

	if contentLength <= 0 {
		return nil, ErrMissingContentLength
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(f.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Close marks the framer closed. Subsequent writes fail with ErrClosed.
// Closing the underlying pipes is the owner's job.
func (f *Framer) Close() {
	f.closed.Store(true)
}

// IsClosed returns true if the framer has been closed.
func (f *Framer) IsClosed() bool {
	return f.closed.Load()
}
