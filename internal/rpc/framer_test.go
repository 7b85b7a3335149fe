package rpc

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
)

func TestFramer_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	out := NewFramer(strings.NewReader(""), &buf)

	req := NewRequest(7, "document/format", map[string]string{"text": "x = 1"})
	if err := out.WriteMessage(req); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	in := NewFramer(bytes.NewReader(buf.Bytes()), io.Discard)
	body, err := in.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	if !strings.Contains(string(body), `"method":"document/format"`) {
		t.Errorf("body missing method: %s", body)
	}
	if !strings.Contains(string(body), `"id":7`) {
		t.Errorf("body missing id: %s", body)
	}
}

func TestFramer_WriteHeader(t *testing.T) {
	var buf bytes.Buffer
	f := NewFramer(strings.NewReader(""), &buf)

	if err := f.WriteMessage(NewNotification("initialized", struct{}{})); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "Content-Length: ") {
		t.Errorf("missing Content-Length header: %q", out)
	}
	if !strings.Contains(out, "\r\n\r\n") {
		t.Errorf("missing header terminator: %q", out)
	}
}

func TestFramer_ReadIgnoresExtraHeaders(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"ping"}`
	raw := "Content-Type: application/vscode-jsonrpc; charset=utf-8\r\n" +
		"Content-Length: " + itoa(len(body)) + "\r\n\r\n" + body

	f := NewFramer(strings.NewReader(raw), io.Discard)
	got, err := f.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if string(got) != body {
		t.Errorf("body = %q, want %q", got, body)
	}
}

func TestFramer_ReadMissingContentLength(t *testing.T) {
	raw := "Content-Type: application/json\r\n\r\n{}"
	f := NewFramer(strings.NewReader(raw), io.Discard)

	_, err := f.ReadMessage()
	if !errors.Is(err, ErrMissingContentLength) {
		t.Errorf("ReadMessage() error = %v, want ErrMissingContentLength", err)
	}
}

func TestFramer_ReadMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	out := NewFramer(strings.NewReader(""), &buf)
	for i := int64(1); i <= 3; i++ {
		if err := out.WriteMessage(NewRequest(i, "m", nil)); err != nil {
			t.Fatalf("WriteMessage(%d) error = %v", i, err)
		}
	}

	in := NewFramer(bytes.NewReader(buf.Bytes()), io.Discard)
	for i := 1; i <= 3; i++ {
		if _, err := in.ReadMessage(); err != nil {
			t.Fatalf("ReadMessage() frame %d error = %v", i, err)
		}
	}
	if _, err := in.ReadMessage(); err != io.EOF {
		t.Errorf("expected EOF after last frame, got %v", err)
	}
}

func TestFramer_WriteAfterClose(t *testing.T) {
	f := NewFramer(strings.NewReader(""), io.Discard)
	f.Close()

	if !f.IsClosed() {
		t.Error("IsClosed() = false after Close()")
	}
	if err := f.WriteMessage(NewNotification("x", nil)); err != ErrClosed {
		t.Errorf("WriteMessage() after close = %v, want ErrClosed", err)
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
