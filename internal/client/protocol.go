package client

import (
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// DocumentURI represents a URI as used on the wire, typically file://.
type DocumentURI string

// Position in a text document as zero-based line and character offset.
// Character offsets are treated as byte columns within the line; the
// formatting servers this tool targets emit whole-line or whole-document
// edits, where the distinction from UTF-16 code units never surfaces.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range in a text document expressed as start and end positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// TextEdit represents a textual edit applicable to a document.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// TextDocumentIdentifier identifies a text document.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// TextDocumentItem transfers a document from client to server.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int         `json:"version"`
	Text       string      `json:"text"`
}

// WorkspaceFolder represents a workspace folder.
type WorkspaceFolder struct {
	URI  DocumentURI `json:"uri"`
	Name string      `json:"name"`
}

// InitializeParams are the parameters of the initialize request.
type InitializeParams struct {
	ProcessID             int                `json:"processId"`
	RootURI               DocumentURI        `json:"rootUri,omitempty"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions any                `json:"initializationOptions,omitempty"`
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders,omitempty"`
}

// ClientCapabilities advertises the narrow slice of the protocol this
// client actually uses.
type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
}

// TextDocumentClientCapabilities covers document-level capabilities.
type TextDocumentClientCapabilities struct {
	Formatting FormattingClientCapabilities `json:"formatting"`
}

// FormattingClientCapabilities covers formatting capabilities.
type FormattingClientCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
}

// InitializeResult is the server's reply to initialize. Capabilities are
// kept raw: the client only needs the handshake to complete, not to
// interrogate the capability tree.
type InitializeResult struct {
	Capabilities map[string]any `json:"capabilities"`
	ServerInfo   *ServerInfo    `json:"serverInfo,omitempty"`
}

// ServerInfo identifies the server from initialization.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializedParams are the (empty) parameters of the initialized
// notification.
type InitializedParams struct{}

// DidOpenTextDocumentParams are the parameters of textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidCloseTextDocumentParams are the parameters of textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// FormattingOptions are the options of a formatting request.
type FormattingOptions struct {
	TabSize      int  `json:"tabSize"`
	InsertSpaces bool `json:"insertSpaces"`
}

// DocumentFormattingParams are the parameters of textDocument/formatting.
type DocumentFormattingParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Options      FormattingOptions      `json:"options"`
}

// FilePathToURI converts a file path to a file:// URI.
func FilePathToURI(path string) DocumentURI {
	path = filepath.ToSlash(path)
	if runtime.GOOS == "windows" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{Scheme: "file", Path: path}
	return DocumentURI(u.String())
}

// URIToFilePath converts a file:// URI back to a file path.
func URIToFilePath(uri DocumentURI) string {
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" {
		return string(uri)
	}
	path := u.Path
	if runtime.GOOS == "windows" {
		path = strings.TrimPrefix(path, "/")
	}
	return filepath.FromSlash(path)
}

// ApplyEdits applies the server's edits to text and returns the result.
// Edits are applied back to front so earlier offsets stay valid. Servers
// commonly return either no edits (already formatted) or one edit
// replacing the whole document; overlapping edits are rejected as a
// protocol violation.
func ApplyEdits(text string, edits []TextEdit) (string, error) {
	if len(edits) == 0 {
		return text, nil
	}

	offsets := lineOffsets(text)

	type span struct {
		start, end int
		newText    string
	}
	spans := make([]span, 0, len(edits))
	for _, e := range edits {
		start, err := positionOffset(text, offsets, e.Range.Start)
		if err != nil {
			return "", err
		}
		end, err := positionOffset(text, offsets, e.Range.End)
		if err != nil {
			return "", err
		}
		if end < start {
			return "", fmt.Errorf("edit range inverted: %d < %d", end, start)
		}
		spans = append(spans, span{start: start, end: end, newText: e.NewText})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].end > spans[i-1].start {
			return "", fmt.Errorf("overlapping edits at offset %d", spans[i].end)
		}
	}

	out := text
	for _, s := range spans {
		out = out[:s.start] + s.newText + out[s.end:]
	}
	return out, nil
}

// lineOffsets returns the byte offset of the start of each line.
func lineOffsets(text string) []int {
	offsets := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

// positionOffset converts a line/character position to a byte offset.
// Positions past the end of the document clamp to its length, matching
// how servers address "end of file" with an out-of-range line.
func positionOffset(text string, offsets []int, pos Position) (int, error) {
	if pos.Line < 0 || pos.Character < 0 {
		return 0, fmt.Errorf("negative position %d:%d", pos.Line, pos.Character)
	}
	if pos.Line >= len(offsets) {
		return len(text), nil
	}
	off := offsets[pos.Line] + pos.Character
	if off > len(text) {
		off = len(text)
	}
	return off, nil
}
