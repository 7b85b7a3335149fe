package rpc

import (
	"encoding/json"
	"fmt"
)

// Request represents a JSON-RPC request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification represents a JSON-RPC notification (no id, no reply).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest builds a request for the given id and method.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// NewNotification builds a notification for the given method.
func NewNotification(method string, params any) *Request {
	return &Request{JSONRPC: "2.0", Method: method, Params: params}
}

// MessageKind identifies what a decoded frame turned out to be.
type MessageKind int

const (
	// KindResponse is a reply to an outstanding request.
	KindResponse MessageKind = iota
	// KindNotification is a server-initiated message with no id.
	KindNotification
)

// String returns a human-readable kind name.
func (k MessageKind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Message is the tagged union produced by DecodeMessage. Exactly one of
// Response and Notification is non-nil, selected by Kind.
type Message struct {
	Kind         MessageKind
	Response     *Response
	Notification *Notification
}

// DecodeMessage classifies a raw frame as a response or a notification.
// A frame that is neither (no id, no method, or undecodable JSON) is a
// protocol violation and returns an error.
func DecodeMessage(data []byte) (Message, error) {
	var probe struct {
		ID     *int64          `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}

	if probe.ID != nil && (probe.Result != nil || probe.Error != nil) {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return Message{}, fmt.Errorf("decode response: %w", err)
		}
		return Message{Kind: KindResponse, Response: &resp}, nil
	}

	if probe.Method != "" {
		var notif Notification
		if err := json.Unmarshal(data, &notif); err != nil {
			return Message{}, fmt.Errorf("decode notification: %w", err)
		}
		return Message{Kind: KindNotification, Notification: &notif}, nil
	}

	return Message{}, fmt.Errorf("frame is neither response nor notification: %w", ErrMalformedMessage)
}

// Error represents a JSON-RPC error object from the server.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)
