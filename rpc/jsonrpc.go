package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the required JSON-RPC version string.
const Version = "2.0"

// Methods the gateway issues against backends.
const (
	MethodListTools = "tools/list"
	MethodCallTool  = "tools/call"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a JSON-RPC 2.0 request the gateway sends to a backend.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// CallParams is the params object for tools/call.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// NewListToolsRequest builds a tools/list request with empty params.
func NewListToolsRequest(id int64) *Request {
	return &Request{
		JSONRPC: Version,
		ID:      id,
		Method:  MethodListTools,
		Params:  json.RawMessage(`{}`),
	}
}

// NewCallToolRequest builds a tools/call request for the named tool.
// A nil arguments map is sent as an empty object, matching what
// backends expect for argument-less tools.
func NewCallToolRequest(id int64, tool string, arguments map[string]any) (*Request, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	params, err := json.Marshal(CallParams{Name: tool, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("marshal tools/call params: %w", err)
	}
	return &Request{
		JSONRPC: Version,
		ID:      id,
		Method:  MethodCallTool,
		Params:  params,
	}, nil
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result
// and Error is set on a well-formed response; the gateway forwards
// whichever the backend produced without interpreting it.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ResponseID     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsError reports whether the envelope carries an error object.
func (r *Response) IsError() bool {
	return r != nil && r.Error != nil
}

// ResponseID is the id of a response line. The gateway only ever emits
// numeric ids, but backends may answer with string ids (or null); those
// parse cleanly and simply never match a pending numeric id.
type ResponseID struct {
	Num *int64
	Str *string
}

// Matches reports whether the response id equals the numeric request id.
func (r *ResponseID) Matches(id int64) bool {
	return r != nil && r.Num != nil && *r.Num == id
}

// MarshalJSON implements json.Marshaler.
func (r *ResponseID) MarshalJSON() ([]byte, error) {
	switch {
	case r == nil:
		return []byte("null"), nil
	case r.Num != nil:
		return json.Marshal(*r.Num)
	case r.Str != nil:
		return json.Marshal(*r.Str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ResponseID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		r.Num = &n
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.Str = &s
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	return fmt.Errorf("invalid response id: %s", data)
}

// String returns the id for logging.
func (r *ResponseID) String() string {
	switch {
	case r == nil:
		return "null"
	case r.Num != nil:
		return fmt.Sprintf("%d", *r.Num)
	case r.Str != nil:
		return *r.Str
	default:
		return "null"
	}
}

// NumericID builds a ResponseID from a request id.
func NumericID(id int64) *ResponseID {
	return &ResponseID{Num: &id}
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewErrorResponse synthesizes an error envelope for the given request
// id. Process adapters use this to surface timeouts and transport
// failures as first-class JSON-RPC outcomes instead of exceptions.
func NewErrorResponse(id int64, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      NumericID(id),
		Error:   &Error{Code: code, Message: message},
	}
}
