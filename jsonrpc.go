package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID identifies a JSON-RPC request. The protocol allows either a string or an integer, and the
// value must be echoed back with the same JSON type, so ID remembers which one it was decoded from.
// The zero value is the empty string ID.
type ID struct {
	str   string
	num   int64
	isNum bool
}

// JSONRPCMessage represents a JSON-RPC 2.0 message used for communication in the MCP protocol.
// It can represent either a request, response, or notification depending on which fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and either Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
//
// The engine never sends this type directly, it is the decoded shape of any frame and is mostly
// useful when reading what a transport delivered.
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs, nil for notifications and unparsable requests
	ID *ID `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *Error `json:"error,omitempty"`
}

// Request is a validated JSON-RPC request carrying a non-null id. Params stays raw so the handler
// decodes it into its own parameter type and the key order of the original payload is untouched.
type Request struct {
	ID        ID
	Method    string
	Params    json.RawMessage
	SessionID string
}

// Message is an outbound JSON-RPC frame. The set is closed: Response, ErrorResponse and
// Notification.
type Message interface {
	json.Marshaler
	isMessage()
}

// Response is the successful terminal frame of a request. Result may be any value that marshals to
// a JSON object; a nil or empty result is sent as {}.
type Response struct {
	ID     ID
	Result any
}

// ErrorResponse is the failed terminal frame of a request. ID is nil when the request that caused
// the error could not be parsed far enough to recover its id.
type ErrorResponse struct {
	ID    *ID
	Error *Error
}

// Notification is a frame without id. Handlers emit them before the terminal frame of a request.
type Notification struct {
	Method string
	Params any
}

// Error represents an error object in the JSON-RPC 2.0 protocol. It implements error so handlers
// can return it directly, and the engine sends its code and message as is.
type Error struct {
	// Code indicates the error type that occurred.
	// Must use standard JSON-RPC error codes or custom codes outside the reserved range.
	Code int `json:"code"`

	// Message provides a short description of the error.
	// Should be limited to a concise single sentence.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// The value is unstructured and may be omitted.
	Data map[string]any `json:"data,omitempty"`
}

type responseFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result"`
}

type errorFrame struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *ID    `json:"id"`
	Error   *Error `json:"error"`
}

type notificationFrame struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// StringID returns an ID that serializes as a JSON string.
func StringID(s string) ID {
	return ID{str: s}
}

// IntID returns an ID that serializes as a JSON integer.
func IntID(n int64) ID {
	return ID{num: n, isNum: true}
}

// IsInt reports whether the id was an integer on the wire.
func (id ID) IsInt() bool {
	return id.isNum
}

func (id ID) String() string {
	if id.isNum {
		return strconv.FormatInt(id.num, 10)
	}
	return id.str
}

// MarshalJSON implements json.Marshaler, keeping the JSON type the id was created with.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isNum {
		return []byte(strconv.FormatInt(id.num, 10)), nil
	}
	return json.Marshal(id.str)
}

// UnmarshalJSON implements json.Unmarshaler. Only strings and integers are accepted, null and
// fractional numbers are rejected.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty id")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	case 'n':
		return fmt.Errorf("id must not be null")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	num, ok := v.(json.Number)
	if !ok {
		return fmt.Errorf("invalid id type: %T", v)
	}
	n, err := strconv.ParseInt(num.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("id must be an integer: %s", num)
	}
	*id = IntID(n)
	return nil
}

// ParseRequest decodes and validates one JSON-RPC request. Malformed JSON fails with a parse error
// (-32700), any envelope violation fails with an invalid request error (-32600). The returned error
// is always an *Error.
//
// Notifications must be filtered out before calling ParseRequest, a payload without id is
// reported as an invalid request here.
func ParseRequest(raw []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		if json.Valid(raw) {
			return Request{}, NewError(CodeInvalidRequest, "request must be a JSON object")
		}
		return Request{}, NewError(CodeParseError, errMsgInvalidJSON)
	}
	return parseRequestFields(fields)
}

func parseRequestFields(fields map[string]json.RawMessage) (Request, error) {
	var version string
	if err := json.Unmarshal(fields["jsonrpc"], &version); err != nil || version != JSONRPCVersion {
		return Request{}, NewError(CodeInvalidRequest, "jsonrpc version must be \"2.0\"")
	}

	rawID, ok := fields["id"]
	if !ok {
		return Request{}, NewError(CodeInvalidRequest, "missing request id")
	}
	var id ID
	if err := id.UnmarshalJSON(rawID); err != nil {
		return Request{}, NewError(CodeInvalidRequest, fmt.Sprintf("invalid request id: %s", err))
	}

	var method string
	rawMethod, ok := fields["method"]
	if !ok {
		return Request{}, NewError(CodeInvalidRequest, "missing method")
	}
	if err := json.Unmarshal(rawMethod, &method); err != nil || method == "" {
		return Request{}, NewError(CodeInvalidRequest, "method must be a non-empty string")
	}

	params := fields["params"]
	if len(params) > 0 {
		trimmed := bytes.TrimSpace(params)
		switch {
		case bytes.Equal(trimmed, []byte("null")):
			params = nil
		case len(trimmed) == 0 || trimmed[0] != '{':
			return Request{}, NewError(CodeInvalidRequest, "params must be an object")
		}
	}

	return Request{ID: id, Method: method, Params: params}, nil
}

// NewError creates a protocol error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithData returns a copy of the error carrying the given diagnostic data.
func (e *Error) WithData(data map[string]any) *Error {
	c := *e
	c.Data = data
	return &c
}

func (e *Error) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s, data %v", e.Code, e.Message, e.Data)
}

// MarshalJSON implements json.Marshaler. The result member is always a JSON object.
func (r Response) MarshalJSON() ([]byte, error) {
	result, err := marshalResult(r.Result)
	if err != nil {
		return nil, err
	}
	return json.Marshal(responseFrame{JSONRPC: JSONRPCVersion, ID: r.ID, Result: result})
}

// MarshalJSON implements json.Marshaler. A nil ID is sent as null.
func (r ErrorResponse) MarshalJSON() ([]byte, error) {
	e := r.Error
	if e == nil {
		e = NewError(CodeInternalError, errMsgInternalError)
	}
	return json.Marshal(errorFrame{JSONRPC: JSONRPCVersion, ID: r.ID, Error: e})
}

// MarshalJSON implements json.Marshaler.
func (n Notification) MarshalJSON() ([]byte, error) {
	return json.Marshal(notificationFrame{JSONRPC: JSONRPCVersion, Method: n.Method, Params: n.Params})
}

func (Response) isMessage()      {}
func (ErrorResponse) isMessage() {}
func (Notification) isMessage()  {}

func marshalResult(result any) (json.RawMessage, error) {
	if result == nil {
		return json.RawMessage("{}"), nil
	}
	bs, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	trimmed := bytes.TrimSpace(bs)
	switch {
	case bytes.Equal(trimmed, []byte("null")), bytes.Equal(trimmed, []byte("[]")):
		return json.RawMessage("{}"), nil
	case len(trimmed) == 0 || trimmed[0] != '{':
		return nil, fmt.Errorf("result must be a JSON object, got %s", trimmed)
	}
	return trimmed, nil
}

func isTerminal(msg Message) bool {
	switch msg.(type) {
	case Response, *Response, ErrorResponse, *ErrorResponse:
		return true
	default:
		return false
	}
}

// withRequestID pins a terminal frame to the id of the request it answers.
func withRequestID(msg Message, id ID) Message {
	switch m := msg.(type) {
	case Response:
		m.ID = id
		return m
	case *Response:
		return Response{ID: id, Result: m.Result}
	case ErrorResponse:
		m.ID = &id
		return m
	case *ErrorResponse:
		return ErrorResponse{ID: &id, Error: m.Error}
	default:
		return msg
	}
}
