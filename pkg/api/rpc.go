package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// JSON-RPC 2.0 error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a JSON-RPC 2.0 request. A missing ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func invalidParams(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// isNotification reports whether the request expects no response
func (r *Request) isNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// MethodFunc handles one RPC method. Returning an *Error sets its code;
// any other error becomes an internal error.
type MethodFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Dispatcher routes JSON-RPC frames to registered methods
type Dispatcher struct {
	methods map[string]MethodFunc
	// observe is called once per handled request with the method and status
	observe func(method, status string)
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{methods: make(map[string]MethodFunc)}
}

// Register adds a method
func (d *Dispatcher) Register(name string, fn MethodFunc) {
	d.methods[name] = fn
}

// Methods returns the registered method names
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	return names
}

// HandleFrame decodes one frame and returns the encoded response, or nil
// for notifications
func (d *Dispatcher) HandleFrame(ctx context.Context, frame []byte) []byte {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		d.record("", "parse_error")
		return encode(Response{
			JSONRPC: "2.0",
			ID:      json.RawMessage("null"),
			Error:   &Error{Code: CodeParseError, Message: "Parse error: " + err.Error()},
		})
	}

	resp := d.Handle(ctx, &req)
	if resp == nil {
		return nil
	}
	return encode(*resp)
}

// Handle dispatches a decoded request
func (d *Dispatcher) Handle(ctx context.Context, req *Request) *Response {
	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		d.record(req.Method, "invalid_request")
		resp.Error = &Error{Code: CodeInvalidRequest, Message: "Invalid request: jsonrpc must be \"2.0\" and method is required"}
		return resp
	}

	fn, ok := d.methods[req.Method]
	if !ok {
		d.record(req.Method, "method_not_found")
		if req.isNotification() {
			return nil
		}
		resp.Error = &Error{Code: CodeMethodNotFound, Message: "Method not found: " + req.Method}
		return resp
	}

	result, err := fn(ctx, req.Params)
	if err != nil {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			rpcErr = &Error{Code: CodeInternalError, Message: err.Error()}
		}
		d.record(req.Method, errorStatus(rpcErr.Code))
		resp.Error = rpcErr
	} else {
		d.record(req.Method, "ok")
		resp.Result = result
	}

	if req.isNotification() {
		return nil
	}
	return resp
}

func (d *Dispatcher) record(method, status string) {
	if d.observe == nil {
		return
	}
	if _, ok := d.methods[method]; !ok {
		method = "unknown"
	}
	d.observe(method, status)
}

func errorStatus(code int) string {
	switch code {
	case CodeParseError:
		return "parse_error"
	case CodeInvalidRequest:
		return "invalid_request"
	case CodeMethodNotFound:
		return "method_not_found"
	case CodeInvalidParams:
		return "invalid_params"
	default:
		return "internal_error"
	}
}

func encode(resp Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(Response{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error:   &Error{Code: CodeInternalError, Message: "failed to encode result"},
		})
	}
	return data
}
