// Package control implements the Unix socket protocol between the CLI
// and the runner.
package control

import (
	"encoding/json"
	"fmt"
)

const (
	// ProtocolVersion guards against a CLI and a runner from different
	// installs talking past each other.
	ProtocolVersion = 1

	// DefaultSocketName is the socket filename inside .baton/.
	DefaultSocketName = "baton.sock"
)

type Request struct {
	ProtocolVersion int             `json:"protocol_version"`
	Command         string          `json:"command"`
	Params          json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in failed responses. The CLI prints them
// verbatim, so scripts can branch on stable strings.
const (
	ErrCodeProtocolMismatch   = "PROTOCOL_MISMATCH"
	ErrCodeUnknownCommand     = "UNKNOWN_COMMAND"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodePreconditionFailed = "PRECONDITION_FAILED"
	ErrCodeEngineNotRunning   = "ENGINE_NOT_RUNNING"
	ErrCodeEngineError        = "ENGINE_ERROR"
	ErrCodeAlreadyRunning     = "ALREADY_RUNNING"
	ErrCodeTimeout            = "TIMEOUT"
)

func NewRequest(command string, params any) (*Request, error) {
	req := &Request{
		ProtocolVersion: ProtocolVersion,
		Command:         command,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}
	return req, nil
}

func SuccessResponse(data any) *Response {
	resp := &Response{Success: true}
	if data != nil {
		raw, _ := json.Marshal(data)
		resp.Data = raw
	}
	return resp
}

func ErrorResponse(code, message string) *Response {
	return &Response{
		Success: false,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// Decode unmarshals the response data into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("response has no data")
	}
	return json.Unmarshal(r.Data, v)
}
