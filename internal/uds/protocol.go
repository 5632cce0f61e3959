// Package uds implements the Unix Domain Socket IPC between the psstudio CLI and daemon.
package uds

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/msageha/psstudio/internal/model"
)

const ProtocolVersion = 1

// DefaultSocketName is the socket filename inside .psstudio/.
const DefaultSocketName = "daemon.sock"

// maxFrameSize bounds a single frame; solutions can be large.
const maxFrameSize = 32 * 1024 * 1024

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
	Field   string `json:"field,omitempty"`
}

func (e *ErrorDetail) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	ErrCodeProtocolMismatch     = "PROTOCOL_MISMATCH"
	ErrCodeUnknownCommand       = "UNKNOWN_COMMAND"
	ErrCodeInternal             = "INTERNAL_ERROR"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodePrecondition         = "PRECONDITION_FAILED"
	ErrCodeConflict             = "CONFLICT"
	ErrCodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	ErrCodeRemoteNetwork        = "REMOTE_NETWORK_ERROR"
	ErrCodeRemoteServer         = "REMOTE_SERVER_ERROR"
	ErrCodeCancelled            = "CANCELLED"
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

// DecodeParams unmarshals the request parameters into v. Missing params leave v as is.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(r.Params))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return model.ValidationError{Field: "params", Message: fmt.Sprintf("malformed parameters: %v", err)}
	}
	return nil
}

func SuccessResponse(data any) *Response {
	resp := &Response{Success: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return ErrorResponse(ErrCodeInternal, fmt.Sprintf("marshal response: %v", err))
		}
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

// ErrorFrom classifies err into a response code so the CLI can tell bad input from
// a failing solver.
func ErrorFrom(err error) *Response {
	var (
		ve    model.ValidationError
		ves   *model.ValidationErrors
		pe    *model.PreconditionError
		se    *model.StateError
		re    *model.RemoteError
		field string
		code  = ErrCodeInternal
	)
	switch {
	case errors.As(err, &ves):
		// A list names a field only when it holds exactly one problem.
		code = ErrCodeValidation
		if len(ves.Errors) == 1 {
			field = ves.Errors[0].Field
		}
	case errors.As(err, &ve):
		code, field = ErrCodeValidation, ve.Field
	case errors.Is(err, model.ErrConfirmationRequired):
		code = ErrCodeConfirmationRequired
	case errors.Is(err, model.ErrSolveInFlight), errors.Is(err, model.ErrEditInProgress):
		code = ErrCodeConflict
	case errors.Is(err, context.Canceled):
		code = ErrCodeCancelled
	case errors.As(err, &pe):
		code = ErrCodePrecondition
	case errors.As(err, &se):
		code = ErrCodeNotFound
	case errors.As(err, &re):
		code = ErrCodeRemoteServer
		if re.Kind == model.RemoteNetwork {
			code = ErrCodeRemoteNetwork
		}
	}
	resp := ErrorResponse(code, err.Error())
	resp.Error.Field = field
	return resp
}

// WriteFrame writes a length-prefixed JSON frame to the connection.
// Format: [4-byte BigEndian length][JSON payload]
func WriteFrame(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}

	if err := binary.Write(conn, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := io.Copy(conn, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads a length-prefixed JSON frame from the connection.
func ReadFrame(conn net.Conn, v any) error {
	var length uint32
	if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	if length > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}
