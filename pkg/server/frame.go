package server

import (
	"errors"

	jsoniter "github.com/json-iterator/go"

	"github.com/vango-dev/observe/pkg/observe"
	"github.com/vango-dev/observe/pkg/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client operations.
const (
	OpRead        = "read"
	OpWrite       = "write"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpKeys        = "keys"
)

// Server operations.
const (
	OpHello  = "hello"
	OpResult = "result"
	OpChange = "change"
	OpError  = "error"
)

// Error codes carried by error frames.
const (
	CodeBadFrame      = "bad_frame"
	CodeUnknownOp     = "unknown_op"
	CodeUnknownKey    = "unknown_key"
	CodeReadOnly      = "read_only"
	CodeDecode        = "decode"
	CodeEncode        = "encode"
	CodeClosed        = "closed"
	CodeBadHandle     = "bad_handle"
	CodeSessionClosed = "session_closed"
	CodeUnavailable   = "unavailable"
	CodeInternal      = "internal"
)

// ClientFrame is a request sent by the client. ID is echoed in the reply.
type ClientFrame struct {
	Op     string              `json:"op"`
	ID     string              `json:"id,omitempty"`
	Key    string              `json:"key,omitempty"`
	Value  jsoniter.RawMessage `json:"value,omitempty"`
	Handle string              `json:"handle,omitempty"`
}

// ServerFrame is a reply or push sent to the client.
type ServerFrame struct {
	Op      string              `json:"op"`
	ID      string              `json:"id,omitempty"`
	Session string              `json:"session,omitempty"`
	Key     string              `json:"key,omitempty"`
	Keys    []string            `json:"keys,omitempty"`
	Value   jsoniter.RawMessage `json:"value,omitempty"`
	Old     jsoniter.RawMessage `json:"old,omitempty"`
	New     jsoniter.RawMessage `json:"new,omitempty"`
	Handle  string              `json:"handle,omitempty"`
	Code    string              `json:"code,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// errorFrame builds the error reply for req.
func errorFrame(req *ClientFrame, code string, err error) *ServerFrame {
	f := &ServerFrame{Op: OpError, Code: code, Error: err.Error()}
	if req != nil {
		f.ID = req.ID
		f.Key = req.Key
	}
	return f
}

// errorCode maps session and node errors to frame codes.
func errorCode(err error) string {
	var derr *session.DecodeError
	var eerr *session.EncodeError
	switch {
	case errors.Is(err, session.ErrUnknownKey):
		return CodeUnknownKey
	case errors.Is(err, session.ErrReadOnly):
		return CodeReadOnly
	case errors.Is(err, session.ErrSessionClosed):
		return CodeSessionClosed
	case errors.Is(err, session.ErrTooManySessions), errors.Is(err, session.ErrManagerStopped):
		return CodeUnavailable
	case errors.As(err, &derr):
		return CodeDecode
	case errors.As(err, &eerr):
		return CodeEncode
	case errors.Is(err, observe.ErrClosed):
		return CodeClosed
	default:
		return CodeInternal
	}
}
