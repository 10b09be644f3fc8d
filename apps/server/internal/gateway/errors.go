package gateway

import (
	"errors"

	"github.com/Nera26/pokerhub-sub001/apps/server/internal/room"
	"github.com/Nera26/pokerhub-sub001/holdem"
)

// Code is the machine-readable reason carried in server:Error frames.
type Code string

const (
	CodeMalformed    Code = "malformed"
	CodeUnauthorized Code = "unauthorized"
	CodeRateLimited  Code = "rate_limited"
	CodeRejected     Code = "rejected"
	CodeWorkerError  Code = "worker_error"
	CodeInternal     Code = "internal"
)

// Error is a protocol error reported to one client.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func newError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

var (
	ErrMalformed    = &Error{Code: CodeMalformed}
	ErrUnauthorized = &Error{Code: CodeUnauthorized}
	ErrRateLimited  = &Error{Code: CodeRateLimited}
	ErrRejected     = &Error{Code: CodeRejected}
	ErrWorkerError  = &Error{Code: CodeWorkerError}
)

// classify maps a worker or engine error onto a protocol error.
func classify(err error) *Error {
	var gerr *Error
	switch {
	case errors.As(err, &gerr):
		return gerr
	case holdem.IsMalformed(err):
		return newError(CodeMalformed, "malformed action", err)
	case errors.Is(err, holdem.ErrRejected):
		return newError(CodeRejected, "action rejected", err)
	case errors.Is(err, room.ErrWorkerFailed), errors.Is(err, room.ErrUnavailable), errors.Is(err, room.ErrClosed):
		return newError(CodeWorkerError, "room unavailable", err)
	default:
		return newError(CodeInternal, "internal error", err)
	}
}
