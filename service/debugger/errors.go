package debugger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dapbridge/dapbridge/service/api"
	"github.com/dapbridge/dapbridge/service/dap"
)

// Kind classifies the errors returned by the session bridge.
type Kind string

const (
	AlreadyAttached      Kind = "AlreadyAttached"
	AdapterSpawnFailed   Kind = "AdapterSpawnFailed"
	PermissionDenied     Kind = "PermissionDenied"
	InvalidState         Kind = "InvalidState"
	NoStoppedThread      Kind = "NoStoppedThread"
	NotStopped           Kind = "NotStopped"
	InvalidHandle        Kind = "InvalidHandle"
	InvalidArgument      Kind = "InvalidArgument"
	Timeout              Kind = "TimeoutError"
	AdapterError         Kind = "AdapterError"
	AdapterProtocolError Kind = "AdapterProtocolError"
	SnapshotError        Kind = "SnapshotError"
	Internal             Kind = "Internal"
)

// Error is returned by every Manager operation that fails.
type Error struct {
	Kind Kind
	Msg  string
	// Step names the snapshot step that failed, if any.
	Step string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Step != "" {
		msg = fmt.Sprintf("%s (step: %s)", msg, e.Step)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind, so that
// errors.Is(err, ErrNotStopped) holds for every NotStopped error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Err == nil && t.Step == "" && t.Kind == e.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrAlreadyAttached      = &Error{Kind: AlreadyAttached}
	ErrAdapterSpawnFailed   = &Error{Kind: AdapterSpawnFailed}
	ErrPermissionDenied     = &Error{Kind: PermissionDenied}
	ErrInvalidState         = &Error{Kind: InvalidState}
	ErrNoStoppedThread      = &Error{Kind: NoStoppedThread}
	ErrNotStopped           = &Error{Kind: NotStopped}
	ErrInvalidHandle        = &Error{Kind: InvalidHandle}
	ErrInvalidArgument      = &Error{Kind: InvalidArgument}
	ErrTimeout              = &Error{Kind: Timeout}
	ErrAdapterError         = &Error{Kind: AdapterError}
	ErrAdapterProtocolError = &Error{Kind: AdapterProtocolError}
	ErrSnapshot             = &Error{Kind: SnapshotError}
	ErrInternal             = &Error{Kind: Internal}
)

// KindOf returns the kind of err, Internal for errors not produced by
// this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Failure returns the structured form of err reported to frontends.
func Failure(err error) *api.Failure {
	f := &api.Failure{Error: api.FailureError{Kind: string(KindOf(err)), Message: err.Error()}}
	var e *Error
	if errors.As(err, &e) {
		f.Error.Step = e.Step
	}
	return f
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// wrapAdapterError classifies an error returned by the adapter client
// while performing op.
func wrapAdapterError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var terr *dap.TimeoutError
	var rerr *dap.ResponseError
	var perr *dap.ProtocolError
	switch {
	case errors.As(err, &terr), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: Timeout, Msg: op, Err: err}
	case errors.As(err, &rerr):
		return &Error{Kind: AdapterError, Msg: op, Err: err}
	case errors.As(err, &perr), errors.Is(err, dap.ErrConnectionLost), errors.Is(err, dap.ErrClosed):
		return &Error{Kind: AdapterProtocolError, Msg: op, Err: err}
	case errors.Is(err, errSessionClosed):
		return &Error{Kind: InvalidState, Msg: op, Err: err}
	}
	return &Error{Kind: Internal, Msg: op, Err: err}
}

var errSessionClosed = errors.New("session detached")
