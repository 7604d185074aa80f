package realtime

import (
	"errors"
	"fmt"
)

// Error kinds. Test with errors.Is.
var (
	ErrNotOpen       = errors.New("connection not open")
	ErrNotIdentified = errors.New("join a room first")
	ErrRoomNotFound  = errors.New("room not found")
	ErrPersistence   = errors.New("storage failure")
	ErrValidation    = errors.New("invalid input")
)

// Error is returned by every engine operation. Reason is the one-line
// notice shown to the originating client.
type Error struct {
	Kind   error
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, reason string, err error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}

func validationError(op, format string, args ...any) *Error {
	return newError(ErrValidation, op, fmt.Sprintf(format, args...), nil)
}

// Reason returns the client-facing text for err.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "internal error"
}
