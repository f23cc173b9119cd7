package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

const maxStackDepth = 10

// Error carries an ErrorCode through the error chain.
type Error struct {
	Code ErrorCode
	// Message overrides the code's default text when set.
	Message string
	Details map[string]interface{}
	Err     error
	Stack   string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.Message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError is called by the exported constructors only, so the stack skips both frames.
func newError(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Details: make(map[string]interface{}),
		Stack:   callerStack(3),
	}
}

// New creates an Error with the code's default message.
func New(code ErrorCode) *Error {
	return newError(code, code.Message(), nil)
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return newError(code, fmt.Sprintf(format, args...), nil)
}

// Wrap attaches code to err, keeping err's text. A nil err stays nil.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	return newError(code, err.Error(), err)
}

// Wrapf attaches code and a formatted message to err. A nil err stays nil.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return newError(code, fmt.Sprintf(format, args...), err)
}

// SystemError marks an infrastructure failure. The message shown to users stays
// generic; the cause is kept in the chain for logs.
func SystemError(err error, format string, args ...interface{}) *Error {
	return newError(JudgeSystemError, fmt.Sprintf(format, args...), err)
}

// BadRequest creates an InvalidParams error.
func BadRequest(msg string) *Error {
	return newError(InvalidParams, msg, nil)
}

// ValidationError reports a rejected field.
func ValidationError(field, reason string) *Error {
	return newError(ValidationFailed, ValidationFailed.Message(), nil).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	e.Message = fmt.Sprintf(format, args...)
	return e
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GetCode returns the code of the outermost *Error in the chain.
// Errors without one map to InternalServerError.
func GetCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	if e, ok := asError(err); ok {
		return e.Code
	}
	return InternalServerError
}

// GetError returns the outermost *Error in the chain, wrapping foreign errors
// as InternalServerError.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := asError(err); ok {
		return e
	}
	return Wrap(err, InternalServerError)
}

// Is reports whether the outermost *Error in the chain has code.
func Is(err error, code ErrorCode) bool {
	e, ok := asError(err)
	return ok && e.Code == code
}

func asError(err error) (*Error, bool) {
	var e *Error
	if err == nil || !stderrors.As(err, &e) {
		return nil, false
	}
	return e, true
}

func callerStack(skip int) string {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	if n == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&b, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
		}
		if !more {
			return b.String()
		}
	}
}
