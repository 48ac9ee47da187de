package raikkonen

import (
	"errors"
	"fmt"
)

// Error represents a structured raikkonen error with operation and
// category context.
type Error struct {
	Op    string    // operation that failed (e.g., "negotiate", "parse", "enter_state")
	State string    // state name, if applicable ("" if not)
	Code  ErrorCode // high-level error category
	Inner error     // wrapped cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.State != "" {
		parts = append(parts, fmt.Sprintf("state=%s", e.State))
	}

	msg := string(e.Code)
	if e.Inner != nil {
		msg = e.Inner.Error()
	}

	if len(parts) > 0 {
		return fmt.Sprintf("raikkonen: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("raikkonen: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support keyed on error category.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode is a high-level error category, per the four-way taxonomy:
// protocol framing, bytecode validation, resource exhaustion, runtime.
type ErrorCode string

const (
	ErrProtocol ErrorCode = "protocol error"
	ErrBytecode ErrorCode = "bytecode error"
	ErrResource ErrorCode = "resource error"
	ErrRuntime  ErrorCode = "runtime error"
)

// ErrNoHandler is returned by EnterState when the calling state has no
// active handler list installed for the current schedule epoch.
var ErrNoHandler = errors.New("raikkonen: no handler installed for state")

// ErrUnknownState is returned by EnterState for a state id no RegisterState
// call ever produced.
var ErrUnknownState = errors.New("raikkonen: unknown state id")

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, inner error) *Error {
	return &Error{Op: op, Code: code, Inner: inner}
}

// NewStateError creates a new state-scoped structured error.
func NewStateError(op, state string, code ErrorCode, inner error) *Error {
	return &Error{Op: op, State: state, Code: code, Inner: inner}
}

// WrapError wraps an existing error with raikkonen op context, preserving
// the category of an already-structured inner error.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if re, ok := inner.(*Error); ok {
		return &Error{Op: op, State: re.State, Code: re.Code, Inner: re.Inner}
	}
	return &Error{Op: op, Code: ErrRuntime, Inner: inner}
}

// IsCode checks whether err is a structured Error matching code.
func IsCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
