package tool

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	ErrToolNotFound  = errors.New("tool: not found")
	ErrDuplicateTool = errors.New("tool: duplicate registration")
	ErrInvalidTool   = errors.New("tool: invalid tool")
)

// NotFoundError reports an execution request for an unregistered tool.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrToolNotFound }

// MissingRequiredParameterError reports a required parameter with no
// matching supplied key.
type MissingRequiredParameterError struct {
	Name      string
	Available []string
}

func (e *MissingRequiredParameterError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("missing required parameter %q (no arguments supplied)", e.Name)
	}
	return fmt.Sprintf("missing required parameter %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// ParameterConversionError reports a supplied value that cannot be coerced
// to the declared type.
type ParameterConversionError struct {
	Param    string
	Value    string
	Expected string
}

func (e *ParameterConversionError) Error() string {
	return fmt.Sprintf("parameter %q: cannot convert %q to %s", e.Param, e.Value, e.Expected)
}

// BindingError aggregates every failure of a single bind.
type BindingError struct {
	Tool   string
	Errors []error
}

func (e *BindingError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("tool %s: invalid arguments: %s", e.Tool, strings.Join(msgs, "; "))
}

func (e *BindingError) Unwrap() []error { return e.Errors }

// ExecutionError wraps a failure raised by a tool body, including panics.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is an unknown-tool failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrToolNotFound)
}

// IsBinding reports whether err is an argument binding failure.
func IsBinding(err error) bool {
	var be *BindingError
	return errors.As(err, &be)
}
