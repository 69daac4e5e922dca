package errors

import (
	"fmt"
	"runtime/debug"
)

// ConfigurationError reports a setup-time failure such as an unparsable
// schedule expression or a malformed source URI. It is always fatal and is
// returned to the caller that started the failing operation.
type ConfigurationError struct {
	Op  string
	Err error
}

// NewConfigurationError builds a ConfigurationError for op.
func NewConfigurationError(op string, err error) *ConfigurationError {
	return &ConfigurationError{Op: op, Err: err}
}

func (e *ConfigurationError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is matches ErrInvalidConfig so callers can test configuration failures
// without a type assertion.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// RuleEvaluationError wraps any failure raised while evaluating the rule
// stored under Key. Evaluation stops at the first such error.
type RuleEvaluationError struct {
	Key string
	Err error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("error running rule '%s': %v", e.Key, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error {
	return e.Err
}

// DispatchError records a handler failure at a source's dispatch boundary.
// It is logged and counted, never returned to the event source.
type DispatchError struct {
	Component string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s dispatch failed: %v", e.Component, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// UnsupportedOperation returns an error that matches ErrUnsupportedOperation
// and names the component and operation that refused.
func UnsupportedOperation(component, operation string) error {
	return &ClassifiedError{
		Class:     ErrorInvalid,
		Err:       ErrUnsupportedOperation,
		Message:   fmt.Sprintf("%s.%s: %v", component, operation, ErrUnsupportedOperation),
		Component: component,
		Operation: operation,
	}
}

// PanicError carries a recovered panic value and the stack at recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recover converts a value returned by recover() into an error. It returns
// nil when r is nil.
func Recover(r any) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return &PanicError{Value: err, Stack: debug.Stack()}
	}
	return &PanicError{Value: r, Stack: debug.Stack()}
}
