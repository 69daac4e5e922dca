// Package errors provides standardized error handling for datacollector components.
// It includes error classification, standard error variables, and helper functions
// for consistent error wrapping and classification across the toolkit.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// Source lifecycle
	ErrAlreadyStopped       = errors.New("component already stopped")
	ErrInvalidTransition    = errors.New("invalid lifecycle transition")
	ErrUnsupportedOperation = errors.New("operation not supported")
	ErrNoHandler            = errors.New("no message handler registered")

	// Brokers
	ErrNoConnection = errors.New("no connection available")

	// Reading and decoding
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")
	ErrUnknownFormat = errors.New("unknown data format")

	// URI resolution
	ErrUnsupportedScheme = errors.New("unsupported uri scheme")
	ErrNotFound          = errors.New("resource not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")

	// Configuration
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// sentinelClasses classify unwrapped sentinels. Checked in order.
var sentinelClasses = []struct {
	err   error
	class ErrorClass
}{
	{context.Canceled, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
	{ErrNoConnection, ErrorTransient},
	{ErrInvalidConfig, ErrorFatal},
	{ErrMissingConfig, ErrorFatal},
	{ErrAlreadyStopped, ErrorFatal},
	{ErrInvalidData, ErrorInvalid},
	{ErrParsingFailed, ErrorInvalid},
	{ErrUnknownFormat, ErrorInvalid},
	{ErrUnsupportedScheme, ErrorInvalid},
	{ErrUnsupportedOperation, ErrorInvalid},
}

// Message hints classify errors from drivers and the network stack that
// carry no sentinel. Transient hints win over fatal ones.
var (
	transientHints = []string{"timeout", "connection", "network", "temporary", "unavailable", "busy", "retry"}
	fatalHints     = []string{"fatal", "panic", "invalid config", "missing config", "out of memory", "disk full"}
)

// classOf returns the class of err and whether anything classified it.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}

	var (
		cfgErr   *ConfigurationError
		panicErr *PanicError
		ruleErr  *RuleEvaluationError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &panicErr):
		return ErrorFatal, true
	case errors.As(err, &ruleErr):
		return ErrorInvalid, true
	}

	for _, s := range sentinelClasses {
		if errors.Is(err, s.err) {
			return s.class, true
		}
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, transientHints) {
		return ErrorTransient, true
	}
	if containsAny(msg, fatalHints) {
		return ErrorFatal, true
	}
	return ErrorTransient, false
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is worth retrying. Unclassified errors
// are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	class, ok := classOf(err)
	return ok && class == ErrorTransient
}

// IsFatal reports whether err should stop processing.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	class, ok := classOf(err)
	return ok && class == ErrorFatal
}

// IsInvalid reports whether err was caused by bad input.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	class, ok := classOf(err)
	return ok && class == ErrorInvalid
}

// Classify returns the class of err. Unknown errors are transient so
// callers may retry them.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	class, _ := classOf(err)
	return class
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}
