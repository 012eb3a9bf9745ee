// Package errors provides structured, wrapped errors for consistent error
// handling and logging across the resolution core.
package errors

import (
	"fmt"
	"strings"
)

// OperationError is a structured error describing a failed operation, the
// component that owns it, the resource involved, and the underlying cause.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString("failed to ")
	b.WriteString(e.Operation)
	if e.Component != "" {
		b.WriteString(", component: ")
		b.WriteString(e.Component)
	}
	if e.Resource != "" {
		b.WriteString(", resource: ")
		b.WriteString(e.Resource)
	}
	if e.Cause != nil {
		b.WriteString(", cause: ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *OperationError) Unwrap() error { return e.Cause }

// FailedTo builds a simple "failed to <action>[: <cause>]" error.
func FailedTo(action string, cause error) error {
	if cause == nil {
		return fmt.Errorf("failed to %s", action)
	}
	return fmt.Errorf("failed to %s: %w", action, cause)
}

// FailedToWithDetails builds an *OperationError with component and resource.
func FailedToWithDetails(action, component, resource string, cause error) error {
	return &OperationError{Operation: action, Component: component, Resource: resource, Cause: cause}
}

// Wrapf wraps err with a formatted message, returning nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, err)
}

// DatabaseError wraps a storage-layer failure.
func DatabaseError(operation string, cause error) error {
	return &OperationError{Operation: operation, Component: "database", Cause: cause}
}

// NetworkError wraps a network-layer failure against a specific endpoint.
func NetworkError(operation, endpoint string, cause error) error {
	return &OperationError{Operation: operation, Component: "network", Resource: endpoint, Cause: cause}
}

// ValidationError reports a field-level validation failure.
func ValidationError(field, reason string) error {
	return fmt.Errorf("validation failed for field %s: %s", field, reason)
}

// ConfigurationError reports a bad configuration setting.
func ConfigurationError(setting, reason string) error {
	return fmt.Errorf("configuration error for setting %s: %s", setting, reason)
}

// TimeoutError reports an operation that exceeded its deadline.
func TimeoutError(operation, duration string) error {
	return fmt.Errorf("timeout while %s after %s", operation, duration)
}

// AuthenticationError reports a failed authentication attempt.
func AuthenticationError(reason string) error {
	return fmt.Errorf("authentication failed: %s", reason)
}

// AuthorizationError reports an authorization failure for an action/resource.
func AuthorizationError(action, resource string) error {
	return fmt.Errorf("authorization failed: insufficient permissions to %s %s", action, resource)
}

// ParseError reports a parsing failure for a named format.
func ParseError(subject, format string, cause error) error {
	return &OperationError{Operation: fmt.Sprintf("parse %s as %s", subject, format), Component: "parser", Cause: cause}
}

// retryableSubstrings are fragments that, when present in an error message,
// indicate the failure is likely transient and worth retrying.
var retryableSubstrings = []string{
	"timeout",
	"connection refused",
	"unavailable",
	"temporary",
	"reset by peer",
	"broken pipe",
	"deadline exceeded",
}

// IsRetryable reports whether err looks like a transient failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Chain combines multiple non-nil errors into one, or returns nil if none
// are non-nil, or a new error with that error's message if only one is
// non-nil. The result does not wrap the inputs.
func Chain(errs ...error) error {
	var nonNil []string
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e.Error())
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%s", nonNil[0])
	default:
		return fmt.Errorf("multiple errors: %s", strings.Join(nonNil, "; "))
	}
}
