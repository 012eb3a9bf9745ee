package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestOperationError(t *testing.T) {
	tests := []struct {
		name     string
		err      *OperationError
		expected string
	}{
		{
			name: "full error",
			err: &OperationError{
				Operation: "connect to database",
				Component: "postgres",
				Resource:  "entry_table",
				Cause:     fmt.Errorf("connection timeout"),
			},
			expected: "failed to connect to database, component: postgres, resource: entry_table, cause: connection timeout",
		},
		{
			name: "minimal error",
			err: &OperationError{
				Operation: "parse config",
				Cause:     fmt.Errorf("invalid yaml"),
			},
			expected: "failed to parse config, cause: invalid yaml",
		},
		{
			name: "no cause",
			err: &OperationError{
				Operation: "validate input",
				Component: "validator",
			},
			expected: "failed to validate input, component: validator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("OperationError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestOperationError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := &OperationError{Operation: "test", Cause: cause}

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("OperationError.Unwrap() = %v, want %v", unwrapped, cause)
	}

	errNoCause := &OperationError{Operation: "test"}
	if unwrapped := errNoCause.Unwrap(); unwrapped != nil {
		t.Errorf("OperationError.Unwrap() with no cause = %v, want nil", unwrapped)
	}
}

func TestFailedTo(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		cause    error
		expected string
	}{
		{"with cause", "connect to provider", fmt.Errorf("connection refused"), "failed to connect to provider: connection refused"},
		{"without cause", "start dispatcher", nil, "failed to start dispatcher"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FailedTo(tt.action, tt.cause)
			if err.Error() != tt.expected {
				t.Errorf("FailedTo() = %q, want %q", err.Error(), tt.expected)
			}
		})
	}
}

func TestFailedToWithDetails(t *testing.T) {
	cause := fmt.Errorf("timeout")
	err := FailedToWithDetails("query entries", "database", "entries_table", cause)

	opErr, ok := err.(*OperationError)
	if !ok {
		t.Fatalf("FailedToWithDetails() should return *OperationError, got %T", err)
	}
	if opErr.Operation != "query entries" || opErr.Component != "database" || opErr.Resource != "entries_table" || opErr.Cause != cause {
		t.Errorf("FailedToWithDetails() = %+v, unexpected fields", opErr)
	}
}

func TestWrapf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		format   string
		args     []interface{}
		expected string
	}{
		{"wrap with message", fmt.Errorf("original error"), "additional context: %s", []interface{}{"test"}, "additional context: test: original error"},
		{"nil error", nil, "should not wrap", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Wrapf(tt.err, tt.format, tt.args...)
			if tt.err == nil {
				if result != nil {
					t.Errorf("Wrapf(nil, ...) = %v, want nil", result)
				}
				return
			}
			if result.Error() != tt.expected {
				t.Errorf("Wrapf() = %q, want %q", result.Error(), tt.expected)
			}
		})
	}
}

func TestDatabaseError(t *testing.T) {
	err := DatabaseError("insert record", fmt.Errorf("connection lost"))
	if !strings.Contains(err.Error(), "failed to insert record") || !strings.Contains(err.Error(), "database") {
		t.Errorf("DatabaseError() = %q, missing expected substrings", err.Error())
	}
}

func TestNetworkError(t *testing.T) {
	err := NetworkError("connect", "https://provider.example.com", fmt.Errorf("timeout"))
	for _, want := range []string{"failed to connect", "network", "https://provider.example.com"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("NetworkError() = %q, want substring %q", err.Error(), want)
		}
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("description", "exceeds 10000 characters")
	want := "validation failed for field description: exceeds 10000 characters"
	if err.Error() != want {
		t.Errorf("ValidationError() = %q, want %q", err.Error(), want)
	}
}

func TestConfigurationError(t *testing.T) {
	err := ConfigurationError("retriever.threshold", "must be in [0,1]")
	want := "configuration error for setting retriever.threshold: must be in [0,1]"
	if err.Error() != want {
		t.Errorf("ConfigurationError() = %q, want %q", err.Error(), want)
	}
}

func TestTimeoutError(t *testing.T) {
	err := TimeoutError("waiting for provider response", "30s")
	want := "timeout while waiting for provider response after 30s"
	if err.Error() != want {
		t.Errorf("TimeoutError() = %q, want %q", err.Error(), want)
	}
}

func TestAuthenticationError(t *testing.T) {
	err := AuthenticationError("invalid API key")
	want := "authentication failed: invalid API key"
	if err.Error() != want {
		t.Errorf("AuthenticationError() = %q, want %q", err.Error(), want)
	}
}

func TestAuthorizationError(t *testing.T) {
	err := AuthorizationError("resolve", "incident records")
	want := "authorization failed: insufficient permissions to resolve incident records"
	if err.Error() != want {
		t.Errorf("AuthorizationError() = %q, want %q", err.Error(), want)
	}
}

func TestParseError(t *testing.T) {
	err := ParseError("model completion", "JSON", fmt.Errorf("unexpected character"))
	if !strings.Contains(err.Error(), "parse model completion as JSON") {
		t.Errorf("ParseError() = %q, missing expected substring", err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"timeout error", fmt.Errorf("request timeout"), true},
		{"connection refused", fmt.Errorf("connection refused by server"), true},
		{"service unavailable", fmt.Errorf("service unavailable"), true},
		{"permanent error", fmt.Errorf("invalid syntax"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestChain(t *testing.T) {
	tests := []struct {
		name     string
		errors   []error
		expected string
		isNil    bool
	}{
		{name: "no errors", errors: []error{nil, nil}, isNil: true},
		{name: "single error", errors: []error{fmt.Errorf("single error"), nil}, expected: "single error"},
		{name: "multiple errors", errors: []error{fmt.Errorf("error 1"), fmt.Errorf("error 2"), nil, fmt.Errorf("error 3")}, expected: "multiple errors: error 1; error 2; error 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Chain(tt.errors...)
			if tt.isNil {
				if result != nil {
					t.Errorf("Chain() = %v, want nil", result)
				}
				return
			}
			if result.Error() != tt.expected {
				t.Errorf("Chain() = %q, want %q", result.Error(), tt.expected)
			}
		})
	}
}
