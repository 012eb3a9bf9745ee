package errors

import "errors"

// Kind is the public error taxonomy from spec.md §7. Callers of the §6
// public operations switch on Kind, never on a concrete error type.
type Kind string

const (
	KindInvalidInput            Kind = "InvalidInput"
	KindNotFound                Kind = "NotFound"
	KindConflict                Kind = "Conflict"
	KindInvalidTransition       Kind = "InvalidTransition"
	KindSanitizationRequired    Kind = "SanitizationRequired"
	KindProviderUnavailable     Kind = "ProviderUnavailable"
	KindAllProvidersUnavailable Kind = "AllProvidersUnavailable"
	KindRateLimited             Kind = "RateLimited"
	KindInvalidModelOutput      Kind = "InvalidModelOutput"
	KindDeadlineExceeded        Kind = "DeadlineExceeded"
	KindCancelled               Kind = "Cancelled"
	KindIntegrityError          Kind = "IntegrityError"
	KindTransient               Kind = "Transient"
	KindInternal                Kind = "Internal"
)

// stableMessages are user-visible strings keyed by Kind, per spec.md §7:
// "no raw stack traces cross the boundary".
var stableMessages = map[Kind]string{
	KindInvalidInput:            "the request was invalid",
	KindNotFound:                "the requested resource was not found",
	KindConflict:                "the resource was modified concurrently",
	KindInvalidTransition:       "the requested state transition is not allowed",
	KindSanitizationRequired:    "the content could not be safely sanitized",
	KindProviderUnavailable:     "the selected provider is unavailable",
	KindAllProvidersUnavailable: "no configured provider could serve the request",
	KindRateLimited:             "the request could not be served within the rate limit",
	KindInvalidModelOutput:      "the model produced output that could not be parsed",
	KindDeadlineExceeded:        "the operation exceeded its deadline",
	KindCancelled:               "the operation was cancelled",
	KindIntegrityError:          "an integrity check failed",
	KindTransient:               "a transient error occurred, retry may succeed",
	KindInternal:                "an internal error occurred",
}

// ResolutionError is the typed error returned by every public operation in
// spec.md §6. It wraps an *OperationError (or any error) and attaches a
// stable Kind so callers can branch without inspecting message text.
type ResolutionError struct {
	Kind Kind
	Op   *OperationError
}

func (e *ResolutionError) Error() string {
	if e.Op != nil {
		return e.Op.Error()
	}
	return stableMessages[e.Kind]
}

func (e *ResolutionError) Unwrap() error {
	if e.Op != nil {
		return e.Op
	}
	return nil
}

// Message returns the stable, user-visible message for e's Kind.
func (e *ResolutionError) Message() string { return stableMessages[e.Kind] }

// New builds a *ResolutionError for kind, wrapping cause as the operation's
// cause (component/resource optional, pass "" to omit).
func New(kind Kind, operation, component, resource string, cause error) *ResolutionError {
	return &ResolutionError{
		Kind: kind,
		Op:   &OperationError{Operation: operation, Component: component, Resource: resource, Cause: cause},
	}
}

// Is reports whether err (or anything it wraps) is a *ResolutionError of kind.
func Is(err error, kind Kind) bool {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindInternal if err is
// not a *ResolutionError.
func KindOf(err error) Kind {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}
