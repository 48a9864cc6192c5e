// Package errs defines the closed set of error kinds surfaced by the
// control plane, mirroring the taxonomy in the spec: a fixed enum with
// optional per-kind payloads instead of a growing hierarchy of error types.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the category of a control-plane error. Callers match on
// Kind rather than on concrete error types.
type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindNotFound            Kind = "NOT_FOUND"
	KindNameConflict        Kind = "NAME_CONFLICT"
	KindStartupInProgress   Kind = "STARTUP_IN_PROGRESS"
	KindStartupTimeout      Kind = "STARTUP_TIMEOUT"
	KindHealthCheckTimeout  Kind = "HEALTH_CHECK_TIMEOUT"
	KindProviderTimeout     Kind = "PROVIDER_TIMEOUT"
	KindRateLimit           Kind = "RATE_LIMIT"
	KindCircuitOpen         Kind = "CIRCUIT_OPEN"
	KindHealthCheckFailed   Kind = "HEALTH_CHECK_FAILED"
	KindResourceConstraints Kind = "RESOURCE_CONSTRAINTS"
	KindProviderClient      Kind = "PROVIDER_CLIENT"
	KindNetwork             Kind = "NETWORK"
	KindInternal            Kind = "INTERNAL"
)

// httpStatus maps a Kind to its default HTTP status code. ProviderClient
// carries its own status (the passthrough provider status) and is not in
// this table.
var httpStatus = map[Kind]int{
	KindValidation:          400,
	KindNotFound:            404,
	KindNameConflict:        409,
	KindStartupInProgress:   409,
	KindStartupTimeout:      408,
	KindHealthCheckTimeout:  408,
	KindProviderTimeout:     408,
	KindRateLimit:           429,
	KindCircuitOpen:         503,
	KindHealthCheckFailed:   503,
	KindResourceConstraints: 503,
	KindNetwork:             502,
	KindInternal:            500,
}

// Error is the single error type used across the control plane. Kind
// selects the category; the optional fields are populated only by the
// kinds that need them.
type Error struct {
	Kind Kind
	// Message is safe to return to callers in production.
	Message string
	// Details carries field-level validation errors, keyed by field name.
	Details map[string]string
	// RetryAfter is set for KindRateLimit.
	RetryAfter time.Duration
	// ProviderStatus is set for KindProviderClient (passthrough status).
	ProviderStatus int
	// ProviderCode is set for KindProviderClient.
	ProviderCode string
	// Retryable is set for KindNetwork.
	Retryable bool
	// cause is the wrapped underlying error, if any.
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus returns the HTTP status code this error should be reported as.
func (e *Error) HTTPStatus() int {
	if e.Kind == KindProviderClient && e.ProviderStatus != 0 {
		return e.ProviderStatus
	}
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return 500
}

// Is reports whether target is an *Error with the same Kind, so callers can
// use errors.Is(err, errs.Validation("")) style checks if desired, and so
// wrapped errors still match.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// Constructors. Each returns *Error so callers can attach details fluently.

func Validation(msg string) *Error { return &Error{Kind: KindValidation, Message: msg} }

func ValidationFields(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: fields}
}

func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

func NameConflict(name string) *Error {
	return &Error{Kind: KindNameConflict, Message: fmt.Sprintf("instance name %q is already in use", name)}
}

func StartupInProgress(instanceID string) *Error {
	return &Error{Kind: KindStartupInProgress, Message: fmt.Sprintf("a startup operation is already in progress for instance %q", instanceID)}
}

func StartupTimeout(msg string) *Error { return &Error{Kind: KindStartupTimeout, Message: msg} }

func HealthCheckTimeout(msg string) *Error {
	return &Error{Kind: KindHealthCheckTimeout, Message: msg}
}

func ProviderTimeout(msg string) *Error { return &Error{Kind: KindProviderTimeout, Message: msg} }

func RateLimit(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Message: "rate limited by provider", RetryAfter: retryAfter}
}

func CircuitOpen() *Error {
	return &Error{Kind: KindCircuitOpen, Message: "circuit breaker is open"}
}

func HealthCheckFailed(msg string) *Error {
	return &Error{Kind: KindHealthCheckFailed, Message: msg}
}

func ResourceConstraints(msg string) *Error {
	return &Error{Kind: KindResourceConstraints, Message: msg}
}

func ProviderClient(status int, code, details string) *Error {
	return &Error{
		Kind:           KindProviderClient,
		Message:        details,
		ProviderStatus: status,
		ProviderCode:   code,
	}
}

func Network(cause error, retryable bool) *Error {
	return &Error{Kind: KindNetwork, Message: "network error", Retryable: retryable, cause: cause}
}

func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: cause}
}

// Wrap attaches a cause to an existing *Error, returning a new *Error.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
