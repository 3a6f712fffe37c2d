// Package apperror defines the error taxonomy shared by services and handlers.
//
// Services return *AppError values wrapping one of the sentinel errors below.
// HTTP handlers map the sentinels to status codes with errors.Is — the service
// layer never sees an HTTP status.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation error")
	ErrForbidden   = errors.New("forbidden")
	ErrUnavailable = errors.New("upstream unavailable")
)

type AppError struct {
	Err     error  // sentinel the error maps to
	Message string // human-readable error message
	Field   string // optional: input field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// InvalidState is returned when the callback's state parameter does not match
// the session's pending state — the CSRF/replay defense triggered.
func InvalidState() *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: "invalid OAuth state",
	}
}

// MissingInput is returned when a required callback input is absent.
func MissingInput(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// AuthorizationFailed is returned when the code exchange fails or yields a
// token pair the provider cannot be trusted to renew.
func AuthorizationFailed(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// VerificationFailed is returned when the claimed installation is not among
// the installations the provider vouches for.
func VerificationFailed(installationID string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: fmt.Sprintf("installation %s is not accessible to the authorized account", installationID),
	}
}

// NotLinked is returned by read operations that require a credential the user
// does not have.
func NotLinked(userID string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("no installation linked for user %s", userID),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unavailable is returned when a provider call fails for reasons outside this
// service's control. Handlers map it to 503.
func Unavailable(message string) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: message,
	}
}
