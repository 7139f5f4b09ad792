// Package apperr defines the closed-set error taxonomy every component
// reports through and the single place that taxonomy is mapped to HTTP
// status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the closed set of domain error kinds.
type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeGone               Code = "GONE"
	CodeBlocked            Code = "BLOCKED"
	CodePasswordRequired   Code = "PASSWORD_REQUIRED"
	CodePasswordInvalid    Code = "PASSWORD_INVALID"
	CodeValidation         Code = "VALIDATION"
	CodeConflict           Code = "CONFLICT"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeDependencyDegraded Code = "DEPENDENCY_DEGRADED"
	CodeInternal           Code = "INTERNAL"
)

// Error is the typed error every package above the storage layer returns
// once it has classified a failure. Wrap lower-level errors with %w so
// errors.Is/As keep working through Error.Unwrap.
type Error struct {
	Code       Code
	Message    string
	RetryAfter int // seconds; only meaningful for CodeRateLimited
	Fallback   bool // only meaningful for CodeDependencyDegraded
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error that carries cause for errors.Is/As chains.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// RateLimited builds a CodeRateLimited error carrying retryAfter seconds.
func RateLimited(message string, retryAfterSeconds int) *Error {
	return &Error{Code: CodeRateLimited, Message: message, RetryAfter: retryAfterSeconds}
}

// Degraded builds a CodeDependencyDegraded error, optionally marking that
// the caller received a degraded-but-usable fallback payload.
func Degraded(message string, fallback bool, cause error) *Error {
	return &Error{Code: CodeDependencyDegraded, Message: message, Fallback: fallback, cause: cause}
}

// CodeOf extracts the Code from err, defaulting to CodeInternal when err
// is not an *Error (or is nil, in which case "" is returned).
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps a Code to the status it is rendered with at the edge.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeGone:
		return http.StatusGone
	case CodeBlocked:
		return http.StatusForbidden
	case CodePasswordRequired, CodePasswordInvalid:
		return http.StatusUnauthorized
	case CodeValidation:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeDependencyDegraded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Login-specific closed set (§4.5). The auth core returns these codes
// unchanged, and the HTTP edge renders each one with the status that
// LoginHTTPStatus gives it (404, 403, 400 and 401 respectively).
const (
	LoginUserNotFound        Code = "USER_NOT_FOUND"
	LoginAccountDeactivated  Code = "ACCOUNT_DEACTIVATED"
	LoginOAuthUserNoPassword Code = "OAUTH_USER_NO_PASSWORD"
	LoginInvalidPassword     Code = "INVALID_PASSWORD"
)

// LoginHTTPStatus maps the login closed-set codes to their HTTP status,
// per §7's failure model (never leak which factor failed beyond
// UserNotFound).
func LoginHTTPStatus(code Code) int {
	switch code {
	case LoginUserNotFound:
		return http.StatusNotFound
	case LoginAccountDeactivated:
		return http.StatusForbidden
	case LoginOAuthUserNoPassword:
		return http.StatusBadRequest
	case LoginInvalidPassword:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
