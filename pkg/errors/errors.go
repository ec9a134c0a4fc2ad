package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes by how callers should react to them.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindBusiness      Kind = "business"
	KindTransient     Kind = "transient"
	KindConfiguration Kind = "configuration"
	KindValidation    Kind = "validation"
	KindAuth          Kind = "auth"
	KindInternal      Kind = "internal"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Hint    string `json:"hint,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so that clones compare equal to their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrSessionExpired     = New("SESSION_EXPIRED", http.StatusUnauthorized, "session expired, sign in again")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrFinalized          = New("FINALIZED", http.StatusConflict, "resource finalized")
	ErrInvalidState       = New("INVALID_STATE", http.StatusConflict, "action not allowed in the current state")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrVoucherNotFound    = New("VOUCHER_NOT_FOUND", http.StatusNotFound, "voucher code not found")
	ErrOutOfShift         = New("OUT_OF_SHIFT", http.StatusUnprocessableEntity, "outside of the assigned shift")
	ErrDailyQuotaExceeded = New("DAILY_QUOTA_EXCEEDED", http.StatusUnprocessableEntity, "daily meal limit reached")
	ErrMealAlreadyUsed    = New("MEAL_ALREADY_USED", http.StatusConflict, "meal already redeemed today")
	ErrNoMealAvailable    = New("NO_MEAL_AVAILABLE", http.StatusUnprocessableEntity, "no meal is being served right now")

	ErrConnectivity = New("CONNECTIVITY_ERROR", http.StatusServiceUnavailable, "could not reach the data store, check the connection and try again")
	ErrMisconfigured = &Error{
		Code:    "STORE_MISCONFIGURED",
		Status:  http.StatusInternalServerError,
		Message: "data store is missing expected structure",
		Hint:    "apply the database migrations (migrations/*.sql) and restart the service",
	}
)

var kinds = map[string]Kind{
	ErrVoucherNotFound.Code:    KindNotFound,
	ErrNotFound.Code:           KindNotFound,
	ErrOutOfShift.Code:         KindBusiness,
	ErrDailyQuotaExceeded.Code: KindBusiness,
	ErrMealAlreadyUsed.Code:    KindBusiness,
	ErrNoMealAvailable.Code:    KindBusiness,
	ErrFinalized.Code:          KindBusiness,
	ErrConflict.Code:           KindBusiness,
	ErrInvalidState.Code:       KindBusiness,
	ErrConnectivity.Code:       KindTransient,
	ErrMisconfigured.Code:      KindConfiguration,
	ErrValidation.Code:         KindValidation,
	ErrUnauthorized.Code:       KindAuth,
	ErrForbidden.Code:          KindAuth,
	ErrSessionExpired.Code:     KindAuth,
}

// KindOf classifies any error; unknown codes are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if k, ok := kinds[FromError(err).Code]; ok {
		return k
	}
	return KindInternal
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithCause returns a copy of err wrapping cause.
func WithCause(err *Error, cause error) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Err = cause
	return &clone
}
