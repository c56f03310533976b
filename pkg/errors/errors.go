package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error safe to render to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}
	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As chains.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError carrying the given cause.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}
	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Errors surfaced by the authentication flow. Each verification failure has
// its own code because the client reacts differently to each: a mismatch is
// retryable, an expired code needs a resend, a missing code needs a restart.
var (
	ErrInvalidCredential = &AppError{
		Code:       "auth.invalid_credential",
		Message:    "Invalid email or password",
		StatusCode: http.StatusUnauthorized,
	}
	ErrCodeNotFound = &AppError{
		Code:       "verification.not_found",
		Message:    "No verification code was requested, request a new one",
		StatusCode: http.StatusNotFound,
	}
	ErrCodeExpired = &AppError{
		Code:       "verification.expired",
		Message:    "The verification code has expired, request a new one",
		StatusCode: http.StatusGone,
	}
	ErrCodeMismatch = &AppError{
		Code:       "verification.mismatch",
		Message:    "Incorrect verification code",
		StatusCode: http.StatusUnauthorized,
	}
	ErrNoPendingFlow = &AppError{
		Code:       "auth.no_pending_flow",
		Message:    "No sign-in or sign-up is awaiting verification",
		StatusCode: http.StatusConflict,
	}
	ErrNotAuthenticated = &AppError{
		Code:       "auth.not_authenticated",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}
	ErrBadRequest = &AppError{
		Code:       "request.invalid",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}
	ErrRateLimited = &AppError{
		Code:       "request.rate_limited",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}
	ErrInternal = &AppError{
		Code:       "internal.error",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds an application error from scratch.
func New(code, message string, statusCode int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode}
}

// NewBadRequest wraps a validation failure with a client-facing message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}

// Wrap converts an arbitrary error into an internal AppError, keeping the
// original for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       ErrInternal.Code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError coerces any error into an AppError, defaulting to ErrInternal.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternal.WithInternal(err)
}
