package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrVersionConflict is returned by stores when a conditional update loses to
// a concurrent writer. Callers re-read and retry.
var ErrVersionConflict = errors.New("subscription version conflict")

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error constructors.

func ErrNotFound(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, Message: msg}
}

func ErrBadRequest(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Message: msg}
}

// ErrConflict marks an operation that contradicts current subscription state
// (already paid, already cancel-flagged, same plan). Never retried.
func ErrConflict(msg string) *AppError {
	return &AppError{Code: http.StatusConflict, Message: msg}
}

// ErrQuotaExceeded marks an exhausted quota. The message names the cap and,
// for per-period caps, the reset date, so callers can show upgrade prompts.
func ErrQuotaExceeded(msg string) *AppError {
	return &AppError{Code: http.StatusPaymentRequired, Message: msg}
}

// ErrGateway wraps a failed or timed-out payment gateway call. Local state is
// left untouched, so retrying the whole operation is safe.
func ErrGateway(msg string, err error) *AppError {
	return &AppError{Code: http.StatusBadGateway, Message: msg, Err: err}
}

func ErrInternal(msg string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, Message: msg, Err: err}
}

// AsAppError attempts to extract an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsQuotaExceeded reports whether err is a quota-exhaustion error.
func IsQuotaExceeded(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == http.StatusPaymentRequired
}

// IsConflict reports whether err is a state-conflict error.
func IsConflict(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == http.StatusConflict
}
