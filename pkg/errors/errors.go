package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an AppError. It decides how the error propagates: auth
// errors refuse a connection, store errors degrade, remote contract errors
// turn into a chat reply, sandbox errors turn into a run log line.
type Kind string

const (
	KindAuth           Kind = "auth"
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindForbidden      Kind = "forbidden"
	KindStore          Kind = "store"
	KindRemoteContract Kind = "remote_contract"
	KindSandbox        Kind = "sandbox"
	KindInternal       Kind = "internal"
)

// AppError represents a standardized application error
type AppError struct {
	Kind    Kind   `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"` // Internal error for logging
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(kind Kind, code int, message string, err error) *AppError {
	return &AppError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Validation creates a 400 error for malformed operation input.
func Validation(message string) *AppError {
	return New(KindValidation, http.StatusBadRequest, message, nil)
}

// NotFound creates a 404 error
func NotFound(message string) *AppError {
	return New(KindNotFound, http.StatusNotFound, message, nil)
}

// Conflict creates a 409 error
func Conflict(message string) *AppError {
	return New(KindConflict, http.StatusConflict, message, nil)
}

// Unauthorized creates a 401 error
func Unauthorized(message string) *AppError {
	return New(KindAuth, http.StatusUnauthorized, message, nil)
}

// Forbidden creates a 403 error
func Forbidden(message string) *AppError {
	return New(KindForbidden, http.StatusForbidden, message, nil)
}

// Store wraps a backing-store failure.
func Store(op string, err error) *AppError {
	return New(KindStore, http.StatusInternalServerError, op, err)
}

// RemoteContract reports output from a remote service that does not match
// the agreed shape.
func RemoteContract(message string, err error) *AppError {
	return New(KindRemoteContract, http.StatusBadGateway, message, err)
}

// Sandbox wraps a mount or spawn failure.
func Sandbox(message string, err error) *AppError {
	return New(KindSandbox, http.StatusInternalServerError, message, err)
}

// Internal creates a 500 error
func Internal(err error) *AppError {
	return New(KindInternal, http.StatusInternalServerError, "Internal Server Error", err)
}

// As finds the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of the first AppError in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	if appErr, ok := As(err); ok && appErr.Code != 0 {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message that is safe to show a caller.
func PublicMessage(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Message
	}
	return "Internal Server Error"
}
