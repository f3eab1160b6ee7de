// Package errcode defines the error taxonomy shared by the resource managers,
// the transaction manager and the workflow controller, together with the
// mapping onto HTTP status codes used by every service binding.
package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies one class of failure. Codes travel on the wire verbatim,
// so they are stable strings rather than numeric enums.
type Code string

const (
	// Client / semantic errors (non-retryable).
	InvalidArgument Code = "INVALID_ARGUMENT"
	KeyExists       Code = "KEY_EXISTS"
	KeyNotFound     Code = "KEY_NOT_FOUND"

	TxnNotFound   Code = "TXN_NOT_FOUND"
	TxnStateError Code = "TXN_STATE_ERROR"

	// Concurrency conflicts. These arise only during prepare and abort the
	// global transaction; the client may retry the whole transaction.
	LockConflict    Code = "LOCK_CONFLICT"
	VersionConflict Code = "VERSION_CONFLICT"

	// Workflow-level validation.
	InsufficientAvailability Code = "INSUFFICIENT_AVAILABILITY"

	// Storage / system.
	IOError           Code = "IO_ERROR"
	Timeout           Code = "TIMEOUT"
	Unavailable       Code = "UNAVAILABLE"
	InternalInvariant Code = "INTERNAL_INVARIANT"

	Unknown Code = "UNKNOWN_ERROR"
)

// Error is the structured error produced by the core components. Key is set
// when the failure concerns a specific record.
type Error struct {
	Code    Code   `json:"err"`
	Key     string `json:"key,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *Error) Error() string {
	switch {
	case e.Key != "" && e.Message != "":
		return fmt.Sprintf("%s: key=%s: %s", e.Code, e.Key, e.Message)
	case e.Key != "":
		return fmt.Sprintf("%s: key=%s", e.Code, e.Key)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	default:
		return string(e.Code)
	}
}

// New builds a structured error for a record-scoped failure.
func New(code Code, key string) *Error {
	return &Error{Code: code, Key: key}
}

// Newf builds a structured error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err, unwrapping as needed. Errors that do not
// carry a Code report Unknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// Is lets errors.Is match two structured errors by code alone, so callers can
// write errors.Is(err, errcode.New(errcode.KeyNotFound, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// HTTPStatus maps a Code to the stable HTTP status used on the wire:
// 409 for conflicts, 404 for missing, 400 for invalid arguments, 503 for
// unavailable, 504 for timeouts, 500 otherwise.
func HTTPStatus(code Code) int {
	switch code {
	case KeyExists, LockConflict, VersionConflict, TxnStateError, InsufficientAvailability:
		return http.StatusConflict
	case KeyNotFound, TxnNotFound:
		return http.StatusNotFound
	case InvalidArgument:
		return http.StatusBadRequest
	case Timeout:
		return http.StatusGatewayTimeout
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus recovers a coarse Code from a status code when a downstream
// response body carried no structured error.
func FromHTTPStatus(status int) Code {
	switch status {
	case http.StatusConflict:
		return TxnStateError
	case http.StatusNotFound:
		return KeyNotFound
	case http.StatusBadRequest:
		return InvalidArgument
	case http.StatusGatewayTimeout:
		return Timeout
	case http.StatusServiceUnavailable:
		return Unavailable
	default:
		return Unknown
	}
}
