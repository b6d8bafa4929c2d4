package shared

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP translation.
type Kind int

const (
	// KindInternal covers persistence and decoding failures.
	KindInternal Kind = iota
	// KindValidation covers malformed input rejected at the boundary.
	KindValidation
	// KindAuthentication covers missing, invalid, expired, or revoked credentials.
	KindAuthentication
	// KindAuthorization covers a valid identity with insufficient role or permission.
	KindAuthorization
	// KindNotFound covers unknown identifiers.
	KindNotFound
	// KindConflict covers duplicate names, duplicate assignments, and guarded deletes.
	KindConflict
)

// Error is the typed error every core component returns.
type Error struct {
	Kind    Kind
	Message string
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Authentication builds an authentication error.
func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Message: message}
}

// Authorization builds an authorization error.
func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict error.
func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// WithDetails attaches a human detail string and returns the error.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// KindOf extracts the Kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to its response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Category returns the wire-level error category for the envelope.
func Category(err error) string {
	switch KindOf(err) {
	case KindValidation:
		return "Datos inválidos"
	case KindAuthentication:
		return "No autorizado"
	case KindAuthorization:
		return "Acceso prohibido"
	case KindNotFound:
		return "Recurso no encontrado"
	case KindConflict:
		return "Conflicto"
	default:
		return "Error interno"
	}
}
