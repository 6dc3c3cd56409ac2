package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy shared by the workflow services. Wrap with fmt.Errorf("...: %w")
// and classify with errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrIllegalState     = errors.New("illegal state")
	ErrTransientGateway = errors.New("transient gateway error")
	ErrSignatureInvalid = errors.New("signature invalid")
)

// StatusFor maps an error to the HTTP status code clients see.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrSignatureInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrIllegalState):
		return http.StatusConflict
	case errors.Is(err, ErrTransientGateway):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientGateway)
}

// ErrValidationf builds an ErrValidation with a formatted detail.
func ErrValidationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ErrorForStatus maps a peer's HTTP status back onto the taxonomy. It returns
// nil for statuses outside it.
func ErrorForStatus(status int) error {
	switch {
	case status == http.StatusBadRequest:
		return ErrValidation
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrIllegalState
	case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return ErrTransientGateway
	default:
		return nil
	}
}
