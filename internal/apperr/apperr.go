// ABOUTME: Error kinds shared across the fleet: caller, upstream, transport, persistence, conflict.
// ABOUTME: Kinds are sentinels joined onto causes so errors.Is matches both.

package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error that crosses a package boundary carries one of these.
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUpstreamRejected = errors.New("upstream rejected")
	ErrTransport        = errors.New("transport error")
	ErrPersistence      = errors.New("persistence error")
	ErrConflict         = errors.New("conflict")
)

var kinds = []error{
	ErrInvalidRequest,
	ErrUpstreamRejected,
	ErrTransport,
	ErrPersistence,
	ErrConflict,
}

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// New returns an error of the given kind with a formatted message.
func New(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// KindOf returns the first kind err carries, or nil if it carries none.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// HTTPStatus maps an error to the status code the control endpoint reports for it.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrConflict:
		return http.StatusConflict
	case ErrUpstreamRejected:
		return http.StatusBadGateway
	case ErrTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
