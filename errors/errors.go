package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrNotAuthorized    = fmt.Errorf("not authorized")
	ErrRoomNotFound     = fmt.Errorf("room not found")
	ErrValidation       = fmt.Errorf("validation failed")
	ErrPersistence      = fmt.Errorf("persistence failed")
	ErrWorkerPanic      = fmt.Errorf("worker panic")
	ErrEmptyWords       = fmt.Errorf("no words have been found")
)

// MapToHTTPStatus translates domain errors into HTTP status codes at the
// gateway boundary. Unknown errors are reported as internal failures.
func MapToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
