package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoRestaurant = errors.New("no restaurant selected")
	ErrEmptyOrderID = errors.New("order id is required")

	ErrResponseTooLarge = errors.New("response body too large")
)

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
}

// IsUnsupported reports whether err means the backend does not implement the
// endpoint, as opposed to failing while handling it.
func IsUnsupported(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return true
	}
	return false
}

// Retryable reports whether err is a network or server-side failure the
// caller may retry later.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests || se.Code == http.StatusRequestTimeout
	}
	return err != nil
}
