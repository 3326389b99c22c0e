package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidToken indicates that the backend rejected the bearer token on
// an otherwise-authenticated call (HTTP 401). Callers decide whether to
// surface it or to re-login and replay.
var ErrInvalidToken = errors.New("bearer token rejected")

// StatusError is returned for any non-2xx response that was not handled by
// the caller. The status code is preserved for diagnostics.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Is makes errors.Is(err, ErrInvalidToken) match 401 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrInvalidToken && e.Code == http.StatusUnauthorized
}

// IsStatus reports whether err carries the given HTTP status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
