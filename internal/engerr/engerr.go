// Package engerr is the error taxonomy shared across the engine: every
// subsystem returns (or wraps) one of these sentinels so HTTP handlers and
// the coordinator's retry logic have exactly one place to switch on them.
package engerr

import (
	"errors"
	"fmt"
)

var (
	ErrTransport    = errors.New("llm transport error")
	ErrSchema       = errors.New("model response failed schema validation")
	ErrNonJSON      = errors.New("model response was not valid json")
	ErrTimeout      = errors.New("timed out waiting for readiness")
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
)

// HTTPError is ErrHTTP(status) from the spec: a non-2xx response from the
// LLM vendor that wasn't a transport failure or a schema problem.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llm http error: status %d", e.Status)
}

func NewHTTPError(status int) error {
	return &HTTPError{Status: status}
}

// AsHTTPError unwraps err into an *HTTPError if that's what it is.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// StatusCode maps an engine error to the HTTP status code spec.md §6
// specifies. Foreground callers (the httpapi package) use this as the one
// translation site; background tasks never call it because they swallow
// errors instead of surfacing them.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrBadRequest):
		return 400
	case errors.Is(err, ErrUnauthorized):
		return 401
	case errors.Is(err, ErrForbidden):
		return 403
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrTimeout):
		return 408
	case errors.Is(err, ErrConflict):
		return 409
	default:
		if httpErr, ok := AsHTTPError(err); ok && httpErr.Status == 502 {
			return 502
		}
		return 500
	}
}
