package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMalformedResponse is returned when a 2xx body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed control plane response")
	// ErrInvalidRequest is returned when a request cannot be constructed.
	ErrInvalidRequest = errors.New("invalid control plane request")
)

// APIError is returned when the control plane answers with a non-2xx status.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("control plane %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("control plane %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the control plane.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsClientError reports whether err is a 4xx from the control plane. Client
// errors indicate a format or logic problem and are never retried.
func IsClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// IsRetryable reports whether err belongs to the transient class: network
// failures, per-call timeouts and 5xx responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrInvalidRequest) {
		return false
	}
	return true
}
