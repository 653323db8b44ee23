package resilience

import (
	"context"
	"errors"
	"net/http"
)

// StatusCoder is implemented by API errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// ShouldTrip reports whether err says the remote service is unhealthy.
// Transport failures and transient statuses count; client errors such as a
// bad token or a malformed query do not, and neither does the caller giving
// up on its own context.
func ShouldTrip(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return IsTransientHTTPStatus(sc.HTTPStatus())
	}
	return true
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
