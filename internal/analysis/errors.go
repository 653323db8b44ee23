package analysis

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/phish-cli/internal/model"
)

var (
	// ErrUnsupportedMode is returned for image requests, which have no
	// upstream analyzer yet.
	ErrUnsupportedMode = eris.New("analysis: image ingress is not yet enabled")

	// ErrMisconfigured is returned when live analysis is required but no
	// upstream base URL is configured. It is kept distinct from
	// UpstreamError so "not configured" never reads as "configured but down".
	ErrMisconfigured = eris.New("analysis: upstream base URL is not configured")
)

// ValidationError is re-exported so callers only import this package.
type ValidationError = model.ValidationError

// UpstreamError reports that the analysis backend could not be reached,
// answered with a non-2xx status, or sent a body that is not a JSON object.
// StatusCode is 0 unless the backend answered with a non-2xx status.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	return e.Message
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
