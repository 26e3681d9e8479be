package scoring

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrTimeout           = errors.New("scoring timed out")
	ErrMalformedResponse = errors.New("malformed scoring response")
	ErrUnavailable       = errors.New("scoring backend unavailable")
	ErrRateLimited       = errors.New("rate_limited")
	ErrRejected          = errors.New("scoring request rejected")
)

// HTTPError represents an HTTP status error from a provider.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.Provider, e.Body)
}

// Unwrap maps the status onto the sentinel errors.
func (e *HTTPError) Unwrap() error {
	switch {
	case e.StatusCode == 429:
		return ErrRateLimited
	case e.StatusCode == 408 || e.StatusCode == 504:
		return ErrTimeout
	case e.StatusCode >= 500:
		return ErrUnavailable
	case e.StatusCode >= 400:
		return ErrRejected
	}
	return nil
}

// Reason names why a scoring call failed.
type Reason string

const (
	ReasonTimeout     Reason = "timeout"
	ReasonMalformed   Reason = "malformed_response"
	ReasonUnavailable Reason = "backend_unavailable"
	ReasonRateLimited Reason = "rate_limited"
	ReasonRejected    Reason = "rejected"
	ReasonCanceled    Reason = "canceled"
	ReasonUnknown     Reason = "unknown"
)

// Classify maps any scoring error to a Reason.
func Classify(err error) Reason {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, ErrMalformedResponse):
		return ReasonMalformed
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrRejected):
		return ReasonRejected
	case errors.Is(err, ErrUnavailable):
		return ReasonUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ReasonTimeout
		}
		return ReasonUnavailable
	}
	return ReasonUnknown
}

// isTransient reports whether the provider should be cooled down and the next one tried.
func isTransient(err error) bool {
	switch Classify(err) {
	case ReasonTimeout, ReasonRateLimited, ReasonUnavailable:
		return true
	}
	return false
}

// isFatal reports whether trying another provider is pointless.
func isFatal(err error) bool {
	return Classify(err) == ReasonCanceled
}
