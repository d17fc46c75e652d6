package git

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// PacedTransport delays each request until the limiter
// grants a token. A nil Limiter disables pacing.
type PacedTransport struct {
	Limiter *rate.Limiter
	Next    http.RoundTripper
}

// NewPacedTransport paces next at requestsPerSecond.
// Zero or less returns next unchanged.
func NewPacedTransport(
	next http.RoundTripper,
	requestsPerSecond float64,
) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}

	if requestsPerSecond <= 0 {
		return next
	}

	return &PacedTransport{
		Limiter: NewLimiter(requestsPerSecond),
		Next:    next,
	}
}

// NewLimiter returns a limiter allowing
// requestsPerSecond with a burst of the same size
// (at least one).
func NewLimiter(requestsPerSecond float64) *rate.Limiter {
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// RoundTrip waits for the limiter and forwards req.
func (pt *PacedTransport) RoundTrip(
	req *http.Request,
) (*http.Response, error) {
	if pt.Limiter != nil {
		if err := pt.Limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf(
				"pacing request: %w", err,
			)
		}
	}

	next := pt.Next
	if next == nil {
		next = http.DefaultTransport
	}

	return next.RoundTrip(req)
}
