package xhttp

import (
	"fmt"
	"net/http"

	"github.com/amariano/bodysync/internal/version"
	"golang.org/x/time/rate"
)

type baseTransport struct {
	base http.RoundTripper
}

var _ http.RoundTripper = (*baseTransport)(nil)

func (t *baseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "bodysync/"+version.Get())
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform round trip: %w", err)
	}
	return resp, nil
}

// NewTransport returns an http.RoundTripper with standard bodysync headers.
func NewTransport() http.RoundTripper {
	return &baseTransport{base: http.DefaultTransport}
}

// rateLimitedTransport paces outgoing requests through a token bucket so a
// burst of uploads does not trip the remote side's undocumented limits.
type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

var _ http.RoundTripper = (*rateLimitedTransport)(nil)

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return t.base.RoundTrip(req)
}

// NewRateLimitedTransport wraps base with a client-side request pacer.
func NewRateLimitedTransport(base http.RoundTripper, rps float64, burst int) http.RoundTripper {
	return &rateLimitedTransport{
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}
