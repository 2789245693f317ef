package httputil

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	// DownloadTimeout allows for full-day second-cadence file bodies.
	DownloadTimeout = 3 * time.Minute

	userAgent = "pranight/1.0"
)

type uaTransport struct {
	base http.RoundTripper
}

func (t uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", userAgent)
	}
	return t.base.RoundTrip(r)
}

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: uaTransport{http.DefaultTransport},
	}
}

// NewDownloadClient returns a client sized for day-file downloads.
func NewDownloadClient() *http.Client {
	return &http.Client{
		Timeout:   DownloadTimeout,
		Transport: uaTransport{http.DefaultTransport},
	}
}
