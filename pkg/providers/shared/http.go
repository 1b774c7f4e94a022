package shared

import (
	"net/http"
	"time"
)

// NewHTTPClient creates an HTTP client with its own transport and timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
	}
}

// DefaultHTTPClient returns the client distributors use: 10s timeout, verified TLS.
func DefaultHTTPClient() *http.Client {
	return NewHTTPClient(10 * time.Second)
}
