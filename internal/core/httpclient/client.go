// Package httpclient configures the HTTP client used to call irradiance
// providers and the remote record store.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

const userAgent = "solar-grid-cache/1"

// NewOutbound creates an outbound client. A positive timeout caps the whole
// exchange; with timeout <= 0 only the request context bounds a call.
func NewOutbound(timeout time.Duration) *http.Client {
	timeout = max(timeout, 0)
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: uaTransport{next: transport},
		Timeout:   timeout,
	}
}

type uaTransport struct{ next http.RoundTripper }

func (t uaTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("User-Agent", userAgent)
	}
	return t.next.RoundTrip(r)
}
