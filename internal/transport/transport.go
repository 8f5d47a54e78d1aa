// Package transport builds the HTTP clients shared by the manifest fetcher and
// the file downloader during one sync pass.
package transport

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// DefaultTimeout bounds how long a request waits for the response headers.
const DefaultTimeout = 5 * time.Minute

const (
	maxDialTimeout      = 30 * time.Second
	maxHandshakeTimeout = 10 * time.Second
)

// Options configures an HTTP client
type Options struct {
	// InsecureSkipVerify accepts servers whose certificate fails validation.
	InsecureSkipVerify bool
	// Timeout bounds connecting and waiting for the response headers. Reading
	// the body is not bounded by it. Zero uses DefaultTimeout.
	Timeout time.Duration
	// RequestTimeout bounds a whole request including its body. Zero means no
	// limit beyond the request context.
	RequestTimeout time.Duration
	// Connections sizes the per-host connection pool. Zero leaves it unbounded.
	Connections int
	// UserAgent is sent with every request when set.
	UserAgent string
}

// New creates an HTTP client for the given options
func New(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.Proxy = http.ProxyFromEnvironment
	base.DialContext = (&net.Dialer{
		Timeout:   min(timeout, maxDialTimeout),
		KeepAlive: 30 * time.Second,
	}).DialContext
	base.TLSHandshakeTimeout = min(timeout, maxHandshakeTimeout)
	base.ResponseHeaderTimeout = timeout

	if opts.InsecureSkipVerify {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicitly requested by the user
	}

	if opts.Connections > 0 {
		base.MaxConnsPerHost = opts.Connections
		base.MaxIdleConnsPerHost = opts.Connections
		if base.MaxIdleConns < opts.Connections {
			base.MaxIdleConns = opts.Connections
		}
	}

	var rt http.RoundTripper = base
	if opts.UserAgent != "" {
		rt = &userAgentTransport{next: base, userAgent: opts.UserAgent}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   opts.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.next.RoundTrip(req)
}
