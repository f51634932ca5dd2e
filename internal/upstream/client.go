// Package upstream wraps the shared HTTP client used for every
// upstream call, built on imroc/req/v3.
package upstream

import (
	"crypto/tls"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/imroc/req/v3"
)

const (
	maxIdleConnsPerHost = 16
	tcpKeepAlive        = 60 * time.Second
	// MaxPayloadBytes is the request-parsing size cap.
	MaxPayloadBytes = 100 << 20
)

// Options configures the shared client.
type Options struct {
	// Timeout is the per-request timeout; config.Validate rejects a
	// configured value outside [30s, 600s]. Zero or negative means 120s.
	Timeout time.Duration
	// ProxyURL is an optional outbound HTTP or SOCKS5 proxy.
	ProxyURL string
}

// Client is the long-lived shared HTTP client every account's requests
// flow through. It is safe for concurrent use and is built once at
// startup.
type Client struct {
	rc *req.Client
}

// New builds the shared upstream HTTP client: a single req.Client with
// cookie jar disabled (every call carries its own bearer token, so
// cookies would only leak state between accounts) and an optional
// proxy.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: tcpKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}

	rc := req.C().
		SetTimeout(timeout).
		SetCookieJar(nil).
		SetTransport(transport)

	if proxyURL := strings.TrimSpace(opts.ProxyURL); proxyURL != "" {
		rc.SetProxyURL(proxyURL)
	}

	return &Client{rc: rc}
}

// R returns a fresh request builder against the shared client, the way
// every call site in req/v3 is expected to start a request.
func (c *Client) R() *req.Request {
	return c.rc.R()
}

// Raw exposes the underlying req.Client for callers that need options
// req.Request doesn't expose directly. The dispatcher, streaming
// included, goes through R().
func (c *Client) Raw() *req.Client {
	return c.rc
}
