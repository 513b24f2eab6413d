// Package httpkit builds the HTTP clients used for every outbound call
// in reeve. Keeping construction in one place gives the provider,
// Telegram, search, and fetch clients the same pooling behavior and the
// same User-Agent.
package httpkit

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/mwortham/reeve/internal/buildinfo"
)

// Shared transport defaults. Dial and TLS get tight bounds so a dead
// host fails fast. Response headers get a moderate wait that
// long-polling callers must raise via WithResponseHeaderTimeout, or
// the poll dies before the server answers.
const (
	DefaultClientTimeout       = 30 * time.Second
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultResponseHeader      = 15 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5
)

// NewClient builds an *http.Client on the shared transport defaults
// with an identifying User-Agent.
func NewClient(opts ...ClientOption) *http.Client {
	o := clientOptions{
		timeout: DefaultClientTimeout,
		agent:   buildinfo.UserAgent(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	t := o.transport
	if t == nil {
		t = NewTransport()
	}
	if o.headerWait > 0 {
		t.ResponseHeaderTimeout = o.headerWait
	}

	return &http.Client{
		Timeout:   o.timeout,
		Transport: &uaTransport{next: t, agent: o.agent},
	}
}

// ClientOption adjusts a client built by NewClient.
type ClientOption func(*clientOptions)

type clientOptions struct {
	timeout    time.Duration
	headerWait time.Duration
	agent      string
	transport  *http.Transport
}

// WithTimeout sets the overall request timeout. Zero disables it,
// which streaming responses need.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// WithResponseHeaderTimeout raises the transport's header wait above
// DefaultResponseHeader. Long-poll endpoints hold the request open
// longer than any sane default.
func WithResponseHeaderTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.headerWait = d }
}

// WithUserAgent replaces the default User-Agent. An empty string
// leaves the header untouched entirely.
func WithUserAgent(ua string) ClientOption {
	return func(o *clientOptions) { o.agent = ua }
}

// WithTransport substitutes a custom transport. Use sparingly; the
// shared one exists so connection pooling stays predictable.
func WithTransport(t *http.Transport) ClientOption {
	return func(o *clientOptions) { o.transport = t }
}

// NewTransport returns the transport clients use by default: explicit
// dial, TLS, and header timeouts instead of the stdlib's unbounded
// ones.
func NewTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   DefaultDialTimeout,
		KeepAlive: DefaultKeepAlive,
	}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
	}
}

// uaTransport fills in the User-Agent header on requests that lack
// one. Callers that set their own keep it.
type uaTransport struct {
	next  http.RoundTripper
	agent string
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.agent != "" && req.Header.Get("User-Agent") == "" {
		// The RoundTripper contract forbids mutating the caller's
		// request, so clone before touching headers.
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.agent)
	}
	return t.next.RoundTrip(req)
}

// DrainAndClose consumes up to limit bytes of rc before closing it.
// Bodies left unread pin their connection out of the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	_ = rc.Close()
}

// ReadErrorBody returns up to limit bytes of rc for use in error
// messages, draining and closing the rest so the connection is
// reusable. A nil rc reads as "".
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	defer DrainAndClose(rc, 1024)
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
