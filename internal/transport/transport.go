// Package transport is the HTTP client used to talk to the store backend and
// the third-party version mirrors.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/ipastore/internal/metrics"
	"golang.org/x/time/rate"
)

// DefaultUserAgent is the Apple Configurator agent the store endpoints expect
const DefaultUserAgent = "Configurator/2.15 (Macintosh; OS X 11.0.0; 16G29) AppleWebKit/2603.3.8"

// DefaultTimeout bounds a single request
const DefaultTimeout = 30 * time.Second

// Request is one outbound HTTP call
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
	// Timeout overrides the client timeout for this call
	Timeout time.Duration
}

// Response is a fully read HTTP response
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Cookies parses the Set-Cookie headers of the response
func (r *Response) Cookies() []*http.Cookie {
	return (&http.Response{Header: r.Headers}).Cookies()
}

// TransportError is a failure to get any response (DNS, TLS, timeout, ...)
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Name is the error category
func (e *TransportError) Name() string { return "TransportError" }

// StatusError is returned for responses with a 4xx/5xx status. The response
// is attached since store endpoints describe failures in the body.
type StatusError struct {
	Method   string
	URL      string
	Response *Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Response.Status)
}

// Name is the error category
func (e *StatusError) Name() string { return "StatusError" }

// Config configures a Client
type Config struct {
	Proxy     string
	Insecure  bool
	CAFile    string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
	UserAgent string
}

// Client sends Requests
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	agent   string
	timeout time.Duration
}

// NewClient creates a Client from conf
func NewClient(conf Config) (*Client, error) {
	tr, err := newAppleHTTPTransport(conf.Proxy, conf.Insecure, conf.CAFile)
	if err != nil {
		return nil, err
	}
	return newClient(conf, tr), nil
}

func newClient(conf Config, rt http.RoundTripper) *Client {
	c := &Client{
		http:    &http.Client{Transport: rt},
		agent:   conf.UserAgent,
		timeout: conf.Timeout,
	}
	if c.agent == "" {
		c.agent = DefaultUserAgent
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if conf.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(conf.RateLimit), 1)
	}
	return c
}

// Do sends req and reads the whole response body
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Method: method, URL: req.URL, Err: err}
		}
	}

	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, &TransportError{Method: method, URL: req.URL, Err: err}
	}
	hreq.Header.Set("User-Agent", c.agent)
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}

	host := hostOf(req.URL)
	start := time.Now()

	resp, err := c.http.Do(hreq)
	if err != nil {
		metrics.RecordUpstream(host, 0, time.Since(start))
		return nil, &TransportError{Method: method, URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	metrics.RecordUpstream(host, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, &TransportError{Method: method, URL: req.URL, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	log.WithFields(log.Fields{
		"method": method,
		"url":    req.URL,
		"status": resp.StatusCode,
	}).Debug("http request")

	out := &Response{Status: resp.StatusCode, Headers: resp.Header, Body: data}
	if resp.StatusCode >= http.StatusBadRequest {
		return out, &StatusError{Method: method, URL: req.URL, Response: out}
	}
	return out, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "unknown"
	}
	return u.Host
}
