package httpx

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

// Default values for FastHTTPClient options
const (
	DefaultTimeout             = 2 * time.Second
	DefaultMaxConnsPerHost     = 64
	DefaultMaxIdleConnDuration = 30 * time.Second
	DefaultReadBufferSize      = 4096
	DefaultWriteBufferSize     = 4096
	DefaultMaxResponseBodySize = 64 * 1024
)

// FastHTTPClientOptions contains configuration for the FastHTTP client
type FastHTTPClientOptions struct {
	// Timeout bounds a request that carries no context deadline
	Timeout time.Duration

	// ReadTimeout is the maximum duration for reading the full response
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration for writing the full request
	WriteTimeout time.Duration

	// InsecureSkipVerify controls whether to skip TLS certificate verification
	InsecureSkipVerify bool

	// MaxConnsPerHost is the maximum number of concurrent connections per host
	MaxConnsPerHost int

	// MaxIdleConnDuration is the maximum duration for keeping idle connections open
	MaxIdleConnDuration time.Duration

	ReadBufferSize  int
	WriteBufferSize int

	// MaxResponseBodySize caps both the wire body and the decoded body
	MaxResponseBodySize int

	// UserAgent is the default User-Agent header value
	UserAgent string
}

// FastHTTPClientOption is a function that configures FastHTTPClientOptions
type FastHTTPClientOption func(*FastHTTPClientOptions)

// WithTimeout sets the fallback request timeout
func WithTimeout(timeout time.Duration) FastHTTPClientOption {
	return func(o *FastHTTPClientOptions) {
		o.Timeout = timeout
	}
}

// WithReadTimeout sets the read timeout
func WithReadTimeout(timeout time.Duration) FastHTTPClientOption {
	return func(o *FastHTTPClientOptions) {
		o.ReadTimeout = timeout
	}
}

// WithWriteTimeout sets the write timeout
func WithWriteTimeout(timeout time.Duration) FastHTTPClientOption {
	return func(o *FastHTTPClientOptions) {
		o.WriteTimeout = timeout
	}
}

// WithInsecureSkipVerify sets whether to skip TLS certificate verification
func WithInsecureSkipVerify(skip bool) FastHTTPClientOption {
	return func(o *FastHTTPClientOptions) {
		o.InsecureSkipVerify = skip
	}
}

// WithMaxConnsPerHost sets the maximum connections per host
func WithMaxConnsPerHost(max int) FastHTTPClientOption {
	return func(o *FastHTTPClientOptions) {
		o.MaxConnsPerHost = max
	}
}

// WithMaxIdleConnDuration sets the maximum idle connection duration
func WithMaxIdleConnDuration(duration time.Duration) FastHTTPClientOption {
	return func(o *FastHTTPClientOptions) {
		o.MaxIdleConnDuration = duration
	}
}

// WithMaxResponseBodySize sets the maximum response body size
func WithMaxResponseBodySize(size int) FastHTTPClientOption {
	return func(o *FastHTTPClientOptions) {
		o.MaxResponseBodySize = size
	}
}

// WithUserAgent sets the default User-Agent header
func WithUserAgent(userAgent string) FastHTTPClientOption {
	return func(o *FastHTTPClientOptions) {
		o.UserAgent = userAgent
	}
}

type FastHTTPClient struct {
	client      *fasthttp.Client
	userAgent   string
	timeout     time.Duration
	maxBodySize int
	closed      atomic.Bool
}

// NewFastHTTPClient creates a new FastHTTPClient with the given options.
// If no options are provided, sensible defaults are used.
func NewFastHTTPClient(opts ...FastHTTPClientOption) *FastHTTPClient {
	options := &FastHTTPClientOptions{
		Timeout:             DefaultTimeout,
		MaxConnsPerHost:     DefaultMaxConnsPerHost,
		MaxIdleConnDuration: DefaultMaxIdleConnDuration,
		ReadBufferSize:      DefaultReadBufferSize,
		WriteBufferSize:     DefaultWriteBufferSize,
		MaxResponseBodySize: DefaultMaxResponseBodySize,
	}

	for _, opt := range opts {
		opt(options)
	}

	client := &fasthttp.Client{
		MaxConnsPerHost:     options.MaxConnsPerHost,
		MaxIdleConnDuration: options.MaxIdleConnDuration,
		ReadBufferSize:      options.ReadBufferSize,
		WriteBufferSize:     options.WriteBufferSize,
		MaxResponseBodySize: options.MaxResponseBodySize,
	}

	if options.ReadTimeout > 0 {
		client.ReadTimeout = options.ReadTimeout
	} else if options.Timeout > 0 {
		client.ReadTimeout = options.Timeout
	}

	if options.WriteTimeout > 0 {
		client.WriteTimeout = options.WriteTimeout
	} else if options.Timeout > 0 {
		client.WriteTimeout = options.Timeout
	}

	if options.InsecureSkipVerify {
		client.TLSConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // intentionally configurable
		}
	}

	return &FastHTTPClient{
		client:      client,
		userAgent:   options.UserAgent,
		timeout:     options.Timeout,
		maxBodySize: options.MaxResponseBodySize,
	}
}

// Do executes req on the pooled fasthttp client. The request context deadline,
// when present, bounds the whole exchange; otherwise the configured Timeout does.
func (c *FastHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	ctx := req.Context()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fastReq := fasthttp.AcquireRequest()
	fastResp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(fastReq)
	defer fasthttp.ReleaseResponse(fastResp)

	if req.URL != nil {
		fastReq.SetRequestURI(req.URL.String())
	}
	fastReq.Header.SetMethod(req.Method)

	if req.Host != "" {
		fastReq.Header.SetHost(req.Host)
	} else if req.URL != nil && req.URL.Host != "" {
		fastReq.Header.SetHost(req.URL.Host)
	}

	for key, values := range req.Header {
		if len(values) == 1 {
			fastReq.Header.Set(key, values[0])
		} else {
			for _, value := range values {
				fastReq.Header.Add(key, value)
			}
		}
	}

	if c.userAgent != "" && len(req.Header.Get("User-Agent")) == 0 {
		fastReq.Header.Set("User-Agent", c.userAgent)
	}
	if len(req.Header.Get("Accept-Encoding")) == 0 {
		fastReq.Header.Set("Accept-Encoding", AcceptEncoding)
	}

	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		fastReq.SetBodyRaw(body)
		_ = req.Body.Close()
	}

	deadline, ok := ctx.Deadline()
	if !ok && c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
		ok = true
	}

	var err error
	if ok {
		err = c.client.DoDeadline(fastReq, fastResp, deadline)
	} else {
		err = c.client.Do(fastReq, fastResp)
	}
	if err != nil {
		if errors.Is(err, fasthttp.ErrBodyTooLarge) {
			return nil, ErrBodyTooLarge
		}
		return nil, err
	}

	// fastResp.Body() is reused after release, so decode into a fresh slice
	raw := fastResp.Body()
	bodyCopy := make([]byte, len(raw))
	copy(bodyCopy, raw)

	decoded, err := DecodeChain(string(fastResp.Header.Peek("Content-Encoding")), bodyCopy, c.maxBodySize)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}

	statusCode := fastResp.StatusCode()
	headers := make(http.Header)
	fastResp.Header.VisitAll(func(key, value []byte) {
		headers.Add(string(key), string(value))
	})
	headers.Del("Content-Encoding")

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		StatusCode:    statusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        headers,
		Body:          io.NopCloser(bytes.NewReader(decoded)),
		ContentLength: int64(len(decoded)),
		Request:       req,
	}, nil
}

// Close releases idle connections and rejects further requests.
func (c *FastHTTPClient) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.client.CloseIdleConnections()
	}
}
