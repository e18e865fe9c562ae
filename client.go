package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderAccept        = "Accept"
	HeaderUserAgent     = "User-Agent"
	HeaderRequestID     = "X-Request-ID"

	mimeJSON = "application/json"
	mimeForm = "application/x-www-form-urlencoded"

	maxResponseBody = 10 << 20
)

// Request describes one logical call. Attempt starts at 1 and is bumped on
// the copy that gets re-issued after a token refresh. Body is encoded on
// every attempt; Do reads an io.Reader body into memory first so a retry
// sends the same bytes.
type Request struct {
	Method  string
	Path    string
	Body    any
	Header  http.Header
	Query   url.Values
	Attempt int
}

// RequestOption customizes a single call
type RequestOption func(*Request)

// WithHeader sets a header on the request, overriding client defaults
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = http.Header{}
		}
		r.Header.Set(key, value)
	}
}

// WithQuery adds a query parameter
func WithQuery(key, value string) RequestOption {
	return func(r *Request) {
		if r.Query == nil {
			r.Query = url.Values{}
		}
		r.Query.Add(key, value)
	}
}

// WithBearer sets an explicit bearer token. Use it on a Bare client, the
// auth interceptor always attaches the stored token.
func WithBearer(token string) RequestOption {
	return WithHeader(HeaderAuthorization, BearerPrefix+token)
}

func (r *Request) clone() *Request {
	c := *r
	if r.Header != nil {
		c.Header = r.Header.Clone()
	}
	if r.Query != nil {
		c.Query = url.Values{}
		for k, v := range r.Query {
			c.Query[k] = append([]string(nil), v...)
		}
	}
	return &c
}

// bufferBody replaces a streaming body with its bytes
func (r *Request) bufferBody() error {
	rd, ok := r.Body.(io.Reader)
	if !ok {
		return nil
	}
	if rc, ok := rd.(io.Closer); ok {
		defer rc.Close()
	}

	raw, err := io.ReadAll(rd)
	if err != nil {
		return err
	}
	r.Body = raw
	return nil
}

// retry returns the copy re-issued after a refresh
func (r *Request) retry() *Request {
	c := r.clone()
	c.Attempt = r.Attempt + 1
	return c
}

// Response is a fully buffered 2xx response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Request    *Request
}

// Decode unmarshals the JSON body into v
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Handler sends a request and returns its response
type Handler func(ctx context.Context, req *Request) (*Response, error)

// Interceptor decorates a Handler
type Interceptor func(next Handler) Handler

// Client is the single point of configuration for outbound calls
type Client struct {
	cfg          Config
	baseURL      string
	httpClient   *http.Client
	headers      http.Header
	interceptors []Interceptor
	logger       Logger
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithDefaultHeader adds a header sent on every request
func WithDefaultHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithClientLogger sets the logger
func WithClientLogger(logger Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithInterceptors appends interceptors, outermost first
func WithInterceptors(interceptors ...Interceptor) ClientOption {
	return func(c *Client) {
		c.interceptors = append(c.interceptors, interceptors...)
	}
}

// NewClient returns a Client for cfg. A nil cfg uses Options defaults.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	if cfg == nil {
		cfg = Options{}
	}

	headers := http.Header{}
	headers.Set(HeaderContentType, mimeJSON)
	headers.Set(HeaderAccept, mimeJSON)
	headers.Set(HeaderUserAgent, cfg.GetUserAgent())

	c := &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.GetBaseURL(), "/"),
		httpClient: &http.Client{},
		headers:    headers,
		logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Config returns the client configuration
func (c *Client) Config() Config {
	return c.cfg
}

// Use appends interceptors. Call it during setup, not while requests are
// in flight.
func (c *Client) Use(interceptors ...Interceptor) *Client {
	c.interceptors = append(c.interceptors, interceptors...)
	return c
}

// Bare returns a client that shares configuration and transport but runs
// no interceptors.
func (c *Client) Bare() *Client {
	return &Client{
		cfg:        c.cfg,
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		headers:    c.headers.Clone(),
		logger:     c.logger,
	}
}

func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, newRequest(http.MethodGet, path, nil, opts))
}

func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, newRequest(http.MethodPost, path, body, opts))
}

func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, newRequest(http.MethodPut, path, body, opts))
}

func (c *Client) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, newRequest(http.MethodPatch, path, body, opts))
}

func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, newRequest(http.MethodDelete, path, nil, opts))
}

// Do runs req through the interceptor chain. req is not modified.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	r := req.clone()
	if r.Attempt < 1 {
		r.Attempt = 1
	}
	if err := r.bufferBody(); err != nil {
		return nil, &RequestError{Method: r.Method, Path: r.Path, Err: err}
	}

	h := Handler(c.send)
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		h = c.interceptors[i](h)
	}
	return h(ctx, r)
}

func newRequest(method, path string, body any, opts []RequestOption) *Request {
	r := &Request{Method: method, Path: path, Body: body}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GetTimeout())
	defer cancel()

	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, &RequestError{Method: req.Method, Path: req.Path, Err: err}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Method: req.Method, URL: httpReq.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &NetworkError{Method: req.Method, URL: httpReq.URL.String(), Err: err}
	}

	c.logger.Debug("request completed",
		"method", req.Method,
		"path", req.Path,
		"status", resp.StatusCode,
		"attempt", req.Attempt,
		"request_id", httpReq.Header.Get(HeaderRequestID),
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newHTTPError(req.Method, httpReq.URL.String(), resp.StatusCode, body)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Request:    req,
	}, nil
}

func (c *Client) build(ctx context.Context, req *Request) (*http.Request, error) {
	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}

	for k, v := range c.headers {
		httpReq.Header[k] = append([]string(nil), v...)
	}
	if contentType != "" {
		httpReq.Header.Set(HeaderContentType, contentType)
	}
	for k, v := range req.Header {
		httpReq.Header[k] = append([]string(nil), v...)
	}
	if httpReq.Header.Get(HeaderRequestID) == "" {
		httpReq.Header.Set(HeaderRequestID, uuid.NewString())
	}

	return httpReq, nil
}

func (c *Client) resolve(path string, query url.Values) (string, error) {
	var target *url.URL
	var err error

	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		target, err = url.Parse(path)
	} else {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		target, err = url.Parse(c.baseURL + path)
	}
	if err != nil {
		return "", err
	}

	if len(query) > 0 {
		q := target.Query()
		for k, vals := range query {
			for _, v := range vals {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}

	return target.String(), nil
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case string:
		return strings.NewReader(b), "", nil
	case url.Values:
		return strings.NewReader(b.Encode()), mimeForm, nil
	case io.Reader:
		return b, "", nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(raw), mimeJSON, nil
	}
}

func newHTTPError(method, target string, status int, body []byte) *HTTPError {
	httpErr := &HTTPError{
		Method:     method,
		URL:        target,
		StatusCode: status,
		Body:       body,
	}

	var payload map[string]any
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		httpErr.Payload = payload
	}
	return httpErr
}
