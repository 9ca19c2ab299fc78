package reqlayer

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/reqlayer/internal/csrf"
	"github.com/blueberrycongee/reqlayer/internal/httputil"
	"github.com/blueberrycongee/reqlayer/internal/interceptor"
	"github.com/blueberrycongee/reqlayer/internal/metrics"
	"github.com/blueberrycongee/reqlayer/internal/observability"
	"github.com/blueberrycongee/reqlayer/internal/resilience"
	"github.com/blueberrycongee/reqlayer/pkg/errors"
	"github.com/blueberrycongee/reqlayer/pkg/types"
)

// IdempotencyKeyHeader carries the idempotency key of mutating calls.
const IdempotencyKeyHeader = "Idempotency-Key"

// ErrClientClosed is returned by calls made after Close.
var ErrClientClosed = stderrors.New("reqlayer: client closed")

// Client is the single entry point for talking to the backend. Every call
// goes through the same interceptor chain: CSRF and cache-busting on the way
// out, envelope decoding, retry with backoff, and error normalization on the
// way back.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	config     *ClientConfig
	logger     *observability.Logger
	tracer     trace.Tracer
	metrics    *metrics.Collector

	chain   interceptor.Chain
	backoff *resilience.Backoff
	limiter *resilience.Limiter
	meta    *csrf.MetaSource
	csrf    csrf.Source

	// headers is replaced wholesale on every change; readers never lock.
	headers atomic.Pointer[http.Header]

	// wait sleeps between retries. Tests replace it to record delays.
	wait func(ctx context.Context, d time.Duration) error

	closed atomic.Bool
}

// New creates a new Client with the given options.
//
// Example:
//
//	client, err := reqlayer.New(
//	    reqlayer.WithBaseURL("https://admin.example.com"),
//	    reqlayer.WithRetry(3, time.Second),
//	)
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.RetryCount < 0 {
		return nil, fmt.Errorf("retry count cannot be negative")
	}

	c := &Client{
		config:  cfg,
		logger:  observability.Wrap(cfg.Logger, observability.NewRedactor()),
		tracer:  cfg.Tracer,
		metrics: metrics.NewCollector(),
		limiter: resilience.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		meta:    csrf.NewMetaSource(cfg.CSRFMeta),
		wait:    sleepContext,
	}

	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
		}
		c.baseURL = u
	}

	c.httpClient = cfg.HTTPClient
	if c.httpClient == nil {
		// Initialize HTTP client with connection pooling
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: cfg.Timeout,
		}
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		c.httpClient.Jar = jar
	}
	c.csrf = csrf.Chain(
		csrf.NewCookieSource(c.httpClient.Jar, c.baseURL, cfg.CSRFCookie),
		c.meta,
	)

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}
	c.headers.Store(&headers)

	c.backoff = resilience.NewBackoff(cfg.RetryBackoff, cfg.RetryMaxBackoff)
	c.backoff.Jitter = cfg.RetryJitter

	c.chain = c.buildChain()

	c.logger.Info("reqlayer client initialized",
		"base_url", cfg.BaseURL,
		"max_retries", cfg.RetryCount,
		"timeout", cfg.Timeout,
	)
	return c, nil
}

func (c *Client) buildChain() interceptor.Chain {
	cfg := c.config
	req := []interceptor.RequestFunc{
		interceptor.RequestID(),
		interceptor.CSRF(c.csrf, cfg.CSRFHeader),
	}
	if cfg.CacheBusterParam != "" {
		req = append(req, interceptor.CacheBuster(cfg.CacheBusterParam))
	}
	req = append(req, interceptor.TracePropagation())
	req = append(req, cfg.RequestInterceptors...)

	resp := []interceptor.ResponseFunc{interceptor.Envelope()}
	resp = append(resp, cfg.ResponseInterceptors...)
	resp = append(resp,
		interceptor.Retry(interceptor.RetryPolicy{
			MaxRetries: cfg.RetryCount,
			Backoff:    c.backoff,
			OnRetry: func(o *interceptor.Outcome) {
				c.metrics.RecordRetry(o.Method(), o.Status)
			},
		}, c.logger),
		interceptor.Finalize(c.logger),
	)
	return interceptor.Chain{Request: req, Response: resp}
}

// CallOption adjusts a single call.
type CallOption func(*types.Request)

// WithIdempotencyKey marks a mutating call as safe to retry.
func WithIdempotencyKey(key string) CallOption {
	return func(r *types.Request) { r.IdempotencyKey = key }
}

// WithMaxRetries overrides the retry limit for one call. 0 disables retries.
func WithMaxRetries(n int) CallOption {
	return func(r *types.Request) { r.MaxRetries = &n }
}

// WithRequestHeader sets a header on one call.
func WithRequestHeader(key, value string) CallOption {
	return func(r *types.Request) {
		if r.Header == nil {
			r.Header = http.Header{}
		}
		r.Header.Set(key, value)
	}
}

// Get issues a GET and decodes the unwrapped payload into out.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any, opts ...CallOption) error {
	return c.call(ctx, http.MethodGet, path, params, nil, out, opts)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...CallOption) error {
	return c.call(ctx, http.MethodPost, path, nil, body, out, opts)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...CallOption) error {
	return c.call(ctx, http.MethodPut, path, nil, body, out, opts)
}

// Patch issues a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any, opts ...CallOption) error {
	return c.call(ctx, http.MethodPatch, path, nil, body, out, opts)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, params url.Values, out any, opts ...CallOption) error {
	return c.call(ctx, http.MethodDelete, path, params, nil, out, opts)
}

// GetAs issues a GET and returns the payload decoded as T.
func GetAs[T any](ctx context.Context, c *Client, path string, params url.Values, opts ...CallOption) (T, error) {
	var out T
	err := c.Get(ctx, path, params, &out, opts...)
	return out, err
}

// PostAs issues a POST and returns the payload decoded as T.
func PostAs[T any](ctx context.Context, c *Client, path string, body any, opts ...CallOption) (T, error) {
	var out T
	err := c.Post(ctx, path, body, &out, opts...)
	return out, err
}

func (c *Client) call(ctx context.Context, method, path string, params url.Values, body, out any, opts []CallOption) error {
	req := &types.Request{Method: method, URL: path, Params: params, Body: body}
	for _, opt := range opts {
		opt(req)
	}
	return c.Do(ctx, req, out)
}

// Do sends req through the interceptor chain, retrying as the policy allows,
// and decodes the unwrapped payload into out when out is non-nil. Every
// returned error is an *errors.Error.
func (c *Client) Do(ctx context.Context, req *types.Request, out any) error {
	o, err := c.roundTrip(ctx, req, nil)
	if err != nil {
		return err
	}
	if out == nil || len(o.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(o.Data, out); err != nil {
		return errors.Decode(o.Status, err).WithRequest(o.Method(), o.URL(), o.Attempts())
	}
	return nil
}

// roundTrip runs the attempt loop. When sink is non-nil, 2xx bodies are
// streamed into it instead of being buffered. JSON bodies are buffered and
// written only after the envelope check accepts them.
func (c *Client) roundTrip(ctx context.Context, req *types.Request, sink io.Writer) (*interceptor.Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return nil, errors.Rejected(stderrors.New("nil request"))
	}
	if c.closed.Load() {
		return nil, errors.Rejected(ErrClientClosed)
	}

	// Each call runs on its own copy so retry state and generated keys never
	// leak into a descriptor the caller reuses.
	call := *req
	call.Retry = nil
	req = &call

	req.Method = strings.ToUpper(req.Method)
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if c.config.AutoIdempotencyKeys && req.IdempotencyKey == "" && types.IsMutating(req.Method) {
		req.IdempotencyKey = uuid.NewString()
	}

	target, err := c.resolve(req.URL, req.Params)
	if err != nil {
		return nil, errors.Rejected(err).WithRequest(req.Method, req.URL, 1)
	}
	payload, contentType, err := encodeBody(req)
	if err != nil {
		return nil, errors.Rejected(err).WithRequest(req.Method, target.String(), 1)
	}

	ctx, span := observability.StartRequestSpan(ctx, c.tracer, req.Method, target.String())
	defer span.End()
	ctx, _ = observability.GetOrCreateRequestID(ctx)

	start := time.Now()
	for {
		o := c.attempt(ctx, req, target, payload, contentType, sink)
		if !o.Retry {
			c.finish(span, o, start)
			if o.Err != nil {
				return o, o.Err
			}
			return o, nil
		}
		if err := c.wait(ctx, o.Delay); err != nil {
			e := errors.Canceled(err).WithRequest(req.Method, o.URL(), o.Attempts()-1)
			o.Err, o.Status = e, 0
			c.finish(span, o, start)
			return o, e
		}
	}
}

func (c *Client) attempt(ctx context.Context, req *types.Request, target *url.URL, payload []byte, contentType string, sink io.Writer) *interceptor.Outcome {
	o := &interceptor.Outcome{Request: req}

	if err := c.limiter.Wait(ctx); err != nil {
		o.Err = err
		return c.chain.ApplyResponse(o)
	}

	httpReq, err := c.newHTTPRequest(ctx, req, target, payload, contentType)
	if err == nil {
		httpReq, err = c.chain.ApplyRequest(httpReq)
	}
	if err != nil {
		o.Err = errors.Rejected(err)
		o.Terminal = true
		return c.chain.ApplyResponse(o)
	}
	o.HTTPRequest = httpReq

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		o.Err = err
		return c.chain.ApplyResponse(o)
	}
	defer resp.Body.Close()

	o.Status = resp.StatusCode
	o.Header = resp.Header

	if sink != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 && !isJSON(resp.Header) {
		w := httputil.NewProgressWriter(sink, resp.ContentLength, req.Progress)
		if _, err := io.Copy(w, resp.Body); err != nil {
			// Part of the body already reached the sink, so this cannot be retried.
			e := errors.Transport(fmt.Errorf("stream response: %w", err))
			e.Retryable = false
			o.Err, o.Terminal = e, true
		}
		return c.chain.ApplyResponse(o)
	}

	body, err := httputil.ReadBody(resp.Body, c.config.MaxResponseBytes)
	switch {
	case stderrors.Is(err, httputil.ErrBodyTooLarge):
		o.Err, o.Terminal = errors.Decode(resp.StatusCode, err), true
	case err != nil:
		o.Err, o.Status = fmt.Errorf("read response: %w", err), 0
	default:
		o.Body = body
	}
	o = c.chain.ApplyResponse(o)
	if sink != nil && o.Err == nil && o.OK() {
		// JSON downloads pass through the envelope check before reaching the sink.
		w := httputil.NewProgressWriter(sink, int64(len(body)), req.Progress)
		if _, err := w.Write(body); err != nil {
			o.Err = errors.Rejected(fmt.Errorf("write download: %w", err)).WithRequest(o.Method(), o.URL(), o.Attempts())
		}
	}
	return o
}

func isJSON(h http.Header) bool {
	mt, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	return err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
}

func (c *Client) newHTTPRequest(ctx context.Context, req *types.Request, target *url.URL, payload []byte, contentType string) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
		if req.Progress != nil {
			body = httputil.NewProgressReader(body, int64(len(payload)), req.Progress)
		}
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		httpReq.ContentLength = int64(len(payload))
		httpReq.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
		httpReq.Header.Set("Content-Type", contentType)
	}

	for k, vs := range *c.headers.Load() {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range req.Header {
		httpReq.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(IdempotencyKeyHeader, req.IdempotencyKey)
	}
	return httpReq, nil
}

func (c *Client) finish(span trace.Span, o *interceptor.Outcome, start time.Time) {
	c.metrics.RecordRequest(o.Method(), o.Status, time.Since(start))
	observability.RecordResponse(span, o.Status, o.Attempts())
	if o.Err != nil {
		if e, ok := errors.As(o.Err); ok {
			c.metrics.RecordFailure(string(e.Kind))
		}
		observability.RecordError(span, o.Err)
	}
}

// resolve joins path onto the base URL and merges params into the query.
// Absolute URLs are used as they are.
func (c *Client) resolve(path string, params url.Values) (*url.URL, error) {
	var raw string
	switch {
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		raw = path
	case c.baseURL != nil:
		raw = strings.TrimRight(c.baseURL.String(), "/") + "/" + strings.TrimLeft(path, "/")
	default:
		return nil, fmt.Errorf("relative path %q requires a base url", path)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func encodeBody(req *types.Request) ([]byte, string, error) {
	if req.RawBody != nil {
		ct := req.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		return req.RawBody, ct, nil
	}
	if req.Body == nil {
		return nil, "", nil
	}
	b, err := json.Marshal(req.Body)
	if err != nil {
		return nil, "", fmt.Errorf("encode body: %w", err)
	}
	return b, "application/json", nil
}

// SetAuthToken sets the bearer token sent with every subsequent request.
func (c *Client) SetAuthToken(token string) {
	c.updateHeaders(func(h http.Header) {
		if token == "" {
			h.Del("Authorization")
			return
		}
		h.Set("Authorization", "Bearer "+token)
	})
}

// ClearAuthToken stops sending the bearer token.
func (c *Client) ClearAuthToken() {
	c.SetAuthToken("")
}

// AuthToken returns the bearer token currently sent, or "".
func (c *Client) AuthToken() string {
	return strings.TrimPrefix(c.headers.Load().Get("Authorization"), "Bearer ")
}

func (c *Client) updateHeaders(fn func(http.Header)) {
	for {
		old := c.headers.Load()
		next := old.Clone()
		fn(next)
		if c.headers.CompareAndSwap(old, &next) {
			return
		}
	}
}

// LoadCSRFMeta scans an HTML document for the CSRF metadata tag. It reports
// whether a token was found.
func (c *Client) LoadCSRFMeta(r io.Reader) (bool, error) {
	return c.meta.LoadHTML(r)
}

// CSRFToken returns the token the next mutating request would carry.
func (c *Client) CSRFToken() string {
	return c.csrf.Token()
}

// BootstrapCSRF fetches a fresh token from the CSRF endpoint. The server
// usually also sets the cookie.
func (c *Client) BootstrapCSRF(ctx context.Context) (string, error) {
	fetch := func(ctx context.Context, path string, out any) error {
		return c.Get(ctx, path, nil, out)
	}
	token, err := csrf.Bootstrap(ctx, fetch, c.config.Endpoints.CSRF, c.meta)
	if err != nil {
		if e, ok := errors.As(err); ok {
			return "", e
		}
		return "", errors.Rejected(err)
	}
	c.logger.Debug("csrf token bootstrapped")
	return token, nil
}

// Close releases idle connections. Calls made afterwards fail.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	c.logger.Info("reqlayer client closed")
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
