// Package httpclient is the single HTTP entry point shared by provider
// adapters. It merges client defaults with per-request overrides, applies the
// retry/timeout policy to every dispatch, and maps transport and provider
// failures onto the shared error taxonomy. The transport itself is an
// injected capability so tests never hit the network.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"goa.design/infer/runtime/inference/model"
	"goa.design/infer/runtime/inference/retry"
	"goa.design/infer/runtime/inference/telemetry"
)

type (
	// Transport executes a single HTTP request attempt. It is satisfied by
	// HTTPTransport in production and by in-memory doubles in tests.
	Transport interface {
		Execute(req *http.Request) (*http.Response, error)
	}

	// ErrorDecoder maps a provider non-2xx response body onto the shared
	// error taxonomy. body is the full (already read) response body.
	ErrorDecoder func(status int, body []byte) *model.Error

	// Option configures a Config.
	Option func(*Config)

	// Config is the provider-agnostic client configuration: resolved default
	// headers (the raw API key is never retained, only the composed
	// headers), the retry and timeout policies, and the injected transport.
	// Built once and shared for the provider's lifetime.
	Config struct {
		baseURL   string
		headers   map[string]string
		policy    retry.Policy
		timeouts  retry.TimeoutPolicy
		transport Transport
		decodeErr ErrorDecoder
		logger    telemetry.Logger
		metrics   telemetry.Metrics
		tracer    telemetry.Tracer
	}

	// HTTPTransport adapts a net/http client to the Transport capability.
	HTTPTransport struct {
		Client *http.Client
	}
)

// Execute performs the request with the underlying net/http client.
func (t HTTPTransport) Execute(req *http.Request) (*http.Response, error) {
	return t.Client.Do(req)
}

// WithBaseURL overrides the provider endpoint base URL.
func WithBaseURL(u string) Option {
	return func(c *Config) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHeader adds a static header sent on every request.
func WithHeader(name, value string) Option {
	return func(c *Config) { c.headers[name] = value }
}

// WithBearerToken composes an Authorization Bearer header from the API key.
// The key is not retained beyond the composed header.
func WithBearerToken(token string) Option {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithAPIKeyHeader composes a provider-specific key header (for example,
// "x-api-key"). The key is not retained beyond the composed header.
func WithAPIKeyHeader(name, key string) Option {
	return WithHeader(name, key)
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.timeouts.PerAttempt = d }
}

// WithOverallTimeout bounds the whole dispatch including backoff sleeps.
func WithOverallTimeout(d time.Duration) Option {
	return func(c *Config) { c.timeouts.Overall = d }
}

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) Option {
	return func(c *Config) { c.policy.MaxRetries = n }
}

// WithRetryPolicy replaces the full retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Config) { c.policy = p }
}

// WithTransport overrides the underlying HTTP transport.
func WithTransport(t Transport) Option {
	return func(c *Config) { c.transport = t }
}

// WithErrorDecoder installs the provider-specific error body mapper.
func WithErrorDecoder(d ErrorDecoder) Option {
	return func(c *Config) { c.decodeErr = d }
}

// WithLogger installs a logger for dispatch events. Default is noop.
func WithLogger(l telemetry.Logger) Option {
	return func(c *Config) { c.logger = l }
}

// WithMetrics installs a metrics recorder for dispatch counters. Default is
// noop.
func WithMetrics(m telemetry.Metrics) Option {
	return func(c *Config) { c.metrics = m }
}

// WithTracer installs a tracer for dispatch spans. Default is noop.
func WithTracer(t telemetry.Tracer) Option {
	return func(c *Config) { c.tracer = t }
}

// New builds a Config with the default retry and timeout policies.
func New(opts ...Option) *Config {
	c := &Config{
		headers:  make(map[string]string),
		policy:   retry.DefaultPolicy(),
		timeouts: retry.DefaultTimeoutPolicy(),
		logger:   telemetry.NoopLogger{},
		metrics:  telemetry.NoopMetrics{},
		tracer:   telemetry.NoopTracer{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.transport == nil {
		c.transport = HTTPTransport{Client: &http.Client{}}
	}
	return c
}

// BaseURL returns the configured endpoint base URL.
func (c *Config) BaseURL() string { return c.baseURL }

// Headers returns a copy of the composed default headers, secrets included.
// Callers must never render the returned map; display paths go through
// String/GoString which redact.
func (c *Config) Headers() map[string]string {
	out := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		out[k] = v
	}
	return out
}

// RetryPolicy returns the configured retry policy.
func (c *Config) RetryPolicy() retry.Policy { return c.policy }

// TimeoutPolicy returns the configured timeout policy.
func (c *Config) TimeoutPolicy() retry.TimeoutPolicy { return c.timeouts }

// String renders the config with every sensitive header value replaced by
// the redaction token.
func (c *Config) String() string {
	red := model.RedactHeaders(c.headers)
	names := make([]string, 0, len(red))
	for k := range red {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("httpclient.Config{base_url=")
	b.WriteString(c.baseURL)
	b.WriteString(" headers={")
	for i, k := range names {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%s", k, red[k])
	}
	fmt.Fprintf(&b, "} retries=%d per_attempt=%s}", c.policy.MaxRetries, c.timeouts.PerAttempt)
	return b.String()
}

// GoString matches String so %#v never reveals key material either.
func (c *Config) GoString() string { return c.String() }

// SendWithRetry executes an idempotent request under the merged retry and
// timeout policy. build is invoked once per attempt and must return a fresh
// request (bodies are consumed by each attempt); any context the built
// request carries is replaced by one derived from ctx that survives until
// the response body is closed. opts may be nil.
//
// Header precedence: config defaults fill only headers the built request
// does not already set; per-request extras override both.
func SendWithRetry(ctx context.Context, cfg *Config, opts *model.RequestOptions, build func() (*http.Request, error)) (*http.Response, error) {
	policy := cfg.policy
	timeouts := cfg.timeouts
	transport := cfg.transport
	if opts != nil {
		if opts.MaxRetries != nil {
			policy.MaxRetries = *opts.MaxRetries
		}
		if opts.Timeout > 0 {
			timeouts.PerAttempt = opts.Timeout
		}
		if opts.Proxy != "" {
			t, err := proxyTransport(opts.Proxy)
			if err != nil {
				return nil, err
			}
			transport = t
		}
	}

	sctx, span := cfg.tracer.Start(ctx, "infer.dispatch")
	defer span.End()

	var out *http.Response
	attempt := 0
	err := retry.Do(sctx, policy, timeouts, func(actx context.Context) error {
		attempt++
		start := time.Now()
		err := dispatchOnce(sctx, actx, cfg, opts, transport, build, &out)
		cfg.metrics.RecordTimer("infer.dispatch.attempt", time.Since(start))
		if err != nil {
			cfg.metrics.IncCounter("infer.dispatch.errors", 1)
			cfg.logger.Warn(sctx, "dispatch attempt failed", "attempt", attempt, "err", err.Error())
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// dispatchOnce runs a single attempt. ctx is the caller's context (the
// response body must remain readable after the attempt window closes); actx
// carries the per-attempt budget and is only consulted until response
// headers arrive.
func dispatchOnce(ctx, actx context.Context, cfg *Config, opts *model.RequestOptions, transport Transport, build func() (*http.Request, error), out **http.Response) error {
	req, err := build()
	if err != nil {
		return model.NewSerializationError(err)
	}

	rctx, rcancel := context.WithCancel(ctx)
	stop := context.AfterFunc(actx, rcancel)
	req = req.WithContext(rctx)

	for k, v := range cfg.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	if opts != nil {
		for k, v := range opts.ExtraHeaders {
			req.Header.Set(k, v)
		}
	}

	resp, err := transport.Execute(req)
	if err != nil {
		stop()
		rcancel()
		if aerr := actx.Err(); aerr != nil {
			// Report the attempt context's own error so an elapsed per-attempt
			// deadline is classified as a timeout, not a cancellation.
			return aerr
		}
		if ctx.Err() != nil {
			return err
		}
		return model.NewHTTPError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		stop()
		rcancel()
		if cfg.decodeErr != nil {
			if e := cfg.decodeErr(resp.StatusCode, body); e != nil {
				return e
			}
		}
		return model.NewAPIError(resp.StatusCode, strings.TrimSpace(string(body)), "")
	}

	// Headers arrived within the attempt budget; detach the request from the
	// attempt window and tie its cancellation to the body instead.
	stop()
	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: rcancel}
	*out = resp
	return nil
}

// cancelOnCloseBody releases the request context when the consumer is done
// with the response, so sockets are returned promptly on cancellation.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func proxyTransport(proxy string) (Transport, error) {
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, model.NewConfigError(fmt.Sprintf("invalid proxy url: %v", err))
	}
	return HTTPTransport{Client: &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(u)},
	}}, nil
}
