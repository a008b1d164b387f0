package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/infer/runtime/inference/model"
	"goa.design/infer/runtime/inference/retry"
)

// fakeTransport replays canned responses and records each attempt's request.
type fakeTransport struct {
	responses []*http.Response
	requests  []*http.Request
	err       error
}

func (t *fakeTransport) Execute(req *http.Request) (*http.Response, error) {
	t.requests = append(t.requests, req)
	if t.err != nil {
		return nil, t.err
	}
	i := len(t.requests) - 1
	if i >= len(t.responses) {
		i = len(t.responses) - 1
	}
	return t.responses[i], nil
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func fastConfig(t Transport, opts ...Option) *Config {
	base := []Option{
		WithTransport(t),
		WithRetryPolicy(retry.Policy{
			MaxRetries:     2,
			InitialBackoff: time.Microsecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     2.0,
		}),
	}
	return New(append(base, opts...)...)
}

func buildGet() (*http.Request, error) {
	return http.NewRequest(http.MethodGet, "http://api.test/v1/messages", nil)
}

func TestSendWithRetrySucceeds(t *testing.T) {
	ft := &fakeTransport{responses: []*http.Response{response(200, "ok")}}
	resp, err := SendWithRetry(context.Background(), fastConfig(ft), nil, buildGet)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, "ok", string(body))
	require.Len(t, ft.requests, 1)
}

func TestSendWithRetryRetriesRetriableStatus(t *testing.T) {
	ft := &fakeTransport{responses: []*http.Response{
		response(503, `{"error":"unavailable"}`),
		response(503, `{"error":"unavailable"}`),
		response(200, "ok"),
	}}
	resp, err := SendWithRetry(context.Background(), fastConfig(ft), nil, buildGet)
	require.NoError(t, err)
	resp.Body.Close()
	require.Len(t, ft.requests, 3)
}

func TestSendWithRetryExhaustsBudget(t *testing.T) {
	ft := &fakeTransport{responses: []*http.Response{
		response(503, "unavailable"),
		response(503, "unavailable"),
		response(503, "unavailable"),
	}}
	_, err := SendWithRetry(context.Background(), fastConfig(ft), nil, buildGet)
	require.Len(t, ft.requests, 3)

	e, ok := model.AsError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrorKindRetryExhausted, e.Kind())
	require.Equal(t, 3, e.Attempts())
	last, ok := model.AsError(e.Unwrap())
	require.True(t, ok)
	require.Equal(t, 503, last.Status())
}

func TestSendWithRetryFatalStatusFailsOnce(t *testing.T) {
	ft := &fakeTransport{responses: []*http.Response{response(401, "no")}}
	_, err := SendWithRetry(context.Background(), fastConfig(ft), nil, buildGet)
	require.Len(t, ft.requests, 1)
	e, ok := model.AsError(err)
	require.True(t, ok)
	require.Equal(t, 401, e.Status())
}

func TestSendWithRetryUsesErrorDecoder(t *testing.T) {
	ft := &fakeTransport{responses: []*http.Response{
		response(429, `{"error":{"message":"slow down","type":"rate_limit_error"}}`),
	}}
	decoder := func(status int, body []byte) *model.Error {
		return model.NewAPIError(status, "decoded", "rate_limit_error")
	}
	cfg := fastConfig(ft, WithErrorDecoder(decoder), WithMaxRetries(0))
	_, err := SendWithRetry(context.Background(), cfg, nil, buildGet)
	e, ok := model.AsError(err)
	require.True(t, ok)
	require.Equal(t, "rate_limit_error", e.ProviderCode())
	require.Equal(t, "decoded", e.Message())
}

func TestSendWithRetryWrapsTransportError(t *testing.T) {
	ft := &fakeTransport{err: fmt.Errorf("connection refused")}
	cfg := fastConfig(ft, WithMaxRetries(0))
	_, err := SendWithRetry(context.Background(), cfg, nil, buildGet)
	e, ok := model.AsError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrorKindHTTP, e.Kind())
}

func TestHeaderMergePrecedence(t *testing.T) {
	ft := &fakeTransport{responses: []*http.Response{response(200, "ok")}}
	cfg := fastConfig(ft,
		WithBearerToken("sk-default"),
		WithHeader("X-Shared", "config"),
	)
	opts := model.NewRequestOptions().WithHeaders(map[string]string{
		"X-Shared": "options",
		"X-Extra":  "1",
	})
	resp, err := SendWithRetry(context.Background(), cfg, opts, buildGet)
	require.NoError(t, err)
	resp.Body.Close()

	sent := ft.requests[0].Header
	require.Equal(t, "Bearer sk-default", sent.Get("Authorization"))
	require.Equal(t, "options", sent.Get("X-Shared"))
	require.Equal(t, "1", sent.Get("X-Extra"))
}

func TestPerRequestRetryOverride(t *testing.T) {
	ft := &fakeTransport{responses: []*http.Response{
		response(503, "unavailable"),
		response(503, "unavailable"),
	}}
	opts := model.NewRequestOptions().WithRetries(0)
	_, err := SendWithRetry(context.Background(), fastConfig(ft), opts, buildGet)
	require.Len(t, ft.requests, 1)
	e, ok := model.AsError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrorKindAPI, e.Kind())
}

func TestConfigStringRedactsSecrets(t *testing.T) {
	cfg := New(
		WithBaseURL("https://api.test"),
		WithBearerToken("sk-live-super-secret"),
		WithAPIKeyHeader("x-api-key", "sk-ant-key"),
		WithHeader("Content-Type", "application/json"),
	)
	for _, rendered := range []string{
		cfg.String(),
		fmt.Sprintf("%v", cfg),
		fmt.Sprintf("%+v", cfg),
		fmt.Sprintf("%#v", cfg),
	} {
		require.NotContains(t, rendered, "sk-live-super-secret")
		require.NotContains(t, rendered, "sk-ant-key")
		require.Contains(t, rendered, model.RedactedToken)
	}
	require.Contains(t, cfg.String(), "https://api.test")
}

func TestConfigRedactionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("rendered config never contains the api key", prop.ForAll(
		func(key string) bool {
			if key == "" {
				return true
			}
			cfg := New(WithBearerToken("sk-" + key))
			rendered := fmt.Sprintf("%v %+v %#v", cfg, cfg, cfg)
			return !strings.Contains(rendered, "sk-"+key)
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func TestHTTPClientRoundTripperRetries(t *testing.T) {
	ft := &fakeTransport{responses: []*http.Response{
		response(503, "unavailable"),
		response(200, "ok"),
	}}
	client := fastConfig(ft).HTTPClient(nil)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://api.test/v1", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Len(t, ft.requests, 2)
}

func TestHTTPClientSingleAttemptWithoutReplayableBody(t *testing.T) {
	ft := &fakeTransport{responses: []*http.Response{
		response(503, "unavailable"),
		response(200, "ok"),
	}}
	client := fastConfig(ft).HTTPClient(nil)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "http://api.test/v1", io.NopCloser(strings.NewReader("{}")))
	require.NoError(t, err)
	req.GetBody = nil
	_, err = client.Do(req)
	require.Error(t, err)
	require.Len(t, ft.requests, 1)
}
