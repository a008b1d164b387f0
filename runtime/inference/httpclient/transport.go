package httpclient

import (
	"net/http"

	"goa.design/infer/runtime/inference/model"
)

// HTTPClient returns a net/http client whose round trips go through
// SendWithRetry, so provider SDK clients constructed with it inherit the
// merged header, retry, and timeout behavior of this config. opts may be nil.
func (c *Config) HTTPClient(opts *model.RequestOptions) *http.Client {
	return &http.Client{Transport: &dispatchRoundTripper{cfg: c, opts: opts}}
}

// dispatchRoundTripper adapts SendWithRetry to http.RoundTripper for SDKs
// that only accept an *http.Client.
type dispatchRoundTripper struct {
	cfg  *Config
	opts *model.RequestOptions
}

func (rt *dispatchRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	opts := rt.opts
	if req.Body != nil && req.GetBody == nil {
		// The body cannot be replayed; restrict this call to one attempt.
		single := *model.NewRequestOptions()
		if opts != nil {
			single = *opts
		}
		single.WithRetries(0)
		opts = &single
	}
	first := true
	build := func() (*http.Request, error) {
		if first {
			first = false
			return req, nil
		}
		clone := req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			clone.Body = body
		}
		return clone, nil
	}
	return SendWithRetry(req.Context(), rt.cfg, opts, build)
}
