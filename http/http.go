package http

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const DefaultTimeout = 30 * time.Second

type HeadersTransport struct {
	base    http.RoundTripper
	Headers map[string]string
}

func (t *HeadersTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// NewClient returns a client that retries only requests that never reached the server.
// Status code handling is left to the caller, which knows which answers are worth retrying.
func NewClient(headers map[string]string) *http.Client {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = DefaultTimeout
	client.HTTPClient.Transport = &HeadersTransport{
		base:    cleanhttp.DefaultPooledTransport(),
		Headers: headers,
	}
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.CheckRetry = CheckConnectionRetry
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil

	return client.StandardClient()
}

func CheckConnectionRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	return err != nil, nil
}
