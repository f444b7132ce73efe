package feeds

import (
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/internal/httpclient"
)

// Fetcher retrieves a feed source. The caller closes the returned body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPFetcher fetches over HTTP with SSRF protection and a shared rate limit
// across all feeds.
type HTTPFetcher struct {
	client  *httpclient.SaferClient
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a fetcher with the given request timeout and a
// requests-per-minute ceiling shared by every feed.
func NewHTTPFetcher(timeout time.Duration, requestsPerMinute int) *HTTPFetcher {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	return &HTTPFetcher{
		client:  httpclient.NewSaferClient(timeout),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

// Fetch performs a rate-limited GET and returns the response body on 200.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build request for %s", url)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Newf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	return resp.Body, nil
}
