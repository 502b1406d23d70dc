package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	xhttp "MarketPull/pkg/http"
)

// HTTPServiceBase is the shared foundation for JSON-over-HTTP collaborators.
type HTTPServiceBase struct {
	baseURL string
	headers map[string]string
	client  *xhttp.Client
	backoff time.Duration
}

// NewHTTPServiceBase builds a client for baseURL. Headers are sent with
// every request.
func NewHTTPServiceBase(baseURL string, timeout time.Duration, headers map[string]string) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	return &HTTPServiceBase{
		baseURL: baseURL,
		headers: h,
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
		backoff: 200 * time.Millisecond,
	}
}

// SetBackoff changes the linear retry step.
func (b *HTTPServiceBase) SetBackoff(d time.Duration) { b.backoff = d }

func (b *HTTPServiceBase) Configured() bool { return b.baseURL != "" }

// PostJSON posts payload to path under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("http client not configured")
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     b.baseURL + path,
		Headers: b.headers,
		Body:    payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// PostJSONWithRetry retries transient failures up to attempts times. A 4xx
// answer other than 429 is returned at once.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload interface{}, dest interface{}, attempts int) error {
	if attempts <= 1 {
		return b.PostJSON(ctx, path, payload, dest)
	}
	var err error
	for i := 1; i <= attempts; i++ {
		err = b.PostJSON(ctx, path, payload, dest)
		if err == nil || !transient(err) || i == attempts {
			return err
		}
		select {
		case <-time.After(time.Duration(i) * b.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func transient(err error) bool {
	if se, ok := xhttp.AsStatusError(err); ok {
		return se.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}
