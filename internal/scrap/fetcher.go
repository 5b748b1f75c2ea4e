// Package scrap fetches the auxiliary payload stored next to a feed item.
package scrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrFetch matches every *FetchError.
var ErrFetch = errors.New("fetch failed")

// FetchError reports a failed retrieval. Status is 0 for transport errors.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Fetcher retrieves the raw body behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// DefaultMaxBody caps the stored payload.
const DefaultMaxBody = 10 << 20

// HTTPFetcher fetches over HTTP with a per-domain limiter.
type HTTPFetcher struct {
	Client    *http.Client
	Limiter   *DomainLimiter
	MaxBody   int64
	UserAgent string
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher builds a fetcher whose requests time out after timeout.
func NewHTTPFetcher(timeout time.Duration, limiter *DomainLimiter) *HTTPFetcher {
	if limiter == nil {
		limiter = NewDomainLimiter(MaxConcurrencyPerDomain, DelayBetweenDomainRequests)
	}
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		Limiter:   limiter,
		MaxBody:   DefaultMaxBody,
		UserAgent: "hyperfeed/1.0",
	}
}

// Fetch returns the body of a 2xx response. Anything else is a *FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, &FetchError{URL: url, Err: errors.New("empty url")}
	}
	domain := Domain(url)
	if f.Limiter != nil {
		if err := f.Limiter.Acquire(ctx, domain); err != nil {
			return nil, &FetchError{URL: url, Err: err}
		}
		defer f.Limiter.Release(domain)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: url, Status: resp.StatusCode}
	}

	limit := f.MaxBody
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if int64(len(body)) > limit {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("body exceeds %d bytes", limit)}
	}
	return body, nil
}
