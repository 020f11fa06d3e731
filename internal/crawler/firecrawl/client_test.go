package firecrawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFastClient shrinks the backoff so retry paths finish quickly.
func newFastClient(baseURL, apiKey string, maxAttempts int) *Client {
	c := NewClient(baseURL, apiKey, maxAttempts, 10*time.Millisecond)
	c.retryConfig.InitialDelay = time.Millisecond
	c.retryConfig.MaxDelay = 5 * time.Millisecond
	return c
}

func TestStartCrawlRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/crawl", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Rate limit exceeded"}`))
			return
		}
		w.Write([]byte(`{"id":"job-1","status":"scraping"}`))
	}))
	defer srv.Close()

	client := newFastClient(srv.URL, "test-key", 3)

	status, err := client.StartCrawl(context.Background(), CrawlRequest{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", status.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStartCrawlServerErrorsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"job-2","status":"scraping"}`))
	}))
	defer srv.Close()

	client := newFastClient(srv.URL, "test-key", 5)

	status, err := client.StartCrawl(context.Background(), CrawlRequest{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "job-2", status.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorIsFatal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	client := newFastClient(srv.URL, "bad-key", 5)

	_, err := client.StartCrawl(context.Background(), CrawlRequest{URL: "https://example.com"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx other than 429 must not be retried")
}

func TestRetryAfterParsing(t *testing.T) {
	resp := &http.Response{StatusCode: 429, Header: http.Header{}}
	httpErr := newHTTPError(resp, "/crawl", "Rate limit exceeded, retry after 7s")
	after, ok := httpErr.RetryAfter()
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, after)

	resp.Header.Set("Retry-After", "3")
	httpErr = newHTTPError(resp, "/crawl", "")
	after, ok = httpErr.RetryAfter()
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, after)

	httpErr = newHTTPError(&http.Response{StatusCode: 500, Header: http.Header{}}, "/crawl", "boom")
	_, ok = httpErr.RetryAfter()
	assert.False(t, ok)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal("completed"))
	assert.True(t, IsTerminal("Failed"))
	assert.True(t, IsTerminal("cancelled"))
	assert.False(t, IsTerminal("scraping"))
	assert.False(t, IsTerminal(""))
}

func TestPollUntilComplete(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/crawl/job-3", r.URL.Path)
		if calls.Add(1) < 3 {
			w.Write([]byte(`{"id":"job-3","status":"scraping","completed":5,"total":10}`))
			return
		}
		w.Write([]byte(`{"id":"job-3","status":"completed","completed":10,"total":10,"data":[{"markdown":"# Page","metadata":{"sourceURL":"https://example.com/p"}}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", 1, 10*time.Millisecond)

	status, err := client.PollUntilComplete(context.Background(), "job-3")
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	require.Len(t, status.Data, 1)
	assert.Equal(t, "https://example.com/p", status.Data[0].Metadata.SourceURL)
}
