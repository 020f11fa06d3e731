package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/pkg/logger"
	"github.com/cellavenue/rag-backend/pkg/retry"
)

// Client talks to the hosted crawling provider. Rate limits (429) and server
// errors (5xx) are retried with increasing backoff; other HTTP errors are
// fatal to the scope being crawled.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	retryConfig  retry.Config
	pollInterval time.Duration
}

// HTTPError carries the provider's status and any "retry after N seconds"
// hint it supplied.
type HTTPError struct {
	StatusCode int
	Path       string
	Detail     string
	retryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d on %s: %s", e.StatusCode, e.Path, e.Detail)
}

// RetryAfter implements retry.AfterHinter.
func (e *HTTPError) RetryAfter() (time.Duration, bool) {
	return e.retryAfter, e.retryAfter > 0
}

var retryAfterRE = regexp.MustCompile(`(?i)retry after (\d+)s`)

type ScrapeOptions struct {
	Formats            []string `json:"formats"`
	OnlyMainContent    bool     `json:"onlyMainContent"`
	RemoveBase64Images bool     `json:"removeBase64Images"`
}

type CrawlRequest struct {
	URL                string        `json:"url"`
	IncludePaths       []string      `json:"includePaths,omitempty"`
	ExcludePaths       []string      `json:"excludePaths,omitempty"`
	Limit              int           `json:"limit"`
	MaxDiscoveryDepth  int           `json:"maxDiscoveryDepth"`
	AllowExternalLinks bool          `json:"allowExternalLinks"`
	ScrapeOptions      ScrapeOptions `json:"scrapeOptions"`
}

type PageMetadata struct {
	SourceURL string `json:"sourceURL"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Language  string `json:"language"`
}

type CrawlPage struct {
	Markdown string       `json:"markdown"`
	Metadata PageMetadata `json:"metadata"`
}

type CrawlStatus struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Completed int         `json:"completed"`
	Total     int         `json:"total"`
	Data      []CrawlPage `json:"data"`
}

func NewClient(baseURL, apiKey string, maxAttempts int, pollInterval time.Duration) *Client {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	retryConfig := retry.Config{
		MaxAttempts:    maxAttempts,
		InitialDelay:   2 * time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Classify:       isRetryable,
		Logger:         logger.GetLogger(),
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 180 * time.Second},
		retryConfig:  retryConfig,
		pollInterval: pollInterval,
	}
}

func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	// Network-level failures are worth retrying.
	return true
}

func (c *Client) request(ctx context.Context, method, path string, payload, out any) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		var body io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("failed to marshal payload: %w", err)
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed for %s: %w", path, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return newHTTPError(resp, path, string(respBody))
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("failed to parse response from %s: %w", path, err)
			}
		}
		return nil
	})
}

func newHTTPError(resp *http.Response, path, detail string) *HTTPError {
	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Path:       path,
		Detail:     detail,
	}

	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.Atoi(h); err == nil {
			httpErr.retryAfter = time.Duration(secs) * time.Second
		}
	}
	if httpErr.retryAfter == 0 {
		if m := retryAfterRE.FindStringSubmatch(detail); m != nil {
			if secs, err := strconv.Atoi(m[1]); err == nil {
				httpErr.retryAfter = time.Duration(secs) * time.Second
			}
		}
	}

	return httpErr
}

// StartCrawl submits a crawl job and returns its initial status.
func (c *Client) StartCrawl(ctx context.Context, req CrawlRequest) (*CrawlStatus, error) {
	var status CrawlStatus
	if err := c.request(ctx, http.MethodPost, "/crawl", req, &status); err != nil {
		return nil, err
	}
	if status.ID == "" {
		return nil, fmt.Errorf("no crawl id returned by provider")
	}

	logger.Info("Crawl started", zap.String("crawl_id", status.ID))
	return &status, nil
}

// GetStatus fetches the current state of a crawl job.
func (c *Client) GetStatus(ctx context.Context, crawlID string) (*CrawlStatus, error) {
	var status CrawlStatus
	if err := c.request(ctx, http.MethodGet, "/crawl/"+crawlID, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// IsTerminal reports whether a crawl status will not change anymore.
func IsTerminal(status string) bool {
	switch strings.ToLower(status) {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

// PollUntilComplete polls the job until it reaches a terminal state.
func (c *Client) PollUntilComplete(ctx context.Context, crawlID string) (*CrawlStatus, error) {
	for {
		status, err := c.GetStatus(ctx, crawlID)
		if err != nil {
			return nil, err
		}
		if IsTerminal(status.Status) {
			return status, nil
		}

		logger.Debug("Crawl in progress",
			zap.String("crawl_id", crawlID),
			zap.String("status", status.Status),
			zap.Int("completed", status.Completed),
			zap.Int("total", status.Total),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}
