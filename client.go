package poingest

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultPageLimit is the source-imposed page size cap.
	DefaultPageLimit = 100
	// DefaultMaxAttempts bounds retries of a single page fetch.
	DefaultMaxAttempts = 5
	// DefaultRequestTimeout bounds each HTTP call so a run never hangs.
	DefaultRequestTimeout = 60 * time.Second
)

// Client fetches pages of purchase-order data from the upstream HTTP source.
// It owns retry/backoff for transient failures (network, 429, 5xx), honors
// Retry-After on rate limits, and refreshes the auth token once on 401.
// 4xx other than 401/429 and malformed payloads are fatal and propagate
// without retry.
type Client struct {
	httpClient *http.Client
	sourceURL  string
	tokens     TokenSource

	// MaxAttempts is the total number of tries per page, including the first.
	MaxAttempts int
	// Backoff returns the delay before retry attempt n (1-based).
	Backoff func(attempt int) time.Duration
}

// NewClient create a fetch Client for sourceURL authenticating via tokens.
func NewClient(httpClient *http.Client, sourceURL string, tokens TokenSource) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &Client{
		httpClient:  httpClient,
		sourceURL:   sourceURL,
		tokens:      tokens,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     expBackoff,
	}
}

// expBackoff is 2s, 4s, 8s... capped at 30s.
func expBackoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// DateWindow bounds a fetch by creation date. Nil ends are unbounded: daily
// runs set only From, backfill slices set both, full historical runs neither.
type DateWindow struct {
	From *time.Time
	To   *time.Time
}

// FetchPage retrieves and normalizes one page within the given date window.
func (c *Client) FetchPage(ctx context.Context, offset, limit int, window DateWindow) (*Page, error) {
	if limit <= 0 || limit > DefaultPageLimit {
		limit = DefaultPageLimit
	}
	refreshed := false
	var lastErr error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		page, retryAfter, err := c.fetchOnce(ctx, offset, limit, window, &refreshed)
		if err == nil {
			return page, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		if attempt == c.MaxAttempts {
			break
		}
		delay := c.Backoff(attempt)
		if retryAfter > 0 {
			delay = retryAfter
		}
		DefaultLogger.Warn(ctx, "page fetch attempt %v/%v failed, offset:%v, retry in %v, err:%v", attempt, c.MaxAttempts, offset, delay, err)
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, NewIngestError(ErrCodeRetryable, "page fetch failed after %v attempts, offset:%v", c.MaxAttempts, offset, lastErr)
}

// fetchOnce performs a single request. retryAfter is non-zero only when the
// source answered 429 with an explicit Retry-After.
func (c *Client) fetchOnce(ctx context.Context, offset, limit int, window DateWindow, refreshed *bool) (*Page, time.Duration, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, 0, err
	}

	q := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	if window.From != nil {
		q.Set("start_date", window.From.UTC().Format("2006-01-02"))
	}
	if window.To != nil {
		q.Set("end_date", window.To.UTC().Format("2006-01-02"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sourceURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, NewIngestError(ErrCodeConfig, "build page request failed, offset:%v", offset, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, NewIngestError(ErrCodeGeneral, "page request canceled, offset:%v", offset, ctx.Err())
		}
		return nil, 0, NewIngestError(ErrCodeRetryable, "page request failed, offset:%v", offset, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, NewIngestError(ErrCodeRetryable, "read page response failed, offset:%v", offset, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		page, err := NormalizePage(body, offset)
		if err != nil {
			return nil, 0, err
		}
		return page, 0, nil
	case resp.StatusCode == http.StatusUnauthorized:
		if *refreshed {
			return nil, 0, NewIngestError(ErrCodeAuth, "source returned 401 after token refresh, offset:%v", offset)
		}
		*refreshed = true
		if _, err := c.tokens.Refresh(ctx); err != nil {
			return nil, 0, err
		}
		// one immediate retry with the fresh token
		return c.fetchOnce(ctx, offset, limit, window, refreshed)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, retryAfter, NewIngestError(ErrCodeRetryable, "source rate limited request, offset:%v, retry_after:%v", offset, retryAfter)
	case resp.StatusCode >= 500:
		return nil, 0, NewIngestError(ErrCodeRetryable, "source returned status:%v, offset:%v", resp.StatusCode, offset)
	default:
		return nil, 0, NewIngestError(ErrCodeFatalHTTP, "source returned status:%v, offset:%v", resp.StatusCode, offset)
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return NewIngestError(ErrCodeGeneral, "canceled while waiting to retry", ctx.Err())
	case <-timer.C:
		return nil
	}
}
