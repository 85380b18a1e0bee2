package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"terraind/pkg/tracker"
	"terraind/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("terraind/%s", version.Version)

// ClientConfig tunes retry and backoff behavior for Client.
type ClientConfig struct {
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Timeout   time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Client issues HTTP requests to tile hosts with per-host request
// serialization, usage tracking and exponential backoff on failure. It
// deliberately carries no response cache: TileCache already owns the only
// cache terrain tiles need, keyed by their own deterministic hash, and a
// second byte-cache underneath it would just be redundant, unbounded
// storage with no eviction policy of its own.
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	retries    int

	mu     sync.Mutex
	queues map[string]chan job
}

type job struct {
	req      *http.Request
	headers  map[string]string
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a Client that reports usage to t.
func New(t *tracker.Tracker, cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tracker:    t,
		backoff:    NewProviderBackoff(cfg.BaseDelay, cfg.MaxDelay),
		retries:    cfg.Retries,
		queues:     make(map[string]chan job),
	}
}

// Get performs a GET request, queued behind other requests to the same host.
// cacheKey is accepted for interface parity with tile-fetching callers that
// pass one through unused; Client itself never caches.
func (c *Client) Get(ctx context.Context, u, cacheKey string) ([]byte, error) {
	return c.GetWithHeaders(ctx, u, nil)
}

// GetWithHeaders performs a GET request with custom headers.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	c.dispatch(parsed.Host, job{req: req, headers: headers, respChan: respChan})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

// Post performs a POST request, queued behind other requests to the same host.
func (c *Client) Post(ctx context.Context, u string, body []byte, contentType string) ([]byte, error) {
	return c.PostWithHeaders(ctx, u, body, map[string]string{"Content-Type": contentType})
}

// PostWithHeaders performs a POST request with custom headers.
func (c *Client) PostWithHeaders(ctx context.Context, u string, body []byte, headers map[string]string) ([]byte, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	c.dispatch(parsed.Host, job{req: req, headers: headers, respChan: respChan})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

// dispatch sends j to host's queue, creating the queue's worker on first use.
func (c *Client) dispatch(host string, j job) {
	c.mu.Lock()
	q, ok := c.queues[host]
	if !ok {
		q = make(chan job, 100)
		c.queues[host] = q
		go c.worker(host, q)
	}
	c.mu.Unlock()

	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a single host sequentially, so one slow or
// rate-limited host never blocks requests to another.
func (c *Client) worker(host string, q <-chan job) {
	for j := range q {
		if j.req.Context().Err() != nil {
			j.respChan <- jobResult{err: j.req.Context().Err()}
			continue
		}

		uaSet := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaSet = true
			}
		}
		if !uaSet {
			j.req.Header.Set("User-Agent", defaultUserAgent)
		}

		body, err := c.executeWithRetry(host, j.req)
		if err == nil {
			c.tracker.TrackAPISuccess(host)
			c.backoff.RecordSuccess(host)
		} else {
			c.tracker.TrackAPIFailure(host)
		}

		j.respChan <- jobResult{body: body, err: err}
	}
}

// executeWithRetry attempts req up to c.retries times, waiting out the
// host's backoff window between attempts.
func (c *Client) executeWithRetry(host string, req *http.Request) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.retries; attempt++ {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		c.backoff.Wait(host)

		slog.Debug("tile request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			lastErr = err
			c.backoff.RecordFailure(host)
			slog.Warn("tile request failed, retrying", "url", req.URL, "attempt", attempt+1, "error", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode < 600) {
			resp.Body.Close()
			lastErr = fmt.Errorf("tile host error: status %d", resp.StatusCode)
			c.backoff.RecordFailure(host)
			slog.Warn("tile host backoff", "status", resp.StatusCode, "url", req.URL, "attempt", attempt+1)
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, fmt.Errorf("tile host error: status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
