package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = time.Second
)

// Request describes one HTTP GET the fetcher should issue.
type Request struct {
	URL    string
	Header map[string]string
}

// Result carries the outcome for one request. Err is set only after every
// retry attempt was exhausted; the body of non-2xx responses is still
// returned because publisher rejections are detected via body sentinels.
type Result struct {
	Body string
	Err  error
}

// Unavailable reports whether the request produced no usable response.
func (r Result) Unavailable() bool {
	return r.Err != nil
}

// Config controls connection behavior shared by all requests of one fetcher.
type Config struct {
	Limit              int
	Proxy              string
	InsecureSkipVerify bool
	DefaultHeader      map[string]string
	MaxAttempts        int
	BackoffBase        time.Duration
	Timeout            time.Duration
}

// Fetcher issues many HTTP requests concurrently under a fixed in-flight cap
// and retries transport-level failures with exponential backoff.
type Fetcher struct {
	client      *http.Client
	limit       int
	header      map[string]string
	maxAttempts int
	backoffBase time.Duration
	logger      *slog.Logger
}

// New builds a fetcher from config. An invalid proxy URL is a configuration
// error.
func New(cfg Config, logger *slog.Logger) (*Fetcher, error) {
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
	}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %s: %w", cfg.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	if cfg.Limit < 1 {
		cfg.Limit = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Fetcher{
		client:      &http.Client{Transport: transport, Timeout: timeout},
		limit:       cfg.Limit,
		header:      cfg.DefaultHeader,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		logger:      logger,
	}, nil
}

// FetchAll executes every request concurrently, at most Limit in flight, and
// returns one result per request in the input order regardless of completion
// order. A request that exhausted its retries yields a Result with Err set;
// FetchAll itself never fails for the whole batch.
func (f *Fetcher) FetchAll(ctx context.Context, requests []Request) []Result {
	results := make([]Result, len(requests))

	var group errgroup.Group
	group.SetLimit(f.limit)
	for i, req := range requests {
		i, req := i, req
		group.Go(func() error {
			results[i] = f.fetchWithRetry(ctx, req)
			return nil
		})
	}
	_ = group.Wait()

	return results
}

// Probe issues a single GET and reports the HTTP status code. Keyed publisher
// strategies use it to validate credentials eagerly at construction.
func (f *Fetcher) Probe(ctx context.Context, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, req Request) Result {
	var lastErr error
	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := f.backoffBase << (attempt - 1)
			f.debug("retrying request", "url", req.URL, "attempt", attempt+1, "delay", delay)
			if err := sleep(ctx, delay); err != nil {
				return Result{Err: err}
			}
		}

		body, err := f.fetchOnce(ctx, req)
		if err == nil {
			return Result{Body: body}
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{Err: err}
		}
		lastErr = err
	}

	f.warn("request unavailable after retries", "url", req.URL, "attempts", f.maxAttempts, "error", lastErr)
	return Result{Err: fmt.Errorf("request %s unavailable after %d attempts: %w", req.URL, f.maxAttempts, lastErr)}
}

// fetchOnce performs one GET. Transport-level failures are returned as errors
// and thus retried; HTTP error status codes are not, their body is handed to
// the caller unchanged.
func (f *Fetcher) fetchOnce(ctx context.Context, req Request) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", req.URL, err)
	}
	for key, value := range f.header {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Header {
		httpReq.Header.Set(key, value)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body of %s: %w", req.URL, err)
	}
	return string(body), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}

func (f *Fetcher) warn(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}
