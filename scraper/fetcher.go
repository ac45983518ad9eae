package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"kpc/config"
	"kpc/logger"
	"kpc/models"
)

const maxBodyBytes = 64 << 20

// ErrBodyTooLarge is returned when a response body exceeds the fetcher's limit
var ErrBodyTooLarge = errors.New("response body too large")

// Response is a fully read HTTP response
type Response struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// ContentType returns the lowercased Content-Type header
func (r *Response) ContentType() string {
	return strings.ToLower(r.Header.Get("Content-Type"))
}

// Location returns the redirect target, if any
func (r *Response) Location() string {
	return r.Header.Get("Location")
}

// Fetcher is the plain HTTP client shared by a harvester. Transport failures
// are retried a bounded number of times with a linear back-off; HTTP status
// codes are returned to the caller as-is.
type Fetcher struct {
	client     *http.Client
	noRedirect *http.Client
	userAgent  string
	headers    map[string]string
	attempts   int
	delay      time.Duration
	limiter    *rate.Limiter
	maxBody    int64
	logger     *logger.Logger
}

// FetcherOption customises a Fetcher
type FetcherOption func(*Fetcher)

// WithHeaders sets headers sent on every request
func WithHeaders(h map[string]string) FetcherOption {
	return func(f *Fetcher) {
		for k, v := range h {
			f.headers[k] = v
		}
	}
}

// WithTransport replaces the HTTP transport
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *Fetcher) {
		f.client.Transport = rt
		f.noRedirect.Transport = rt
	}
}

// WithMaxBody caps the number of body bytes read per response
func WithMaxBody(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

// NewFetcher creates a fetcher from the harvest settings
func NewFetcher(cfg config.HarvestConfig, log *logger.Logger, opts ...FetcherOption) *Fetcher {
	if log == nil {
		log = logger.Nop()
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 700 * time.Millisecond
	}
	limit := rate.Inf
	if cfg.RequestRate > 0 {
		limit = rate.Limit(cfg.RequestRate)
	}

	f := &Fetcher{
		client: &http.Client{Timeout: timeout},
		noRedirect: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: cfg.UserAgent,
		headers:   map[string]string{"Accept-Language": "sq-AL,sq;q=0.9,en;q=0.8"},
		attempts:  attempts,
		delay:     delay,
		limiter:   rate.NewLimiter(limit, 4),
		maxBody:   maxBodyBytes,
		logger:    log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get fetches url following redirects
func (f *Fetcher) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return f.do(ctx, f.client, url, headers)
}

// Probe fetches url without following redirects so the caller can read Location
func (f *Fetcher) Probe(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return f.do(ctx, f.noRedirect, url, headers)
}

// FetchHTML returns the body of a successful page fetch. 403 and 429 answers
// are reported as models.ErrSourceBlocked.
func (f *Fetcher) FetchHTML(ctx context.Context, url string) (string, error) {
	resp, err := f.Get(ctx, url, nil)
	if err != nil {
		return "", err
	}
	switch {
	case resp.Status == http.StatusForbidden || resp.Status == http.StatusTooManyRequests:
		return "", fmt.Errorf("%s answered %d: %w", url, resp.Status, models.ErrSourceBlocked)
	case !resp.OK():
		return "", fmt.Errorf("unexpected status %d for %s", resp.Status, url)
	}
	return string(resp.Body), nil
}

func (f *Fetcher) do(ctx context.Context, client *http.Client, url string, headers map[string]string) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}

		resp, err := f.once(ctx, client, url, headers)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrBodyTooLarge) {
			return nil, err
		}
		lastErr = err
		if attempt == f.attempts {
			break
		}

		wait := f.delay * time.Duration(attempt)
		f.logger.Debug("Fetch failed, retrying", "url", url, "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("fetch %s failed after %d attempts: %w", url, f.attempts, lastErr)
}

func (f *Fetcher) once(ctx context.Context, client *http.Client, url string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("%s exceeds %d bytes: %w", url, f.maxBody, ErrBodyTooLarge)
	}
	return &Response{
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}, nil
}
