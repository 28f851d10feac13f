package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/spimex-sync/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration

	// MaxRetries is the total number of attempts per request. Overrides
	// Retry.MaxAttempts when positive.
	MaxRetries int
	Retry      resilience.RetryConfig

	// RequestsPerSecond is the starting rate per host. Default 5.
	RequestsPerSecond float64

	Breaker resilience.CircuitBreakerConfig
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

type hostState struct {
	limiter *AdaptiveLimiter
	breaker *resilience.CircuitBreaker
}

// HTTPFetcher implements Fetcher using net/http with per-host rate limiting
// and retry with backoff. Listing requests also pass a per-host circuit
// breaker.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu    sync.Mutex
	hosts map[string]*hostState
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "spimex-sync/1.0"
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Retry.MaxAttempts == 0 && opts.Retry.InitialBackoff == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	opts.Retry = opts.Retry.WithMaxAttempts(opts.MaxRetries)
	if opts.Breaker.FailureThreshold == 0 {
		opts.Breaker = resilience.DefaultCircuitBreakerConfig()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:  opts,
		hosts: make(map[string]*hostState),
	}
}

func (f *HTTPFetcher) hostFor(u *url.URL) *hostState {
	f.mu.Lock()
	defer f.mu.Unlock()
	hs, ok := f.hosts[u.Host]
	if !ok {
		burst := max(int(f.opts.RequestsPerSecond), 1)
		hs = &hostState{
			limiter: NewAdaptiveLimiter(rate.Limit(f.opts.RequestsPerSecond), burst),
			breaker: resilience.NewCircuitBreaker(f.opts.Breaker),
		}
		f.hosts[u.Host] = hs
	}
	return hs
}

// doWithRetry sends req with retries. When guarded, the host's circuit
// breaker is consulted once before the first attempt and told the outcome
// of the request as a whole, so retries of one request count once.
func (f *HTTPFetcher) doWithRetry(ctx context.Context, req *http.Request, guarded bool) (*http.Response, error) {
	hs := f.hostFor(req.URL)

	if guarded {
		if err := hs.breaker.Allow(); err != nil {
			return nil, eris.Wrapf(err, "host %s", req.URL.Host)
		}
	}

	cfg := f.opts.Retry
	cfg.OnRetry = resilience.RetryLogger("http get", req.URL.String())

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*http.Response, error) {
		if err := hs.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			hs.limiter.OnRateLimit()
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			_ = resp.Body.Close()
			return nil, resilience.NewTransientError(
				eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String()), resp.StatusCode)
		}

		hs.limiter.OnSuccess()
		return resp, nil
	})
	if guarded {
		hs.breaker.Record(err)
	}
	return resp, err
}

// Download fetches a listing page and returns the response body. Requests
// go through the host's circuit breaker, so a host that keeps failing is
// not walked page after page.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	return f.get(ctx, rawURL, true)
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string, guarded bool) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.doWithRetry(ctx, req, guarded)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, eris.Errorf("download: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	return resp.Body, nil
}

// DownloadToFile fetches the URL into a hidden temp file next to path and
// renames it into place once the body has been fully written. Transfers
// bypass the circuit breaker: each file succeeds or fails on its own
// retries, whatever happened to its siblings.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, fs afero.Fs, rawURL string, path string) (int64, error) {
	body, err := f.get(ctx, rawURL, false)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	return WriteFileAtomic(fs, path, body)
}

// WriteFileAtomic copies r into path through a temp file in the same
// directory. The temp file is removed on any failure.
func WriteFileAtomic(fs afero.Fs, path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return 0, eris.Wrapf(err, "create dir %s", dir)
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return 0, eris.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = fs.Remove(tmpName)
		return n, eris.Wrap(err, "write file")
	}

	if err := fs.Rename(tmpName, path); err != nil {
		_ = fs.Remove(tmpName)
		return n, eris.Wrapf(err, "rename into %s", path)
	}
	return n, nil
}
