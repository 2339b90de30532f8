package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 30 * time.Minute

// HTTPOptions parameterise the static markup fetcher.
type HTTPOptions struct {
	Timeout        time.Duration
	RequestDelay   time.Duration
	UserAgents     []string
	AcceptLanguage string
}

// HTTPFetcher issues plain GET requests with a fixed browser identity and per-host pacing.
type HTTPFetcher struct {
	opts      HTTPOptions
	client    *resty.Client
	userAgent string
	logger    zerolog.Logger

	limiterMu sync.Mutex
	limiters  *cache.Cache
}

// NewHTTP constructs an HTTPFetcher. The user agent is chosen once per instance.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = "en-US,en;q=0.5"
	}

	f := &HTTPFetcher{
		opts:      opts,
		userAgent: pickUserAgent(opts.UserAgents),
		logger:    logger.With().Str("component", "http_fetcher").Logger(),
		limiters:  cache.New(limiterIdleTTL, limiterIdleTTL),
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetHeaders(map[string]string{
		"User-Agent":                f.userAgent,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language":           opts.AcceptLanguage,
		"Connection":                "keep-alive",
		"Upgrade-Insecure-Requests": "1",
	})
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return f.wait(req.Context(), req.URL)
	})
	f.client = client

	return f
}

// UserAgent returns the identity this instance presents.
func (f *HTTPFetcher) UserAgent() string {
	return f.userAgent
}

// Fetch retrieves rawURL and returns its body, failing fast on non-2xx or timeout.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	resp, err := f.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		fe := classifyError(err)
		f.logger.Debug().Err(err).Str("url", rawURL).Str("kind", string(fe.Kind)).Msg("fetch failed")
		return Page{}, fe
	}

	if !resp.IsSuccess() {
		return Page{}, &FetchError{
			Kind:       KindHTTPStatus,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("unexpected status %q", resp.Status()),
		}
	}

	page := Page{
		URL:        rawURL,
		FinalURL:   rawURL,
		StatusCode: resp.StatusCode(),
		Body:       resp.String(),
		Latency:    resp.Time(),
	}
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		page.FinalURL = raw.Request.URL.String()
	}
	return page, nil
}

func (f *HTTPFetcher) wait(ctx context.Context, rawURL string) error {
	if f.opts.RequestDelay <= 0 {
		return nil
	}
	return f.limiterFor(hostOf(rawURL)).Wait(ctx)
}

func (f *HTTPFetcher) limiterFor(host string) *rate.Limiter {
	f.limiterMu.Lock()
	defer f.limiterMu.Unlock()

	if cached, ok := f.limiters.Get(host); ok {
		f.limiters.SetDefault(host, cached)
		return cached.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Every(f.opts.RequestDelay), 1)
	// Drain the initial burst so the first request to a host is paced too.
	limiter.Allow()
	f.limiters.SetDefault(host, limiter)
	return limiter
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return strings.ToLower(parsed.Hostname())
}

var _ Fetcher = (*HTTPFetcher)(nil)
