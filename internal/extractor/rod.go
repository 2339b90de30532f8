package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// RodOptions parameterise the headless browser fallback.
type RodOptions struct {
	BrowserBin      string
	Headless        bool
	NoSandbox       bool
	UserAgent       string
	PageLoadTimeout time.Duration
	ImplicitWait    time.Duration
}

// RodRenderer spawns a browser process per call and tears it down on every exit path.
type RodRenderer struct {
	opts   RodOptions
	logger zerolog.Logger
}

// NewRodRenderer constructs a RodRenderer.
func NewRodRenderer(opts RodOptions, logger zerolog.Logger) *RodRenderer {
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = 30 * time.Second
	}
	if opts.ImplicitWait < 0 {
		opts.ImplicitWait = 0
	}
	return &RodRenderer{opts: opts, logger: logger.With().Str("component", "rod_renderer").Logger()}
}

// Render loads rawURL, waits for the price selectors to appear, and returns the page HTML.
func (r *RodRenderer) Render(ctx context.Context, rawURL string, selectors []Selector) (html string, err error) {
	l := launcher.New().
		Context(ctx).
		Headless(r.opts.Headless).
		NoSandbox(r.opts.NoSandbox)
	if r.opts.BrowserBin != "" {
		l = l.Bin(r.opts.BrowserBin)
	}
	defer l.Cleanup()
	defer l.Kill()

	controlURL, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			r.logger.Debug().Err(closeErr).Msg("close browser")
		}
	}()

	// Rod reports failures through panics in some helpers.
	defer func() {
		if rec := recover(); rec != nil {
			html = ""
			err = fmt.Errorf("render panic: %v", rec)
		}
	}()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer func() {
		_ = page.Close()
	}()

	if r.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.opts.UserAgent}); err != nil {
			return "", fmt.Errorf("set user agent: %w", err)
		}
	}

	loading := page.Timeout(r.opts.PageLoadTimeout)
	if err := loading.Navigate(rawURL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := loading.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}

	if r.opts.ImplicitWait > 0 && len(selectors) > 0 {
		if _, err := page.Timeout(r.opts.ImplicitWait).Element(joinCSS(selectors)); err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				return "", fmt.Errorf("wait for price element: %w", err)
			}
			r.logger.Debug().Str("url", rawURL).Msg("price element did not appear within implicit wait")
		}
	}

	html, err = page.HTML()
	if err != nil {
		return "", fmt.Errorf("read rendered html: %w", err)
	}
	return html, nil
}

var _ Renderer = (*RodRenderer)(nil)
