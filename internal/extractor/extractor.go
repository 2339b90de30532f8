package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnsupportedSite indicates the URL does not belong to a known marketplace.
	ErrUnsupportedSite = errors.New("extractor: unsupported site")
	// ErrNotFound indicates every selector was exhausted without a price.
	ErrNotFound = errors.New("extractor: price not found")
	// ErrUnparseable indicates a price node matched but held no numeric token.
	ErrUnparseable = fmt.Errorf("%w: matched node without numeric price", ErrNotFound)
)

// Match is a located price.
type Match struct {
	Price    decimal.Decimal
	Selector string
	Rendered bool
}

// Renderer loads a page in a scriptable browser and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, url string, selectors []Selector) (string, error)
}

// Extractor applies ordered selectors to markup, escalating to a Renderer when the fast path fails.
type Extractor struct {
	renderer Renderer
	logger   zerolog.Logger
}

// New constructs an Extractor. A nil renderer disables the fallback path.
func New(renderer Renderer, logger zerolog.Logger) *Extractor {
	return &Extractor{renderer: renderer, logger: logger.With().Str("component", "extractor").Logger()}
}

// HasFallback reports whether a rendering fallback is configured.
func (e *Extractor) HasFallback() bool {
	return e.renderer != nil
}

// Extract locates a price in markup for kind.
func (e *Extractor) Extract(markup string, kind SiteKind) (Match, error) {
	if !kind.Supported() {
		return Match{}, ErrUnsupportedSite
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return Match{}, fmt.Errorf("%w: parse markup: %v", ErrNotFound, err)
	}
	return findPrice(doc, SelectorsFor(kind))
}

// Render runs the fallback path: load rawURL in the renderer and re-apply the same selectors.
func (e *Extractor) Render(ctx context.Context, rawURL string, kind SiteKind) (Match, error) {
	if !kind.Supported() {
		return Match{}, ErrUnsupportedSite
	}
	if e.renderer == nil {
		return Match{}, fmt.Errorf("%w: rendering fallback disabled", ErrNotFound)
	}

	selectors := SelectorsFor(kind)
	html, err := e.renderer.Render(ctx, rawURL, selectors)
	if err != nil {
		e.logger.Debug().Err(err).Str("url", rawURL).Msg("render fallback failed")
		return Match{}, fmt.Errorf("render %s: %w", kind, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Match{}, fmt.Errorf("%w: parse rendered markup: %v", ErrNotFound, err)
	}
	match, err := findPrice(doc, selectors)
	if err != nil {
		return Match{}, err
	}
	match.Rendered = true
	return match, nil
}

func findPrice(doc *goquery.Document, selectors []Selector) (Match, error) {
	matchedNode := false
	for _, sel := range selectors {
		var (
			found bool
			match Match
		)
		doc.Find(sel.CSS).EachWithBreak(func(_ int, node *goquery.Selection) bool {
			text := strings.TrimSpace(node.Text())
			if sel.Attr != "" {
				text, _ = node.Attr(sel.Attr)
			}
			if strings.TrimSpace(text) == "" {
				return true
			}
			matchedNode = true
			price, ok := ParsePrice(text)
			if !ok {
				return true
			}
			match = Match{Price: price, Selector: sel.CSS}
			found = true
			return false
		})
		if found {
			return match, nil
		}
	}
	if matchedNode {
		return Match{}, ErrUnparseable
	}
	return Match{}, ErrNotFound
}
