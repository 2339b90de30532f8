package extractor

import "strings"

// Selector locates a price node. When Attr is set the value is read from that attribute.
type Selector struct {
	CSS  string
	Attr string
}

// Ordered by priority: final-price markup before generic fallbacks.
var siteSelectors = map[SiteKind][]Selector{
	SiteAmazon: {
		{CSS: "#corePrice_feature_div span.a-offscreen"},
		{CSS: "#corePriceDisplay_desktop_feature_div span.a-offscreen"},
		{CSS: "span.a-price span.a-offscreen"},
		{CSS: "span#priceblock_dealprice"},
		{CSS: "span#priceblock_ourprice"},
		{CSS: "span.a-price-whole"},
		{CSS: "span.a-offscreen"},
		{CSS: `[itemprop="price"]`, Attr: "content"},
	},
	SiteFlipkart: {
		{CSS: "div.Nx9bqj.CxhGGd"},
		{CSS: "div._30jeq3._16Jk6d"},
		{CSS: "div._1vC4OE._3qQ9m1"},
		{CSS: "div._30jeq3"},
		{CSS: "div.Nx9bqj"},
		{CSS: `[itemprop="price"]`, Attr: "content"},
	},
}

// SelectorsFor returns the ordered selector list for kind.
func SelectorsFor(kind SiteKind) []Selector {
	return siteSelectors[kind]
}

// joinCSS combines selectors into one CSS selector list.
func joinCSS(selectors []Selector) string {
	parts := make([]string, 0, len(selectors))
	for _, s := range selectors {
		parts = append(parts, s.CSS)
	}
	return strings.Join(parts, ", ")
}
