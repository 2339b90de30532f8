package extractor

import (
	"net/url"
	"sort"
	"strings"
)

// SiteKind identifies a supported marketplace.
type SiteKind string

const (
	SiteUnsupported SiteKind = ""
	SiteAmazon      SiteKind = "amazon"
	SiteFlipkart    SiteKind = "flipkart"
)

var defaultHostRules = map[string]SiteKind{
	"amazon":   SiteAmazon,
	"amzn":     SiteAmazon,
	"flipkart": SiteFlipkart,
}

// Classifier maps product URLs to a SiteKind by host substring.
type Classifier struct {
	rules []hostRule
}

type hostRule struct {
	fragment string
	kind     SiteKind
}

// NewClassifier builds a classifier from the built-in marketplace rules plus extra host fragments.
func NewClassifier(extra map[string]SiteKind) *Classifier {
	merged := make(map[string]SiteKind, len(defaultHostRules)+len(extra))
	for k, v := range defaultHostRules {
		merged[k] = v
	}
	for k, v := range extra {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || !v.Supported() {
			continue
		}
		merged[k] = v
	}

	rules := make([]hostRule, 0, len(merged))
	for fragment, kind := range merged {
		rules = append(rules, hostRule{fragment: fragment, kind: kind})
	}
	// Longest fragment first so overrides win over generic rules.
	sort.Slice(rules, func(i, j int) bool {
		if len(rules[i].fragment) != len(rules[j].fragment) {
			return len(rules[i].fragment) > len(rules[j].fragment)
		}
		return rules[i].fragment < rules[j].fragment
	})
	return &Classifier{rules: rules}
}

// Classify returns the SiteKind for rawURL, or SiteUnsupported.
func (c *Classifier) Classify(rawURL string) SiteKind {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return SiteUnsupported
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return SiteUnsupported
	}
	host := strings.ToLower(parsed.Host)
	for _, rule := range c.rules {
		if strings.Contains(host, rule.fragment) {
			return rule.kind
		}
	}
	return SiteUnsupported
}

// Supported reports whether k names a known marketplace.
func (k SiteKind) Supported() bool {
	return k == SiteAmazon || k == SiteFlipkart
}

// ParseSiteKind converts a config value to a SiteKind.
func ParseSiteKind(v string) SiteKind {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case string(SiteAmazon):
		return SiteAmazon
	case string(SiteFlipkart):
		return SiteFlipkart
	default:
		return SiteUnsupported
	}
}
