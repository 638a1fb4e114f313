// Package pagematch decides whether a page URL is a supported product page
// and extracts the page info the content context reports on load.
package pagematch

import (
	"net/url"
	"regexp"
	"strings"
)

// DefaultDomains are the retailer hosts recognised out of the box, without
// the optional "www." prefix.
var DefaultDomains = []string{
	"amazon.com",
	"amazon.co.uk",
	"amazon.de",
	"amazon.fr",
	"amazon.ca",
	"amazon.it",
	"amazon.es",
	"amazon.jp",
}

// DefaultProductPaths are path fragments that mark a product detail page.
var DefaultProductPaths = []string{"/dp/", "/gp/product/"}

// Matcher is a pure predicate over URLs, safe for concurrent use.
type Matcher struct {
	domains map[string]struct{}
	paths   *regexp.Regexp
}

// Option configures a Matcher.
type Option func(*matcherConfig)

type matcherConfig struct {
	domains []string
	paths   []string
}

// WithDomains replaces the supported host list.
func WithDomains(domains ...string) Option {
	return func(c *matcherConfig) {
		if len(domains) > 0 {
			c.domains = domains
		}
	}
}

// WithProductPaths replaces the product path fragments.
func WithProductPaths(paths ...string) Option {
	return func(c *matcherConfig) {
		if len(paths) > 0 {
			c.paths = paths
		}
	}
}

// NewMatcher builds a Matcher from the defaults and opts.
func NewMatcher(opts ...Option) *Matcher {
	cfg := &matcherConfig{
		domains: DefaultDomains,
		paths:   DefaultProductPaths,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	domains := make(map[string]struct{}, len(cfg.domains))
	for _, d := range cfg.domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d != "" {
			domains[d] = struct{}{}
		}
	}

	quoted := quotePaths(cfg.paths)
	if len(quoted) == 0 {
		quoted = quotePaths(DefaultProductPaths)
	}

	return &Matcher{
		domains: domains,
		paths:   regexp.MustCompile(`(?i)(` + strings.Join(quoted, "|") + `)`),
	}
}

var defaultMatcher = NewMatcher()

// IsSupportedPage reports whether rawURL is a product page on a supported
// retailer domain using the default matcher.
func IsSupportedPage(rawURL string) bool {
	return defaultMatcher.IsSupportedPage(rawURL)
}

// IsSupportedPage reports whether rawURL is on a supported host and its path
// contains a product fragment. Malformed input yields false.
func (m *Matcher) IsSupportedPage(rawURL string) bool {
	if m == nil || len(m.domains) == 0 {
		return false
	}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}

	if u.User != nil || u.Port() != "" {
		return false
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if _, ok := m.domains[host]; !ok {
		return false
	}

	path := u.EscapedPath()
	if path == "" || path == "/" {
		return false
	}

	return m.paths.MatchString(path)
}

func quotePaths(paths []string) []string {
	quoted := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			quoted = append(quoted, regexp.QuoteMeta(p))
		}
	}
	return quoted
}
