// Package blacklist matches crawl candidates against operator-maintained block rules.
// Rules can change while requests are queued, so the frontier consults it both on
// acceptance and again on pop.
package blacklist

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// Blacklist holds exact hosts, suffix wildcards and URL expressions.
type Blacklist struct {
	mu       sync.RWMutex
	exact    map[string]struct{}
	suffixes []string
	urls     []*regexp.Regexp
}

// New compiles host patterns ("example.org", "*.example.org", ".example.org") and URL expressions.
func New(hosts, urlPatterns []string) (*Blacklist, error) {
	b := &Blacklist{}
	if err := b.Replace(hosts, urlPatterns); err != nil {
		return nil, err
	}
	return b, nil
}

// Replace swaps the full rule set atomically.
func (b *Blacklist) Replace(hosts, urlPatterns []string) error {
	exact := make(map[string]struct{})
	var suffixes []string
	for _, raw := range hosts {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			suffixes = addSuffix(suffixes, strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			suffixes = addSuffix(suffixes, strings.TrimPrefix(value, "."))
		default:
			exact[value] = struct{}{}
		}
	}
	urls := make([]*regexp.Regexp, 0, len(urlPatterns))
	for _, raw := range urlPatterns {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		re, err := regexp.Compile("^(?:" + raw + ")$")
		if err != nil {
			return fmt.Errorf("blacklist pattern %q: %w", raw, err)
		}
		urls = append(urls, re)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exact = exact
	b.suffixes = suffixes
	b.urls = urls
	return nil
}

func addSuffix(suffixes []string, suffix string) []string {
	if suffix == "" {
		return suffixes
	}
	for _, existing := range suffixes {
		if existing == suffix {
			return suffixes
		}
	}
	return append(suffixes, suffix)
}

// AddHost blocks one more host pattern.
func (b *Blacklist) AddHost(pattern string) {
	value := strings.TrimSpace(strings.ToLower(pattern))
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case value == "":
	case strings.HasPrefix(value, "*."):
		b.suffixes = addSuffix(b.suffixes, strings.TrimPrefix(value, "*."))
	case strings.HasPrefix(value, "."):
		b.suffixes = addSuffix(b.suffixes, strings.TrimPrefix(value, "."))
	default:
		b.exact[value] = struct{}{}
	}
}

// IsListed reports whether u is blocked by host or URL rule.
func (b *Blacklist) IsListed(u *url.URL) bool {
	if b == nil || u == nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	b.mu.RLock()
	defer b.mu.RUnlock()
	if host != "" {
		if _, exact := b.exact[host]; exact {
			return true
		}
		for _, suffix := range b.suffixes {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return true
			}
		}
	}
	if len(b.urls) > 0 {
		s := u.String()
		for _, re := range b.urls {
			if re.MatchString(s) {
				return true
			}
		}
	}
	return false
}
