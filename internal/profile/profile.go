// Package profile holds crawl job configuration and the registry of active jobs.
package profile

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// Config describes a crawl job as loaded from configuration or the API.
type Config struct {
	Name                string        `mapstructure:"name" json:"name"`
	AgentName           string        `mapstructure:"agent_name" json:"agent_name,omitempty"`
	URLMustMatch        string        `mapstructure:"url_must_match" json:"url_must_match,omitempty"`
	URLMustNotMatch     string        `mapstructure:"url_must_not_match" json:"url_must_not_match,omitempty"`
	IPMustMatch         string        `mapstructure:"ip_must_match" json:"ip_must_match,omitempty"`
	IPMustNotMatch      string        `mapstructure:"ip_must_not_match" json:"ip_must_not_match,omitempty"`
	CountryMustMatch    []string      `mapstructure:"country_must_match" json:"country_must_match,omitempty"`
	Depth               int           `mapstructure:"depth" json:"depth"`
	DomMaxPages         int           `mapstructure:"dom_max_pages" json:"dom_max_pages,omitempty"`
	RecrawlIfOlder      time.Duration `mapstructure:"recrawl_if_older" json:"recrawl_if_older,omitempty"`
	RemoteIndexing      bool          `mapstructure:"remote_indexing" json:"remote_indexing,omitempty"`
	AllowQuery          bool          `mapstructure:"allow_query" json:"allow_query,omitempty"`
	AllowPOST           bool          `mapstructure:"allow_post" json:"allow_post,omitempty"`
	IndexUnparseable    bool          `mapstructure:"index_unparseable" json:"index_unparseable,omitempty"`
	CrossCheckMediaType bool          `mapstructure:"cross_check_media_type" json:"cross_check_media_type,omitempty"`
}

// CrawlProfile is the compiled, immutable form of a Config plus its live domain counter.
type CrawlProfile struct {
	handle          string
	cfg             Config
	urlMustMatch    *regexp.Regexp
	urlMustNotMatch *regexp.Regexp
	ipMustMatch     *regexp.Regexp
	ipMustNotMatch  *regexp.Regexp
	countries       map[string]struct{}
	recrawlIfOlder  time.Time
	domains         *DomainCounter
}

// New compiles cfg into a profile identified by handle.
// The recrawl threshold is fixed relative to now.
func New(handle string, cfg Config, now time.Time) (*CrawlProfile, error) {
	if handle == "" {
		return nil, fmt.Errorf("profile handle is required")
	}
	if cfg.Depth < 0 {
		return nil, fmt.Errorf("profile %q: depth must be >= 0", cfg.Name)
	}
	p := &CrawlProfile{
		handle:  handle,
		cfg:     cfg,
		domains: NewDomainCounter(),
	}
	var err error
	if p.urlMustMatch, err = compile(cfg.URLMustMatch); err != nil {
		return nil, fmt.Errorf("profile %q url_must_match: %w", cfg.Name, err)
	}
	if p.urlMustNotMatch, err = compile(cfg.URLMustNotMatch); err != nil {
		return nil, fmt.Errorf("profile %q url_must_not_match: %w", cfg.Name, err)
	}
	if p.ipMustMatch, err = compile(cfg.IPMustMatch); err != nil {
		return nil, fmt.Errorf("profile %q ip_must_match: %w", cfg.Name, err)
	}
	if p.ipMustNotMatch, err = compile(cfg.IPMustNotMatch); err != nil {
		return nil, fmt.Errorf("profile %q ip_must_not_match: %w", cfg.Name, err)
	}
	if len(cfg.CountryMustMatch) > 0 {
		p.countries = make(map[string]struct{}, len(cfg.CountryMustMatch))
		for _, c := range cfg.CountryMustMatch {
			p.countries[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
		}
	}
	if cfg.RecrawlIfOlder > 0 {
		p.recrawlIfOlder = now.Add(-cfg.RecrawlIfOlder)
	}
	return p, nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	if pattern == "" || pattern == ".*" {
		return nil, nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	return re, nil
}

// Handle returns the profile key.
func (p *CrawlProfile) Handle() string { return p.handle }

// Name returns the human-readable job name.
func (p *CrawlProfile) Name() string { return p.cfg.Name }

// AgentName returns the client identity used for robots.txt and politeness.
func (p *CrawlProfile) AgentName() string { return p.cfg.AgentName }

// Depth returns the maximum crawl depth.
func (p *CrawlProfile) Depth() int { return p.cfg.Depth }

// DomMaxPages returns the per-host page cap; zero or less means unlimited.
func (p *CrawlProfile) DomMaxPages() int { return p.cfg.DomMaxPages }

// RecrawlIfOlder is the point in time before which indexed documents are reloaded.
func (p *CrawlProfile) RecrawlIfOlder() time.Time { return p.recrawlIfOlder }

// RemoteIndexing reports whether work may be distributed to peers.
func (p *CrawlProfile) RemoteIndexing() bool { return p.cfg.RemoteIndexing }

// AllowQuery reports whether CGI and session-parameter URLs are accepted.
func (p *CrawlProfile) AllowQuery() bool { return p.cfg.AllowQuery }

// AllowPOST reports whether URLs carrying a query part are accepted.
func (p *CrawlProfile) AllowPOST() bool { return p.cfg.AllowPOST }

// IndexUnparseable reports whether unparseable documents get metadata-only indexing.
func (p *CrawlProfile) IndexUnparseable() bool { return p.cfg.IndexUnparseable }

// CrossCheckMediaType reports whether the media type must be verified by fetching.
func (p *CrawlProfile) CrossCheckMediaType() bool { return p.cfg.CrossCheckMediaType }

// Config returns a copy of the source configuration.
func (p *CrawlProfile) Config() Config {
	cfg := p.cfg
	cfg.CountryMustMatch = append([]string(nil), p.cfg.CountryMustMatch...)
	return cfg
}

// Domains returns the live per-host page counter.
func (p *CrawlProfile) Domains() *DomainCounter { return p.domains }

// URLMustMatchPattern returns the raw must-match expression.
func (p *CrawlProfile) URLMustMatchPattern() string {
	if p.cfg.URLMustMatch == "" {
		return ".*"
	}
	return p.cfg.URLMustMatch
}

// URLMustNotMatchPattern returns the raw must-not-match expression.
func (p *CrawlProfile) URLMustNotMatchPattern() string { return p.cfg.URLMustNotMatch }

// IPMustMatchPattern returns the raw IP must-match expression.
func (p *CrawlProfile) IPMustMatchPattern() string { return p.cfg.IPMustMatch }

// IPMustNotMatchPattern returns the raw IP must-not-match expression.
func (p *CrawlProfile) IPMustNotMatchPattern() string { return p.cfg.IPMustNotMatch }

// URLMatches reports whether u satisfies the must-match expression.
func (p *CrawlProfile) URLMatches(u string) bool {
	return p.urlMustMatch == nil || p.urlMustMatch.MatchString(u)
}

// URLExcluded reports whether u hits the must-not-match expression.
func (p *CrawlProfile) URLExcluded(u string) bool {
	return p.urlMustNotMatch != nil && p.urlMustNotMatch.MatchString(u)
}

// HasIPFilter reports whether accepting a URL requires resolving its host.
func (p *CrawlProfile) HasIPFilter() bool {
	return p.ipMustMatch != nil || p.ipMustNotMatch != nil
}

// IPMatches reports whether ip satisfies the must-match expression.
func (p *CrawlProfile) IPMatches(ip net.IP) bool {
	return p.ipMustMatch == nil || p.ipMustMatch.MatchString(ip.String())
}

// IPExcluded reports whether ip hits the must-not-match expression.
func (p *CrawlProfile) IPExcluded(ip net.IP) bool {
	return p.ipMustNotMatch != nil && p.ipMustNotMatch.MatchString(ip.String())
}

// HasCountryFilter reports whether accepting a URL requires geolocation.
func (p *CrawlProfile) HasCountryFilter() bool { return len(p.countries) > 0 }

// CountryAllowed reports whether the ISO country code is permitted.
func (p *CrawlProfile) CountryAllowed(code string) bool {
	if len(p.countries) == 0 {
		return true
	}
	_, ok := p.countries[strings.ToUpper(code)]
	return ok
}

// DomainCapReached reports whether host already hit the per-host page cap.
func (p *CrawlProfile) DomainCapReached(host string) bool {
	limit := p.cfg.DomMaxPages
	return limit > 0 && p.domains.Count(host) >= limit
}
