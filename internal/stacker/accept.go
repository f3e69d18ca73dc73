package stacker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/balancer"
	"github.com/JakeFAU/crawl-frontier/internal/digest"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
	"github.com/JakeFAU/crawl-frontier/internal/noticed"
	"github.com/JakeFAU/crawl-frontier/internal/profile"
	"github.com/JakeFAU/crawl-frontier/internal/request"
	"github.com/JakeFAU/crawl-frontier/internal/store"
	"github.com/JakeFAU/crawl-frontier/internal/urlutil"
)

var defaultProtocols = map[string]struct{}{"http": {}, "https": {}, "ftp": {}}

// StackCrawl runs every acceptance check on req and pushes it into its partition.
// It returns nil when req was queued and a *Rejection otherwise.
func (s *Stacker) StackCrawl(ctx context.Context, req request.Request) error {
	rej := s.stackCrawl(ctx, req)
	if rej == nil {
		return nil
	}
	metrics.ObserveRejected(string(rej.Kind))
	if rej.Kind != KindDuplicate {
		s.record(ctx, req, rej)
	}
	return rej
}

func (s *Stacker) stackCrawl(ctx context.Context, req request.Request) *Rejection {
	p, err := s.deps.Profiles.Get(req.ProfileHandle)
	if err != nil {
		return &Rejection{
			Kind:   KindInactiveProfile,
			Reason: fmt.Sprintf("profile %s is not active", req.ProfileHandle),
			cause:  profile.ErrInactiveProfile,
		}
	}
	u, err := req.Parsed()
	if err != nil {
		return reject(KindMalformed, "malformed url: %v", err)
	}
	if rej := s.CheckAcceptanceChangeable(ctx, u, p, req.Depth); rej != nil {
		return rej
	}
	if rej := s.CheckAcceptanceInitially(ctx, req.Hash, u, p); rej != nil {
		return rej
	}

	route, warnings := Classify(RouteInput{
		Initiator:      req.Initiator,
		PeerHash:       s.cfg.PeerHash,
		ProfileHandle:  p.Handle(),
		RemoteHandle:   s.deps.Profiles.Remote().Handle(),
		ProxyHandle:    s.deps.Profiles.Proxy().Handle(),
		RemoteIndexing: p.RemoteIndexing(),
		Depth:          req.Depth,
		MaxDepth:       p.Depth(),
		GlobalEligible: s.cfg.GlobalEligible,
	})
	for _, w := range warnings {
		s.logger.Warn("conflicting crawl route", zap.String("url", req.URL), zap.String("warning", w))
	}
	stack, ok := route.Stack()
	if !ok {
		return reject(KindNoRoute, "no crawl route for initiator %q", req.Initiator)
	}

	if !p.CrossCheckMediaType() && s.isUnparseable(u) {
		if !p.IndexUnparseable() {
			return reject(KindMediaType, "url file extension %q is not supported and indexing of linked non-parsable documents is disabled", urlutil.Extension(u))
		}
		stack = noticed.NoLoad
	}

	if err := s.deps.Frontier.Push(stack, req, p); err != nil {
		if errors.Is(err, balancer.ErrDoubleOccurrence) {
			return &Rejection{Kind: KindDuplicate, Reason: err.Error(), cause: err}
		}
		return &Rejection{Kind: KindPush, Reason: fmt.Sprintf("push to %s stack failed: %v", stack, err), cause: err}
	}
	metrics.ObserveAccepted(stack.String())
	if stack != noticed.NoLoad {
		s.preloadRobots(u)
	}
	s.logger.Debug("request accepted",
		zap.String("url", req.URL),
		zap.String("stack", stack.String()),
		zap.String("route", route.String()),
		zap.Int("depth", req.Depth),
	)
	return nil
}

// CheckAcceptanceChangeable runs the checks whose outcome depends on configuration that
// may change while a request waits in the frontier. Cheap checks run first.
func (s *Stacker) CheckAcceptanceChangeable(ctx context.Context, u *url.URL, p *profile.CrawlProfile, depth int) *Rejection {
	if !s.protocolSupported(u.Scheme) {
		return reject(KindProtocol, "unsupported protocol")
	}
	if reason := s.domainScope(u); reason != "" {
		return reject(KindScope, "denied_(%s)", reason)
	}
	if s.deps.Blacklist != nil && s.deps.Blacklist.IsListed(u) {
		return reject(KindBlacklist, "url in blacklist")
	}
	raw := u.String()
	if depth > 0 && !p.URLMatches(raw) {
		return reject(KindMustMatch, "url does not match must-match crawling filter %s", p.URLMustMatchPattern())
	}
	if depth > 0 && p.URLExcluded(raw) {
		return reject(KindMustNotMatch, "url matches must-not-match crawling filter %s", p.URLMustNotMatchPattern())
	}
	if (urlutil.HasSessionID(u) || urlutil.IsCGI(u)) && !p.AllowQuery() {
		return reject(KindDynamic, "individual url (sessionid etc) not wanted")
	}
	if urlutil.IsPOST(u) && !p.AllowPOST() {
		return reject(KindDynamic, "post url not allowed")
	}
	if depth == 0 || (!p.HasIPFilter() && !p.HasCountryFilter()) {
		return nil
	}

	ip, rej := s.resolve(ctx, u.Hostname())
	if rej != nil {
		return rej
	}
	if !p.IPMatches(ip) {
		return reject(KindIP, "ip %s of url does not match must-match filter", ip)
	}
	if p.IPExcluded(ip) {
		return reject(KindIP, "ip %s of url matches must-not-match filter", ip)
	}
	if p.HasCountryFilter() {
		if s.deps.Countries == nil {
			return reject(KindCountry, "no location for ip %s", ip)
		}
		code, err := s.deps.Countries.Country(ip)
		if err != nil || code == "" {
			return reject(KindCountry, "no location for ip %s", ip)
		}
		if !p.CountryAllowed(code) {
			return reject(KindCountry, "url does not match country must-match filter for country %s", code)
		}
	}
	return nil
}

// CheckAcceptanceInitially runs the checks against current frontier and index state.
func (s *Stacker) CheckAcceptanceInitially(ctx context.Context, hash digest.Hash, u *url.URL, p *profile.CrawlProfile) *Rejection {
	if stack, ok := s.deps.Frontier.ExistsInStack(hash); ok {
		return reject(KindDuplicate, "double in: %s", stack)
	}
	if p.DomainCapReached(u.Hostname()) {
		return reject(KindDomainCap, "crawl stack domain counter exceeded (test by profile)")
	}
	if s.deps.Index == nil {
		return nil
	}
	indexedAt, ok, err := s.deps.Index.LastIndexed(ctx, hash)
	if err != nil {
		s.logger.Warn("index lookup failed", zap.String("digest", string(hash)), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	if p.RecrawlIfOlder().After(indexedAt) {
		s.logger.Debug("recrawl due", zap.String("url", u.String()), zap.Time("indexed_at", indexedAt))
		return nil
	}
	return reject(KindRecrawlNotDue, "double in: index, indexed at %s", indexedAt.UTC().Format(time.RFC3339))
}

func (s *Stacker) protocolSupported(scheme string) bool {
	if s.deps.Protocols != nil {
		return s.deps.Protocols.IsSupportedProtocol(scheme)
	}
	_, ok := defaultProtocols[scheme]
	return ok
}

func (s *Stacker) domainScope(u *url.URL) string {
	local := urlutil.IsLocalHost(u.Hostname())
	switch {
	case local && !s.cfg.AcceptLocal:
		return "the host is local but local addresses are not accepted"
	case !local && !s.cfg.AcceptGlobal:
		return "the host is global but global addresses are not accepted"
	default:
		return ""
	}
}

func (s *Stacker) resolve(ctx context.Context, host string) (net.IP, *Rejection) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	resolver := s.deps.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	ips, err := resolver.LookupIP(ctx, "ip", host)
	if err != nil || len(ips) == 0 {
		return nil, reject(KindIP, "the dns of host %s cannot be resolved", host)
	}
	return ips[0], nil
}

func (s *Stacker) isUnparseable(u *url.URL) bool {
	ext := urlutil.Extension(u)
	if ext == "" {
		return false
	}
	_, ok := s.unparseable[ext]
	return ok
}

func (s *Stacker) record(ctx context.Context, req request.Request, rej *Rejection) {
	if s.deps.Errors == nil {
		return
	}
	entry := store.ErrorEntry{
		Hash:          req.Hash,
		URL:           req.URL,
		ProfileHandle: req.ProfileHandle,
		Initiator:     req.Initiator,
		Kind:          string(rej.Kind),
		Reason:        rej.Reason,
		At:            time.Now().UTC(),
	}
	if err := s.deps.Errors.Push(ctx, entry); err != nil {
		s.logger.Warn("error log push failed", zap.String("url", req.URL), zap.Error(err))
	}
}
