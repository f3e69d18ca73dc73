package stacker

import "github.com/JakeFAU/crawl-frontier/internal/noticed"

// Route is the destination class of an accepted request.
type Route int

const (
	// RouteNone means no class applies and the request is dropped.
	RouteNone Route = iota
	RouteLocal
	RouteGlobal
	RouteRemote
	RouteProxy
)

func (r Route) String() string {
	switch r {
	case RouteLocal:
		return "local"
	case RouteGlobal:
		return "global"
	case RouteRemote:
		return "remote"
	case RouteProxy:
		return "proxy"
	default:
		return "none"
	}
}

// Stack returns the frontier partition serving r.
func (r Route) Stack() (noticed.StackType, bool) {
	switch r {
	case RouteLocal, RouteProxy:
		return noticed.Local, true
	case RouteGlobal:
		return noticed.Global, true
	case RouteRemote:
		return noticed.Remote, true
	default:
		return 0, false
	}
}

// anonymousInitiator is the placeholder peer hash of URLs without an initiator.
const anonymousInitiator = "------------"

// RouteInput carries everything the routing decision depends on.
type RouteInput struct {
	Initiator      string
	PeerHash       string
	ProfileHandle  string
	RemoteHandle   string
	ProxyHandle    string
	RemoteIndexing bool
	Depth          int
	MaxDepth       int
	GlobalEligible bool
}

// Classify picks the route of a request. Conflicting classes are reported as warnings
// and resolved with the precedence global, local, proxy, remote.
func Classify(in RouteInput) (Route, []string) {
	local := in.PeerHash != "" && in.Initiator == in.PeerHash
	anonymous := in.Initiator == "" || in.Initiator == anonymousInitiator
	proxy := anonymous && in.ProfileHandle == in.ProxyHandle
	remote := in.ProfileHandle == in.RemoteHandle
	global := in.RemoteIndexing && in.Depth == in.MaxDepth && in.GlobalEligible

	var warnings []string
	switch {
	case global:
		if local {
			warnings = append(warnings, "url is both global and local")
		}
		if proxy {
			warnings = append(warnings, "url is both global and proxy")
		}
		if remote {
			warnings = append(warnings, "url is both global and remote")
		}
		return RouteGlobal, warnings
	case local:
		if proxy {
			warnings = append(warnings, "url is both local and proxy")
		}
		if remote {
			warnings = append(warnings, "url is both local and remote")
		}
		return RouteLocal, warnings
	case proxy:
		if remote {
			warnings = append(warnings, "url is both proxy and remote")
		}
		return RouteProxy, warnings
	case remote:
		return RouteRemote, nil
	default:
		return RouteNone, nil
	}
}
