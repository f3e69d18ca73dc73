// Package urlutil classifies crawl candidate URLs.
package urlutil

import (
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var defaultPorts = map[string]int{
	"http":  80,
	"https": 443,
	"ftp":   21,
	"smb":   445,
}

var cgiExtensions = map[string]struct{}{
	"cgi": {},
	"exe": {},
	"pl":  {},
}

var sessionKeys = map[string]struct{}{
	"jsessionid":   {},
	"phpsessid":    {},
	"sessionid":    {},
	"session_id":   {},
	"sid":          {},
	"aspsessionid": {},
	"cfid":         {},
	"cftoken":      {},
}

var indexDocuments = map[string]struct{}{
	"index.html": {},
	"index.htm":  {},
	"index.php":  {},
}

var hostEscaper = strings.NewReplacer("[", "%5B", "]", "%5D", ":", "%3A")

// Port returns the explicit port of u or the scheme default, -1 when unknown.
func Port(u *url.URL) int {
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err == nil {
			return n
		}
	}
	if p, ok := defaultPorts[strings.ToLower(u.Scheme)]; ok {
		return p
	}
	return -1
}

// IsLocalHost reports whether host lives in an intranet rather than the public web.
func IsLocalHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(strings.Trim(host, "[]"), "."))
	if host == "" {
		return false
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
	}
	suffix, icann := publicsuffix.PublicSuffix(host)
	return !icann && !strings.Contains(suffix, ".")
}

// Extension returns the lowercased file extension of the last path segment.
func Extension(u *url.URL) string {
	ext := path.Ext(path.Base(u.Path))
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsCGI reports whether u points at an executable script.
func IsCGI(u *url.URL) bool {
	_, ok := cgiExtensions[Extension(u)]
	return ok
}

// IsPOST reports whether u carries a query part.
func IsPOST(u *url.URL) bool {
	return u.RawQuery != "" || u.ForceQuery
}

// HasSessionID reports whether u carries a session identifier in its path or query.
func HasSessionID(u *url.URL) bool {
	if i := strings.Index(u.Path, ";"); i >= 0 {
		param := strings.ToLower(u.Path[i+1:])
		for key := range sessionKeys {
			if strings.HasPrefix(param, key+"=") {
				return true
			}
		}
	}
	for key := range u.Query() {
		if _, ok := sessionKeys[strings.ToLower(key)]; ok {
			return true
		}
	}
	return false
}

// IndexForm returns the alternate spelling of u that refers to the same directory index.
// A directory URL maps to its index.html document and an index document maps to its directory.
func IndexForm(u *url.URL) (*url.URL, bool) {
	alt := *u
	switch {
	case u.Path == "" || strings.HasSuffix(u.Path, "/"):
		alt.Path = path.Join(u.Path, "index.html")
		if !strings.HasPrefix(alt.Path, "/") {
			alt.Path = "/" + alt.Path
		}
	default:
		if _, ok := indexDocuments[strings.ToLower(path.Base(u.Path))]; !ok {
			return nil, false
		}
		alt.Path = strings.TrimSuffix(u.Path, path.Base(u.Path))
	}
	alt.RawPath = ""
	return &alt, true
}

// EscapeHost makes a host name safe for use in a directory name.
func EscapeHost(host string) string {
	return hostEscaper.Replace(strings.ToLower(host))
}

// UnescapeHost reverses EscapeHost.
func UnescapeHost(escaped string) string {
	host, err := url.PathUnescape(escaped)
	if err != nil {
		return escaped
	}
	return host
}
