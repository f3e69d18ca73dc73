// Package digest derives the fixed-length URL fingerprints used as keys across the frontier.
//
// A digest is 12 URL-safe base64 characters. The first six come from the normalized URL,
// the last six from the scheme, host and port, so the host queue owning a digest can be
// found from the digest alone.
package digest

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/purell"

	"github.com/JakeFAU/crawl-frontier/internal/urlutil"
)

const (
	// Length is the number of characters in a digest.
	Length = 12
	// HostHashLength is the number of trailing characters identifying the host.
	HostHashLength = 6
)

const normalizeFlags = purell.FlagsSafe | purell.FlagRemoveFragment | purell.FlagRemoveDotSegments

// ErrNotAbsolute is returned for URLs without scheme or host.
var ErrNotAbsolute = errors.New("url must be absolute")

// Hash is a URL digest.
type Hash string

// HostHash returns the host part of the digest.
func (h Hash) HostHash() string {
	if len(h) != Length {
		return ""
	}
	return string(h[Length-HostHashLength:])
}

// Valid reports whether h has the expected length.
func (h Hash) Valid() bool {
	return len(h) == Length
}

// Normalize canonicalizes rawURL and returns the parsed result.
func Normalize(rawURL string) (*url.URL, error) {
	normalized, err := purell.NormalizeURLString(strings.TrimSpace(rawURL), normalizeFlags)
	if err != nil {
		return nil, fmt.Errorf("normalize url: %w", err)
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, ErrNotAbsolute
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// Of normalizes rawURL and returns its digest.
func Of(rawURL string) (Hash, error) {
	u, err := Normalize(rawURL)
	if err != nil {
		return "", err
	}
	return FromURL(u), nil
}

// FromURL hashes an already normalized URL.
func FromURL(u *url.URL) Hash {
	return Hash(encode(u.String()) + HostHash(u.Scheme, u.Hostname(), urlutil.Port(u)))
}

// HostHash identifies a (scheme, host, port) triple.
func HostHash(scheme, host string, port int) string {
	key := strings.ToLower(scheme) + "://" + strings.ToLower(host) + ":" + strconv.Itoa(port)
	return encode(key)
}

func encode(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:HostHashLength]
}
