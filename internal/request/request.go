// Package request defines the crawl candidate stored in the frontier.
package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/digest"
	"github.com/JakeFAU/crawl-frontier/internal/urlutil"
)

// Request is a single crawl candidate.
type Request struct {
	URL            string      `json:"url"`
	Hash           digest.Hash `json:"hash"`
	Referrer       digest.Hash `json:"referrer,omitempty"`
	Initiator      string      `json:"initiator,omitempty"`
	Name           string      `json:"name,omitempty"`
	AppDate        time.Time   `json:"appdate"`
	ProfileHandle  string      `json:"profile"`
	Depth          int         `json:"depth"`
	TimezoneOffset int         `json:"tz,omitempty"`
}

// New normalizes rawURL and builds a Request keyed by its digest.
func New(rawURL string, referrer digest.Hash, initiator, name, profileHandle string, depth int) (Request, error) {
	u, err := digest.Normalize(rawURL)
	if err != nil {
		return Request{}, err
	}
	if depth < 0 {
		return Request{}, fmt.Errorf("depth must be >= 0, got %d", depth)
	}
	return Request{
		URL:           u.String(),
		Hash:          digest.FromURL(u),
		Referrer:      referrer,
		Initiator:     initiator,
		Name:          name,
		AppDate:       time.Now().UTC(),
		ProfileHandle: profileHandle,
		Depth:         depth,
	}, nil
}

// Parsed returns the parsed URL.
func (r Request) Parsed() (*url.URL, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	return u, nil
}

// Host returns the host name, port and host hash of the request target.
func (r Request) Host() (string, int, string, error) {
	u, err := r.Parsed()
	if err != nil {
		return "", 0, "", err
	}
	return u.Hostname(), urlutil.Port(u), r.Hash.HostHash(), nil
}

// ToRow encodes the request for a row store.
func (r Request) ToRow() ([]byte, error) {
	if !r.Hash.Valid() {
		return nil, fmt.Errorf("invalid digest %q", r.Hash)
	}
	row, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return row, nil
}

// FromRow decodes a row written by ToRow.
func FromRow(row []byte) (Request, error) {
	if len(row) == 0 {
		return Request{}, errors.New("empty row")
	}
	var r Request
	if err := json.Unmarshal(row, &r); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if !r.Hash.Valid() {
		return Request{}, fmt.Errorf("row carries invalid digest %q", r.Hash)
	}
	return r, nil
}
