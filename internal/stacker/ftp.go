package stacker

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/profile"
	"github.com/JakeFAU/crawl-frontier/internal/request"
)

// FTPEntry is a file found below an FTP start URL.
type FTPEntry struct {
	URL  string
	Name string
	// Depth counts path segments below the start URL.
	Depth int
}

// FTPLister walks an FTP site.
type FTPLister interface {
	List(ctx context.Context, root *url.URL, maxDepth, maxEntries int) ([]FTPEntry, error)
}

// FTPClient lists FTP sites with anonymous or URL-embedded credentials.
type FTPClient struct {
	Timeout time.Duration
}

// List walks root breadth-first up to maxDepth segments and returns at most maxEntries files.
func (c FTPClient) List(ctx context.Context, root *url.URL, maxDepth, maxEntries int) ([]FTPEntry, error) {
	if maxDepth <= 0 || maxEntries <= 0 {
		return nil, nil
	}
	addr := root.Host
	if root.Port() == "" {
		addr = net.JoinHostPort(root.Hostname(), "21")
	}
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if c.Timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(c.Timeout))
	}
	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial ftp %s: %w", addr, err)
	}
	defer func() { _ = conn.Quit() }()

	user, pass := "anonymous", "anonymous@"
	if root.User != nil {
		user = root.User.Username()
		if p, ok := root.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return nil, fmt.Errorf("ftp login %s: %w", addr, err)
	}

	start := root.Path
	if start == "" {
		start = "/"
	}
	base := strings.TrimSuffix(start, "/")
	var out []FTPEntry
	w := conn.Walk(start)
	for w.Next() {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("ftp walk canceled: %w", err)
		}
		entry := w.Stat()
		depth := segmentsBelow(base, w.Path())
		switch entry.Type {
		case ftp.EntryTypeFolder:
			if depth >= maxDepth {
				w.SkipDir()
			}
			continue
		case ftp.EntryTypeFile:
		default:
			continue
		}
		if depth > maxDepth {
			continue
		}
		u := *root
		u.User = nil
		u.Path = w.Path()
		u.RawPath = ""
		out = append(out, FTPEntry{URL: u.String(), Name: entry.Name, Depth: depth})
		if len(out) >= maxEntries {
			return out, nil
		}
	}
	if err := w.Err(); err != nil {
		return out, fmt.Errorf("ftp walk %s: %w", start, err)
	}
	return out, nil
}

func segmentsBelow(base, p string) int {
	rel := strings.TrimPrefix(p, base)
	n := 0
	for _, seg := range strings.Split(rel, "/") {
		if seg != "" {
			n++
		}
	}
	return n
}

// enqueueFTP expands an FTP start URL into one request per listed file.
func (s *Stacker) enqueueFTP(ctx context.Context, req request.Request, u *url.URL, p *profile.CrawlProfile) error {
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.FTPTimeout)
	defer cancel()
	entries, err := s.deps.FTP.List(listCtx, u, p.Depth()-req.Depth, s.cfg.FTPMaxEntries)
	if err != nil {
		s.logger.Warn("ftp listing failed", zap.String("url", req.URL), zap.Int("listed", len(entries)), zap.Error(err))
	}
	for _, entry := range entries {
		child, err := request.New(entry.URL, req.Hash, req.Initiator, entry.Name, p.Handle(), req.Depth+entry.Depth)
		if err != nil {
			continue
		}
		child.TimezoneOffset = req.TimezoneOffset
		if err := s.Enqueue(ctx, child); err != nil {
			return err
		}
	}
	s.logger.Info("ftp site expanded", zap.String("url", req.URL), zap.Int("entries", len(entries)))
	return nil
}
