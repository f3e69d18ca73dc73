package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawl-frontier/internal/digest"
	"github.com/JakeFAU/crawl-frontier/internal/store"
)

const defaultErrorTable = "crawl_errors"

// ErrorLog writes rejected crawl candidates into Postgres.
type ErrorLog struct {
	db    DB
	table string
}

// NewErrorLog constructs an ErrorLog backed by db.
func NewErrorLog(db DB, table string) (*ErrorLog, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	table, err := tableName(table, defaultErrorTable)
	if err != nil {
		return nil, err
	}
	return &ErrorLog{db: db, table: table}, nil
}

// Push inserts one rejection row.
func (l *ErrorLog) Push(ctx context.Context, entry store.ErrorEntry) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	url_hash,
	url,
	profile_handle,
	initiator,
	kind,
	reason,
	recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, l.table)
	args := []any{
		string(entry.Hash),
		entry.URL,
		entry.ProfileHandle,
		entry.Initiator,
		entry.Kind,
		entry.Reason,
		entry.At,
	}
	if _, err := l.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert crawl error: %w", err)
	}
	return nil
}

// Recent returns up to limit rejections, newest first.
func (l *ErrorLog) Recent(ctx context.Context, limit int) ([]store.ErrorEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT url_hash, url, profile_handle, initiator, kind, reason, recorded_at
FROM %s
ORDER BY recorded_at DESC
LIMIT $1`, l.table)
	rows, err := l.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list crawl errors: %w", err)
	}
	defer rows.Close()

	var entries []store.ErrorEntry
	for rows.Next() {
		var (
			entry store.ErrorEntry
			hash  string
		)
		if err := rows.Scan(
			&hash,
			&entry.URL,
			&entry.ProfileHandle,
			&entry.Initiator,
			&entry.Kind,
			&entry.Reason,
			&entry.At,
		); err != nil {
			return nil, fmt.Errorf("scan crawl error: %w", err)
		}
		entry.Hash = digest.Hash(hash)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl errors: %w", err)
	}
	return entries, nil
}
