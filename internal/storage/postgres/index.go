package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawl-frontier/internal/digest"
)

const defaultIndexTable = "indexed_documents"

// Index looks up indexed documents in Postgres.
type Index struct {
	db    DB
	table string
}

// NewIndex constructs an Index backed by db.
func NewIndex(db DB, table string) (*Index, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	table, err := tableName(table, defaultIndexTable)
	if err != nil {
		return nil, err
	}
	return &Index{db: db, table: table}, nil
}

// LastIndexed returns when hash was last indexed.
func (i *Index) LastIndexed(ctx context.Context, hash digest.Hash) (time.Time, bool, error) {
	query := fmt.Sprintf(`SELECT indexed_at FROM %s WHERE url_hash = $1`, i.table)
	var at time.Time
	if err := i.db.QueryRow(ctx, query, string(hash)).Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("lookup indexed document: %w", err)
	}
	return at, true, nil
}

// Remove deletes the index row of hash.
func (i *Index) Remove(ctx context.Context, hash digest.Hash) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE url_hash = $1`, i.table)
	if _, err := i.db.Exec(ctx, query, string(hash)); err != nil {
		return fmt.Errorf("remove indexed document: %w", err)
	}
	return nil
}

// MarkIndexed upserts the index row of hash.
func (i *Index) MarkIndexed(ctx context.Context, hash digest.Hash, url string, at time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (url_hash, url, indexed_at)
VALUES ($1, $2, $3)
ON CONFLICT (url_hash) DO UPDATE
SET url = EXCLUDED.url, indexed_at = EXCLUDED.indexed_at`, i.table)
	if _, err := i.db.Exec(ctx, query, string(hash), url, at); err != nil {
		return fmt.Errorf("mark indexed document: %w", err)
	}
	return nil
}
