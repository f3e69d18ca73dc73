package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/store"
)

func TestErrorLogPushInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	log, err := NewErrorLog(mock, "crawl_errors")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	entry := store.ErrorEntry{
		Hash:          "abcdefghijkl",
		URL:           "http://h/doc.pdf",
		ProfileHandle: "job-1",
		Kind:          "must_not_match",
		Reason:        "url matches must-not-match crawling filter .*\\.pdf$",
		At:            now,
	}
	mock.ExpectExec("INSERT INTO crawl_errors").
		WithArgs("abcdefghijkl", entry.URL, entry.ProfileHandle, "", entry.Kind, entry.Reason, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, log.Push(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorLogRecentScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	log, err := NewErrorLog(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"url_hash", "url", "profile_handle", "initiator", "kind", "reason", "recorded_at"}).
		AddRow("abcdefghijkl", "http://h/a", "job-1", "peer", "blacklist", "url in blacklist", now)
	mock.ExpectQuery("SELECT url_hash, url, profile_handle").
		WithArgs(5).
		WillReturnRows(rows)

	entries, err := log.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "http://h/a", entries[0].URL)
	require.Equal(t, "peer", entries[0].Initiator)
	require.Equal(t, now, entries[0].At)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewErrorLogRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewErrorLog(mock, "errors; DROP TABLE x")
	require.Error(t, err)
	_, err = NewErrorLog(nil, "")
	require.Error(t, err)
}
