package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestIndexLastIndexed(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	idx, err := NewIndex(mock, "indexed_documents")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT indexed_at FROM indexed_documents").
		WithArgs("abcdefghijkl").
		WillReturnRows(pgxmock.NewRows([]string{"indexed_at"}).AddRow(now))
	mock.ExpectQuery("SELECT indexed_at FROM indexed_documents").
		WithArgs("mnopqrstuvwx").
		WillReturnError(pgx.ErrNoRows)

	at, ok, err := idx.LastIndexed(context.Background(), "abcdefghijkl")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, now, at)

	_, ok, err = idx.LastIndexed(context.Background(), "mnopqrstuvwx")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexLastIndexedPropagatesFailures(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	idx, err := NewIndex(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT indexed_at").
		WithArgs("abcdefghijkl").
		WillReturnError(errors.New("connection reset"))

	_, _, err = idx.LastIndexed(context.Background(), "abcdefghijkl")
	require.ErrorContains(t, err, "connection reset")
}

func TestIndexMarkAndRemove(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	idx, err := NewIndex(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO indexed_documents").
		WithArgs("abcdefghijkl", "http://h/a", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM indexed_documents").
		WithArgs("abcdefghijkl").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, idx.MarkIndexed(context.Background(), "abcdefghijkl", "http://h/a", now))
	require.NoError(t, idx.Remove(context.Background(), "abcdefghijkl"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_errors").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS indexed_documents").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, EnsureSchema(context.Background(), mock, "", ""))
	require.NoError(t, mock.ExpectationsWereMet())
}
