package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solrunner/walletrank/internal/watchlist"
)

func newMockRepo(t *testing.T) (watchlist.Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepo(sqlx.NewDb(db, "postgres"), time.Second), mock
}

func TestUpsert(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO watchlist`).
		WithArgs("u1", "wallet1", "serial winner", "S", 92.5, "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(7), now, now))

	e := &watchlist.Entry{UserID: "u1", Wallet: "wallet1", Label: "serial winner", Tier: "S", Score: 92.5}
	require.NoError(t, repo.Upsert(context.Background(), e))
	assert.Equal(t, int64(7), e.ID)
	assert.Equal(t, now, e.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .+ FROM watchlist WHERE`).
		WithArgs("u1", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, watchlist.ErrNotFound)
}

func TestList_OrdersByScore(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "user_id", "wallet", "label", "tier", "score", "notes", "created_at", "updated_at"}).
		AddRow(int64(1), "u1", "w_best", "", "S", 95.0, "", now, now).
		AddRow(int64(2), "u1", "w_next", "", "A", 80.0, "", now, now)
	mock.ExpectQuery(`SELECT .+ FROM watchlist WHERE user_id = \$1 ORDER BY score DESC`).
		WithArgs("u1").
		WillReturnRows(rows)

	entries, err := repo.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "w_best", entries[0].Wallet)
	assert.Equal(t, 95.0, entries[0].Score)
}

func TestUpdateScore_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE watchlist SET`).
		WithArgs("u1", "ghost", "B", 40.0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateScore(context.Background(), "u1", "ghost", "B", 40.0)
	assert.ErrorIs(t, err, watchlist.ErrNotFound)
}

func TestRemove(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`DELETE FROM watchlist`).
		WithArgs("u1", "wallet1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Remove(context.Background(), "u1", "wallet1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
