package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/solrunner/walletrank/internal/watchlist"
)

// repo implements watchlist.Repo for PostgreSQL
type repo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRepo creates a new PostgreSQL watchlist repository
func NewRepo(db *sqlx.DB, timeout time.Duration) watchlist.Repo {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &repo{db: db, timeout: timeout}
}

// Connect opens and pings a PostgreSQL pool from a DSN.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Upsert inserts or refreshes an entry keyed on (user_id, wallet)
func (r *repo) Upsert(ctx context.Context, e *watchlist.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO watchlist (user_id, wallet, label, tier, score, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, wallet) DO UPDATE SET
			label = EXCLUDED.label,
			tier = EXCLUDED.tier,
			score = EXCLUDED.score,
			notes = EXCLUDED.notes,
			updated_at = now()
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		e.UserID, e.Wallet, e.Label, e.Tier, e.Score, e.Notes).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert watchlist entry: %w", err)
	}
	return nil
}

// Get fetches one entry by (user_id, wallet)
func (r *repo) Get(ctx context.Context, userID, wallet string) (*watchlist.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var e watchlist.Entry
	query := `SELECT id, user_id, wallet, label, tier, score, notes, created_at, updated_at
		FROM watchlist WHERE user_id = $1 AND wallet = $2`
	if err := r.db.GetContext(ctx, &e, query, userID, wallet); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, watchlist.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get watchlist entry: %w", err)
	}
	return &e, nil
}

// List returns a user's entries ordered by score, best first
func (r *repo) List(ctx context.Context, userID string) ([]watchlist.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entries := []watchlist.Entry{}
	query := `SELECT id, user_id, wallet, label, tier, score, notes, created_at, updated_at
		FROM watchlist WHERE user_id = $1 ORDER BY score DESC, wallet ASC`
	if err := r.db.SelectContext(ctx, &entries, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}
	return entries, nil
}

// UpdateScore refreshes the ranking fields after a new analysis run
func (r *repo) UpdateScore(ctx context.Context, userID, wallet string, tier string, score float64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `UPDATE watchlist SET tier = $3, score = $4, updated_at = now()
		WHERE user_id = $1 AND wallet = $2`
	res, err := r.db.ExecContext(ctx, query, userID, wallet, tier, score)
	if err != nil {
		return fmt.Errorf("failed to update watchlist score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return watchlist.ErrNotFound
	}
	return nil
}

// Remove deletes one entry
func (r *repo) Remove(ctx context.Context, userID, wallet string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM watchlist WHERE user_id = $1 AND wallet = $2`, userID, wallet)
	if err != nil {
		return fmt.Errorf("failed to remove watchlist entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return watchlist.ErrNotFound
	}
	return nil
}
