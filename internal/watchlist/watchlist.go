package watchlist

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a (user, wallet) pair is not on the list.
var ErrNotFound = errors.New("watchlist: entry not found")

// Entry is one tracked wallet on a user's watchlist.
type Entry struct {
	ID        int64     `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Wallet    string    `db:"wallet" json:"wallet"`
	Label     string    `db:"label" json:"label"`
	Tier      string    `db:"tier" json:"tier"`
	Score     float64   `db:"score" json:"score"`
	Notes     string    `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Repo stores user watchlists. Implementations live in subpackages.
type Repo interface {
	Upsert(ctx context.Context, e *Entry) error
	Get(ctx context.Context, userID, wallet string) (*Entry, error)
	List(ctx context.Context, userID string) ([]Entry, error)
	UpdateScore(ctx context.Context, userID, wallet string, tier string, score float64) error
	Remove(ctx context.Context, userID, wallet string) error
}
