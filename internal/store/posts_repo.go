package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostsRepo reads raw_posts. The heat path is the only consumer that runs
// hot, so its query carries its own statement timeout and row cap.
type PostsRepo struct {
	db *sqlx.DB
}

// NewPostsRepo wires the repository.
func NewPostsRepo(db *sqlx.DB) *PostsRepo {
	return &PostsRepo{db: db}
}

// WindowCounts are post counts over the heat windows, all ending at "now".
type WindowCounts struct {
	Cnt10m  int `db:"cnt_10m"`
	Cnt30m  int `db:"cnt_30m"`
	CntPrev int `db:"cnt_prev"` // [now-20m, now-10m)
}

// CountWindows counts matching posts in the 10m/30m/previous-10m windows.
// Rows scanned are capped at maxRows and the statement is bounded by
// timeout; a cap hit silently truncates, which only ever underestimates.
func (r *PostsRepo) CountWindows(ctx context.Context, symbol, tokenCA string, now time.Time, maxRows int, timeout time.Duration) (WindowCounts, error) {
	var counts WindowCounts

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("begin heat tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return counts, fmt.Errorf("set heat timeout: %w", err)
	}

	err = tx.GetContext(ctx, &counts, `
		WITH recent AS (
			SELECT ts FROM raw_posts
			WHERE ((symbol = $1 AND $1 <> '') OR (token_ca = $2 AND $2 <> ''))
			  AND ts >= $3::timestamptz - interval '30 minutes'
			ORDER BY ts DESC
			LIMIT $4
		)
		SELECT
			COUNT(*) FILTER (WHERE ts >= $3::timestamptz - interval '10 minutes' AND ts < $3::timestamptz) AS cnt_10m,
			COUNT(*) FILTER (WHERE ts >= $3::timestamptz - interval '30 minutes' AND ts < $3::timestamptz) AS cnt_30m,
			COUNT(*) FILTER (WHERE ts >= $3::timestamptz - interval '20 minutes' AND ts < $3::timestamptz - interval '10 minutes') AS cnt_prev
		FROM recent`,
		symbol, tokenCA, now, maxRows)
	if err != nil {
		return counts, fmt.Errorf("count heat windows: %w", err)
	}

	return counts, tx.Commit()
}

// RecentCandidates returns candidate posts from the trailing window, used by
// the compaction job.
func (r *PostsRepo) RecentCandidates(ctx context.Context, since time.Time, limit int) ([]RawPost, error) {
	var posts []RawPost
	err := r.db.SelectContext(ctx, &posts, `
		SELECT * FROM raw_posts
		WHERE is_candidate = TRUE AND ts >= $1
		ORDER BY ts ASC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("recent candidates: %w", err)
	}
	return posts, nil
}
