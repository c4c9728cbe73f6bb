package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// OutboxRepo owns push_outbox and its dead-letter table. Producers enqueue;
// only the drain worker mutates leased rows.
type OutboxRepo struct {
	db *sqlx.DB
}

// NewOutboxRepo wires the repository.
func NewOutboxRepo(db *sqlx.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// Enqueue inserts a pending push. A duplicate (event_key, channel_id) is
// absorbed without error; the bool reports whether a new row was created.
func (r *OutboxRepo) Enqueue(ctx context.Context, channelID, threadID, eventKey string, payload json.RawMessage) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO push_outbox (channel_id, thread_id, event_key, payload, status, attempt)
		VALUES ($1, NULLIF($2,''), $3, $4, 'pending', 0)
		ON CONFLICT ON CONSTRAINT uq_push_outbox_event_channel DO NOTHING`,
		channelID, threadID, eventKey, payload)
	if err != nil {
		return false, fmt.Errorf("enqueue outbox %s/%s: %w", eventKey, channelID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue rows affected: %w", err)
	}
	return n > 0, nil
}

// Lease picks up to limit due rows (pending or retry whose next_try_at has
// passed) under FOR UPDATE SKIP LOCKED, stamps them pending, and returns
// them. SKIP LOCKED keeps concurrent drainers from head-of-line blocking.
func (r *OutboxRepo) Lease(ctx context.Context, limit int) ([]OutboxRow, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lease tx: %w", err)
	}
	defer tx.Rollback()

	var rows []OutboxRow
	err = tx.SelectContext(ctx, &rows, `
		SELECT * FROM push_outbox
		WHERE status IN ('pending', 'retry')
		  AND (next_try_at IS NULL OR next_try_at <= NOW())
		ORDER BY next_try_at NULLS FIRST, id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("lease outbox batch: %w", err)
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	query, args, err := sqlx.In(
		`UPDATE push_outbox SET status = 'pending', updated_at = NOW() WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build lease update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("stamp leased rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease tx: %w", err)
	}
	return rows, nil
}

// MarkDone finalizes a delivered row.
func (r *OutboxRepo) MarkDone(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE push_outbox SET status = 'done', updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox %d done: %w", id, err)
	}
	return nil
}

// MarkRetry schedules the next attempt.
func (r *OutboxRepo) MarkRetry(ctx context.Context, id int64, nextTry time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE push_outbox
		SET status = 'retry', attempt = attempt + 1, next_try_at = $2,
		    last_error = $3, updated_at = NOW()
		WHERE id = $1`,
		id, nextTry, truncateErr(lastError))
	if err != nil {
		return fmt.Errorf("mark outbox %d retry: %w", id, err)
	}
	return nil
}

// MoveToDLQ snapshots the row into push_outbox_dlq and flips status to dlq,
// atomically. A DLQ'd row always has its snapshot copy.
func (r *OutboxRepo) MoveToDLQ(ctx context.Context, id int64, lastError string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dlq tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO push_outbox_dlq (outbox_id, channel_id, thread_id, event_key, payload, attempt, last_error)
		SELECT id, channel_id, thread_id, event_key, payload, attempt, $2
		FROM push_outbox WHERE id = $1`,
		id, truncateErr(lastError))
	if err != nil {
		return fmt.Errorf("snapshot outbox %d to dlq: %w", id, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE push_outbox
		SET status = 'dlq', last_error = $2, updated_at = NOW()
		WHERE id = $1`,
		id, truncateErr(lastError))
	if err != nil {
		return fmt.Errorf("flip outbox %d to dlq: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dlq tx: %w", err)
	}
	return nil
}

func truncateErr(s string) string {
	const max = 500
	if len(s) > max {
		return s[:max]
	}
	return s
}
