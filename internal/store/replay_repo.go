package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ReplayRepo tracks replayable payloads and their delivery state.
type ReplayRepo struct {
	db *sqlx.DB
}

// NewReplayRepo wires the repository.
func NewReplayRepo(db *sqlx.DB) *ReplayRepo {
	return &ReplayRepo{db: db}
}

// Record registers or refreshes a payload under its unique key.
func (r *ReplayRepo) Record(ctx context.Context, uniqueKey, source string, payload json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO replay_state (unique_key, source, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (unique_key) DO UPDATE SET payload = EXCLUDED.payload`,
		uniqueKey, source, payload)
	if err != nil {
		return fmt.Errorf("record replay %s: %w", uniqueKey, err)
	}
	return nil
}

// Failed lists rows whose last attempt did not succeed, including rows
// never attempted.
func (r *ReplayRepo) Failed(ctx context.Context, limit int) ([]ReplayRow, error) {
	var rows []ReplayRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM replay_state
		WHERE last_status IS DISTINCT FROM 'ok'
		ORDER BY unique_key
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed replays: %w", err)
	}
	return rows, nil
}

// MarkAttempt records the outcome of one re-drive.
func (r *ReplayRepo) MarkAttempt(ctx context.Context, uniqueKey, status string, latency time.Duration, attemptErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE replay_state
		SET last_status = $2, last_attempt_at = NOW(), last_latency_ms = $3, last_error = NULLIF($4, '')
		WHERE unique_key = $1`,
		uniqueKey, status, latency.Milliseconds(), attemptErr)
	if err != nil {
		return fmt.Errorf("mark replay attempt %s: %w", uniqueKey, err)
	}
	return nil
}
