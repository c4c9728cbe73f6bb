package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SignalsRepo owns the signals table.
type SignalsRepo struct {
	db *sqlx.DB
}

// NewSignalsRepo wires the repository.
func NewSignalsRepo(db *sqlx.DB) *SignalsRepo {
	return &SignalsRepo{db: db}
}

// Get loads the newest signal row for an event key.
func (r *SignalsRepo) Get(ctx context.Context, eventKey string) (*Signal, error) {
	var s Signal
	err := r.db.GetContext(ctx, &s,
		`SELECT * FROM signals WHERE event_key = $1 ORDER BY ts DESC LIMIT 1`, eventKey)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get signal %s: %w", eventKey, err)
	}
	return &s, nil
}

// Ensure creates the (event_key, type) signal row if absent.
func (r *SignalsRepo) Ensure(ctx context.Context, eventKey, sigType string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signals (event_key, type, state, ts)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT ON CONSTRAINT uq_signals_event_type DO NOTHING`,
		eventKey, sigType, SignalStateCandidate)
	if err != nil {
		return fmt.Errorf("ensure signal %s/%s: %w", eventKey, sigType, err)
	}
	return nil
}

// MergeReason explains a MergeFeature refusal.
const (
	MergeOK           = "ok"
	MergeRowNotFound  = "row_not_found"
	MergeLockConflict = "lock_conflict"
	MergeTimeout      = "timeout"
)

// MergeFeature writes one sub-object of features_snapshot (path "heat" or
// "onchain") under FOR UPDATE NOWAIT on the signal row. It refuses to
// create missing rows; repeated calls with the same input are idempotent
// because the path is overwritten whole.
func (r *SignalsRepo) MergeFeature(ctx context.Context, eventKey, path string, value interface{}, timeout time.Duration) (string, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal %s feature: %w", path, err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin feature tx: %w", err)
	}
	defer tx.Rollback()

	if timeout > 0 {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())); err != nil {
			return "", fmt.Errorf("set feature timeout: %w", err)
		}
	}

	var id int64
	err = tx.QueryRowxContext(ctx,
		`SELECT id FROM signals WHERE event_key = $1 ORDER BY ts DESC LIMIT 1 FOR UPDATE NOWAIT`,
		eventKey).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return MergeRowNotFound, nil
		}
		if IsLockNotAvailable(err) {
			return MergeLockConflict, nil
		}
		if IsQueryCanceled(err) {
			return MergeTimeout, nil
		}
		return "", fmt.Errorf("lock signal %s: %w", eventKey, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE signals
		SET features_snapshot = jsonb_set(COALESCE(features_snapshot, '{}'::jsonb), ARRAY[$2], $3::jsonb, true),
		    ts = NOW()
		WHERE id = $1`,
		id, path, payload)
	if err != nil {
		if IsQueryCanceled(err) {
			return MergeTimeout, nil
		}
		return "", fmt.Errorf("merge %s into signal %s: %w", path, eventKey, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit feature tx: %w", err)
	}
	return MergeOK, nil
}

// SetHeatSlope mirrors the computed slope onto the scalar column.
func (r *SignalsRepo) SetHeatSlope(ctx context.Context, eventKey string, slope float64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE signals SET heat_slope = $2 WHERE event_key = $1`, eventKey, slope)
	if err != nil {
		return fmt.Errorf("set heat slope %s: %w", eventKey, err)
	}
	return nil
}

// UpdateVerdict records a rules-engine outcome on the signal row.
func (r *SignalsRepo) UpdateVerdict(ctx context.Context, eventKey, state string, confidence float64, asOf time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE signals
		SET state = $2, onchain_confidence = $3, onchain_asof_ts = $4, ts = NOW()
		WHERE event_key = $1`,
		eventKey, state, confidence, asOf)
	if err != nil {
		return fmt.Errorf("update verdict %s: %w", eventKey, err)
	}
	return nil
}

// AggregateTopics refreshes topic signals from their events' current
// keyword footprint. Only events active since the cutoff are touched.
func (r *SignalsRepo) AggregateTopics(ctx context.Context, since time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE signals s
		SET topic_entities = e.keywords_norm, ts = NOW()
		FROM events e
		WHERE s.event_key = e.event_key
		  AND s.type = $1
		  AND e.last_ts >= $2`,
		SignalTypeTopic, since)
	if err != nil {
		return 0, fmt.Errorf("aggregate topics: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("aggregate topics rows affected: %w", err)
	}
	return n, nil
}

// PendingVerification lists candidate signals due for on-chain verification.
func (r *SignalsRepo) PendingVerification(ctx context.Context, staleBefore time.Time, limit int) ([]Signal, error) {
	var out []Signal
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM signals
		WHERE state = $1 AND (onchain_asof_ts IS NULL OR onchain_asof_ts < $2)
		ORDER BY ts ASC
		LIMIT $3`,
		SignalStateCandidate, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("pending verification: %w", err)
	}
	return out, nil
}
