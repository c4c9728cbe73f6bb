package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// GoplusCacheRepo is the content-addressable response cache for GoPlus
// calls: one row per (endpoint, chain_id, key, payload_hash).
type GoplusCacheRepo struct {
	db *sqlx.DB
}

// NewGoplusCacheRepo wires the repository.
func NewGoplusCacheRepo(db *sqlx.DB) *GoplusCacheRepo {
	return &GoplusCacheRepo{db: db}
}

// PayloadHash addresses a request body for cache lookup.
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}

// Get returns the cached response if present. allowStale additionally
// accepts expired rows, for stale-while-error reads when the upstream is
// down.
func (r *GoplusCacheRepo) Get(ctx context.Context, endpoint, chainID, key, payloadHash string, allowStale bool) (*GoplusCacheRow, error) {
	var row GoplusCacheRow
	q := `SELECT * FROM goplus_cache
		WHERE endpoint = $1 AND chain_id = $2 AND key = $3 AND payload_hash = $4`
	if !allowStale {
		q += ` AND expires_at > NOW()`
	}
	err := r.db.GetContext(ctx, &row, q, endpoint, chainID, key, payloadHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("goplus cache get: %w", err)
	}
	return &row, nil
}

// Put stores or refreshes a response.
func (r *GoplusCacheRepo) Put(ctx context.Context, endpoint, chainID, key, payloadHash string, resp json.RawMessage, status string, ttl time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO goplus_cache (endpoint, chain_id, key, payload_hash, resp_json, status, fetched_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW() + $7 * interval '1 second')
		ON CONFLICT ON CONSTRAINT uq_goplus_cache DO UPDATE SET
			resp_json = EXCLUDED.resp_json,
			status = EXCLUDED.status,
			fetched_at = NOW(),
			expires_at = EXCLUDED.expires_at`,
		endpoint, chainID, key, payloadHash, resp, status, int64(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("goplus cache put: %w", err)
	}
	return nil
}

// Purge removes rows expired longer than the grace period ago.
func (r *GoplusCacheRepo) Purge(ctx context.Context, grace time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM goplus_cache WHERE expires_at < NOW() - $1 * interval '1 second'`,
		int64(grace.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("goplus cache purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
