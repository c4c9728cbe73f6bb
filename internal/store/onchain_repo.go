package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// OnchainRepo owns the onchain_features table.
type OnchainRepo struct {
	db *sqlx.DB
}

// NewOnchainRepo wires the repository.
func NewOnchainRepo(db *sqlx.DB) *OnchainRepo {
	return &OnchainRepo{db: db}
}

// Upsert writes one feature vector. The unique key makes replays of the
// same (chain, address, as_of_ts, window) overwrite in place.
func (r *OnchainRepo) Upsert(ctx context.Context, row OnchainFeatureRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO onchain_features
			(chain, address, as_of_ts, window_minutes, addr_active, tx_count,
			 growth_ratio, top10_share, self_loop_ratio, calc_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT ON CONSTRAINT uq_onchain_features DO UPDATE SET
			addr_active = EXCLUDED.addr_active,
			tx_count = EXCLUDED.tx_count,
			growth_ratio = EXCLUDED.growth_ratio,
			top10_share = EXCLUDED.top10_share,
			self_loop_ratio = EXCLUDED.self_loop_ratio,
			calc_version = EXCLUDED.calc_version`,
		row.Chain, row.Address, row.AsOfTS, row.WindowMinutes,
		row.AddrActive, row.TxCount, row.GrowthRatio, row.Top10Share,
		row.SelfLoopRatio, row.CalcVersion)
	if err != nil {
		return fmt.Errorf("upsert onchain features %s/%s: %w", row.Chain, row.Address, err)
	}
	return nil
}

// Latest returns the newest feature row per window for an address.
func (r *OnchainRepo) Latest(ctx context.Context, chain, address string) ([]OnchainFeatureRow, error) {
	var rows []OnchainFeatureRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT ON (window_minutes) *
		FROM onchain_features
		WHERE chain = $1 AND address = $2
		ORDER BY window_minutes, as_of_ts DESC`, chain, address)
	if err != nil {
		return nil, fmt.Errorf("latest onchain features %s/%s: %w", chain, address, err)
	}
	return rows, nil
}

// LatestByAddress is Latest without the chain filter, for callers that
// only know the contract address.
func (r *OnchainRepo) LatestByAddress(ctx context.Context, address string) ([]OnchainFeatureRow, error) {
	var rows []OnchainFeatureRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT ON (window_minutes) *
		FROM onchain_features
		WHERE address = $1
		ORDER BY window_minutes, as_of_ts DESC`, address)
	if err != nil {
		return nil, fmt.Errorf("latest onchain features %s: %w", address, err)
	}
	return rows, nil
}

// Freshness reports the newest as_of_ts seen for a chain.
func (r *OnchainRepo) Freshness(ctx context.Context, chain string) (time.Time, error) {
	var ts time.Time
	err := r.db.GetContext(ctx, &ts,
		`SELECT COALESCE(MAX(as_of_ts), 'epoch'::timestamptz) FROM onchain_features WHERE chain = $1`, chain)
	if err != nil {
		return time.Time{}, fmt.Errorf("onchain freshness %s: %w", chain, err)
	}
	return ts, nil
}
