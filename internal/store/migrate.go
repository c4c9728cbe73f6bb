package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Schema upgrades are idempotent: tables and indexes guard with IF NOT
// EXISTS, later columns are added with ADD COLUMN IF NOT EXISTS. Running
// Migrate against an up-to-date database is a no-op.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS raw_posts (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		author TEXT,
		text TEXT NOT NULL DEFAULT '',
		ts TIMESTAMPTZ NOT NULL,
		urls JSONB NOT NULL DEFAULT '[]',
		token_ca TEXT,
		symbol TEXT,
		is_candidate BOOLEAN NOT NULL DEFAULT FALSE,
		sentiment_label TEXT,
		sentiment_score DOUBLE PRECISION,
		keywords JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_posts_ts ON raw_posts (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_posts_symbol_ts ON raw_posts (symbol, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_posts_token_ca_ts ON raw_posts (token_ca, ts)`,

	`CREATE TABLE IF NOT EXISTS events (
		event_key TEXT PRIMARY KEY,
		symbol TEXT,
		token_ca TEXT,
		topic_hash TEXT,
		time_bucket_start TIMESTAMPTZ,
		start_ts TIMESTAMPTZ NOT NULL,
		last_ts TIMESTAMPTZ NOT NULL,
		evidence_count INTEGER NOT NULL DEFAULT 0,
		candidate_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		keywords_norm JSONB NOT NULL DEFAULT '[]',
		version TEXT NOT NULL DEFAULT 'v1',
		last_sentiment_label TEXT,
		last_sentiment_score DOUBLE PRECISION,
		evidence JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE events ADD COLUMN IF NOT EXISTS refined_symbol TEXT`,
	`ALTER TABLE events ADD COLUMN IF NOT EXISTS refined_token_ca TEXT`,
	`ALTER TABLE events ADD COLUMN IF NOT EXISTS goplus_risk TEXT`,
	`ALTER TABLE events ADD COLUMN IF NOT EXISTS buy_tax DOUBLE PRECISION`,
	`ALTER TABLE events ADD COLUMN IF NOT EXISTS sell_tax DOUBLE PRECISION`,
	`ALTER TABLE events ADD COLUMN IF NOT EXISTS lp_lock_days INTEGER`,
	`ALTER TABLE events ADD COLUMN IF NOT EXISTS honeypot BOOLEAN`,
	`ALTER TABLE events ADD COLUMN IF NOT EXISTS topic_entities JSONB`,
	`ALTER TABLE events ADD COLUMN IF NOT EXISTS evidence_refs JSONB`,
	`CREATE INDEX IF NOT EXISTS idx_events_last_ts ON events (last_ts)`,
	`CREATE INDEX IF NOT EXISTS idx_events_topic_hash ON events (topic_hash)`,

	`CREATE TABLE IF NOT EXISTS signals (
		id BIGSERIAL PRIMARY KEY,
		event_key TEXT NOT NULL,
		type TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'candidate',
		ts TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		goplus_risk TEXT,
		buy_tax DOUBLE PRECISION,
		sell_tax DOUBLE PRECISION,
		lp_lock_days INTEGER,
		honeypot BOOLEAN,
		dex_liquidity DOUBLE PRECISION,
		dex_volume_24h DOUBLE PRECISION,
		topic_entities JSONB,
		onchain_asof_ts TIMESTAMPTZ,
		onchain_confidence NUMERIC(4,3),
		heat_slope DOUBLE PRECISION,
		source_level TEXT,
		features_snapshot JSONB NOT NULL DEFAULT '{}',
		CONSTRAINT uq_signals_event_type UNIQUE (event_key, type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_event_key ON signals (event_key)`,

	`CREATE TABLE IF NOT EXISTS onchain_features (
		id BIGSERIAL PRIMARY KEY,
		chain TEXT NOT NULL,
		address TEXT NOT NULL,
		as_of_ts TIMESTAMPTZ NOT NULL,
		window_minutes INTEGER NOT NULL,
		addr_active DOUBLE PRECISION,
		tx_count DOUBLE PRECISION,
		growth_ratio DOUBLE PRECISION,
		top10_share DOUBLE PRECISION,
		self_loop_ratio DOUBLE PRECISION,
		calc_version TEXT NOT NULL DEFAULT 'v1',
		CONSTRAINT uq_onchain_features UNIQUE (chain, address, as_of_ts, window_minutes)
	)`,

	`CREATE TABLE IF NOT EXISTS goplus_cache (
		id BIGSERIAL PRIMARY KEY,
		endpoint TEXT NOT NULL,
		chain_id TEXT NOT NULL,
		key TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		resp_json JSONB NOT NULL,
		status TEXT NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT uq_goplus_cache UNIQUE (endpoint, chain_id, key, payload_hash)
	)`,

	`CREATE TABLE IF NOT EXISTS push_outbox (
		id BIGSERIAL PRIMARY KEY,
		channel_id TEXT NOT NULL,
		thread_id TEXT,
		event_key TEXT NOT NULL,
		payload JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempt INTEGER NOT NULL DEFAULT 0,
		next_try_at TIMESTAMPTZ,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT uq_push_outbox_event_channel UNIQUE (event_key, channel_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_push_outbox_status_next ON push_outbox (status, next_try_at)`,

	`CREATE TABLE IF NOT EXISTS push_outbox_dlq (
		id BIGSERIAL PRIMARY KEY,
		outbox_id BIGINT NOT NULL,
		channel_id TEXT NOT NULL,
		thread_id TEXT,
		event_key TEXT NOT NULL,
		payload JSONB NOT NULL,
		attempt INTEGER NOT NULL,
		last_error TEXT,
		dead_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS replay_state (
		unique_key TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		payload JSONB NOT NULL,
		last_status TEXT,
		last_attempt_at TIMESTAMPTZ,
		last_latency_ms INTEGER,
		last_error TEXT
	)`,
}

// Migrate applies the schema. Safe to run concurrently from multiple
// workers: every statement is individually idempotent.
func (m *Manager) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	log.Info().Int("statements", len(migrations)).Msg("schema up to date")
	return nil
}
