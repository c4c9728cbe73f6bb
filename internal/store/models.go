package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// RawPost is an immutable ingested item. Ingesters create rows; nothing in
// this codebase mutates them.
type RawPost struct {
	ID             int64           `db:"id" json:"id"`
	Source         string          `db:"source" json:"source"`
	Author         sql.NullString  `db:"author" json:"author,omitempty"`
	Text           string          `db:"text" json:"text"`
	TS             time.Time       `db:"ts" json:"ts"`
	URLs           json.RawMessage `db:"urls" json:"urls"`
	TokenCA        sql.NullString  `db:"token_ca" json:"token_ca,omitempty"`
	Symbol         sql.NullString  `db:"symbol" json:"symbol,omitempty"`
	IsCandidate    bool            `db:"is_candidate" json:"is_candidate"`
	SentimentLabel sql.NullString  `db:"sentiment_label" json:"sentiment_label,omitempty"`
	SentimentScore sql.NullFloat64 `db:"sentiment_score" json:"sentiment_score,omitempty"`
	Keywords       json.RawMessage `db:"keywords" json:"keywords"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// Event is the canonical aggregation row keyed by event_key.
type Event struct {
	EventKey           string          `db:"event_key" json:"event_key"`
	Symbol             sql.NullString  `db:"symbol" json:"symbol,omitempty"`
	TokenCA            sql.NullString  `db:"token_ca" json:"token_ca,omitempty"`
	TopicHash          sql.NullString  `db:"topic_hash" json:"topic_hash,omitempty"`
	TimeBucketStart    sql.NullTime    `db:"time_bucket_start" json:"time_bucket_start,omitempty"`
	StartTS            time.Time       `db:"start_ts" json:"start_ts"`
	LastTS             time.Time       `db:"last_ts" json:"last_ts"`
	EvidenceCount      int             `db:"evidence_count" json:"evidence_count"`
	CandidateScore     float64         `db:"candidate_score" json:"candidate_score"`
	KeywordsNorm       json.RawMessage `db:"keywords_norm" json:"keywords_norm"`
	Version            string          `db:"version" json:"version"`
	LastSentimentLabel sql.NullString  `db:"last_sentiment_label" json:"last_sentiment_label,omitempty"`
	LastSentimentScore sql.NullFloat64 `db:"last_sentiment_score" json:"last_sentiment_score,omitempty"`
	RefinedSymbol      sql.NullString  `db:"refined_symbol" json:"refined_symbol,omitempty"`
	RefinedTokenCA     sql.NullString  `db:"refined_token_ca" json:"refined_token_ca,omitempty"`
	GoplusRisk         sql.NullString  `db:"goplus_risk" json:"goplus_risk,omitempty"`
	BuyTax             sql.NullFloat64 `db:"buy_tax" json:"buy_tax,omitempty"`
	SellTax            sql.NullFloat64 `db:"sell_tax" json:"sell_tax,omitempty"`
	LPLockDays         sql.NullInt64   `db:"lp_lock_days" json:"lp_lock_days,omitempty"`
	Honeypot           sql.NullBool    `db:"honeypot" json:"honeypot,omitempty"`
	TopicEntities      json.RawMessage `db:"topic_entities" json:"topic_entities,omitempty"`
	EvidenceRefs       json.RawMessage `db:"evidence_refs" json:"evidence_refs,omitempty"`
	Evidence           json.RawMessage `db:"evidence" json:"evidence"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// Signal states and types.
const (
	SignalStateCandidate  = "candidate"
	SignalStateVerified   = "verified"
	SignalStateDowngraded = "downgraded"

	SignalTypeTopic      = "topic"
	SignalTypePrimary    = "primary"
	SignalTypeSecondary  = "secondary"
	SignalTypeMarketRisk = "market_risk"
)

// Signal is a per-event derived signal row, unique on (event_key, type).
type Signal struct {
	ID                int64           `db:"id" json:"id"`
	EventKey          string          `db:"event_key" json:"event_key"`
	Type              string          `db:"type" json:"type"`
	State             string          `db:"state" json:"state"`
	TS                time.Time       `db:"ts" json:"ts"`
	GoplusRisk        sql.NullString  `db:"goplus_risk" json:"goplus_risk,omitempty"`
	BuyTax            sql.NullFloat64 `db:"buy_tax" json:"buy_tax,omitempty"`
	SellTax           sql.NullFloat64 `db:"sell_tax" json:"sell_tax,omitempty"`
	LPLockDays        sql.NullInt64   `db:"lp_lock_days" json:"lp_lock_days,omitempty"`
	Honeypot          sql.NullBool    `db:"honeypot" json:"honeypot,omitempty"`
	DexLiquidity      sql.NullFloat64 `db:"dex_liquidity" json:"dex_liquidity,omitempty"`
	DexVolume24h      sql.NullFloat64 `db:"dex_volume_24h" json:"dex_volume_24h,omitempty"`
	TopicEntities     json.RawMessage `db:"topic_entities" json:"topic_entities,omitempty"`
	OnchainAsOfTS     sql.NullTime    `db:"onchain_asof_ts" json:"onchain_asof_ts,omitempty"`
	OnchainConfidence sql.NullFloat64 `db:"onchain_confidence" json:"onchain_confidence,omitempty"`
	HeatSlope         sql.NullFloat64 `db:"heat_slope" json:"heat_slope,omitempty"`
	SourceLevel       sql.NullString  `db:"source_level" json:"source_level,omitempty"`
	FeaturesSnapshot  json.RawMessage `db:"features_snapshot" json:"features_snapshot"`
}

// OnchainFeatureRow is one (chain, address, as_of_ts, window) feature vector.
type OnchainFeatureRow struct {
	ID            int64           `db:"id" json:"id"`
	Chain         string          `db:"chain" json:"chain"`
	Address       string          `db:"address" json:"address"`
	AsOfTS        time.Time       `db:"as_of_ts" json:"as_of_ts"`
	WindowMinutes int             `db:"window_minutes" json:"window_minutes"`
	AddrActive    sql.NullFloat64 `db:"addr_active" json:"addr_active,omitempty"`
	TxCount       sql.NullFloat64 `db:"tx_count" json:"tx_count,omitempty"`
	GrowthRatio   sql.NullFloat64 `db:"growth_ratio" json:"growth_ratio,omitempty"`
	Top10Share    sql.NullFloat64 `db:"top10_share" json:"top10_share,omitempty"`
	SelfLoopRatio sql.NullFloat64 `db:"self_loop_ratio" json:"self_loop_ratio,omitempty"`
	CalcVersion   string          `db:"calc_version" json:"calc_version"`
}

// Outbox statuses.
const (
	OutboxStatusPending = "pending"
	OutboxStatusRetry   = "retry"
	OutboxStatusDone    = "done"
	OutboxStatusDLQ     = "dlq"
)

// OutboxRow is one durable push, unique on (event_key, channel_id).
type OutboxRow struct {
	ID        int64           `db:"id" json:"id"`
	ChannelID string          `db:"channel_id" json:"channel_id"`
	ThreadID  sql.NullString  `db:"thread_id" json:"thread_id,omitempty"`
	EventKey  string          `db:"event_key" json:"event_key"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	Status    string          `db:"status" json:"status"`
	Attempt   int             `db:"attempt" json:"attempt"`
	NextTryAt sql.NullTime    `db:"next_try_at" json:"next_try_at,omitempty"`
	LastError sql.NullString  `db:"last_error" json:"last_error,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// GoplusCacheRow is a content-addressed upstream response.
type GoplusCacheRow struct {
	ID          int64           `db:"id" json:"id"`
	Endpoint    string          `db:"endpoint" json:"endpoint"`
	ChainID     string          `db:"chain_id" json:"chain_id"`
	Key         string          `db:"key" json:"key"`
	PayloadHash string          `db:"payload_hash" json:"payload_hash"`
	RespJSON    json.RawMessage `db:"resp_json" json:"resp_json"`
	Status      string          `db:"status" json:"status"`
	FetchedAt   time.Time       `db:"fetched_at" json:"fetched_at"`
	ExpiresAt   time.Time       `db:"expires_at" json:"expires_at"`
}

// ReplayRow tracks one replayable payload for offline re-drive.
type ReplayRow struct {
	UniqueKey     string          `db:"unique_key" json:"unique_key"`
	Source        string          `db:"source" json:"source"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	LastStatus    sql.NullString  `db:"last_status" json:"last_status,omitempty"`
	LastAttemptAt sql.NullTime    `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	LastLatencyMS sql.NullInt64   `db:"last_latency_ms" json:"last_latency_ms,omitempty"`
	LastError     sql.NullString  `db:"last_error" json:"last_error,omitempty"`
}
