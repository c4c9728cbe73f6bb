package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/tokenpulse/tokenpulse/internal/event"
	"github.com/tokenpulse/tokenpulse/internal/metrics"
)

// EventsRepo owns all writes to the events table.
type EventsRepo struct {
	db      *sqlx.DB
	metrics *metrics.Registry

	// MaxLockRetries bounds the compaction NOWAIT retry loop
	// (EVENT_DEADLOCK_MAX_RETRY).
	MaxLockRetries int
	// MergeStrict selects cross-source union vs single-source retention
	// (EVENT_MERGE_STRICT).
	MergeStrict bool
}

// NewEventsRepo wires the repository.
func NewEventsRepo(db *sqlx.DB, m *metrics.Registry, maxLockRetries int, mergeStrict bool) *EventsRepo {
	if maxLockRetries <= 0 {
		maxLockRetries = 3
	}
	return &EventsRepo{db: db, metrics: m, MaxLockRetries: maxLockRetries, MergeStrict: mergeStrict}
}

// EventUpsert is one merge request into the canonical events table.
type EventUpsert struct {
	EventKey        string
	Symbol          string
	TokenCA         string
	TopicHash       string
	Version         string
	TimeBucketStart time.Time
	TS              time.Time
	KeywordsNorm    []string
	SentimentLabel  string
	SentimentScore  float64
	CandidateScore  float64
	GoplusRisk      string
	Evidence        []event.EvidenceItem
	CurrentSource   string
}

// UpsertResult is the post-commit view the caller gets back.
type UpsertResult struct {
	EventKey       string  `db:"event_key" json:"event_key"`
	EvidenceCount  int     `db:"evidence_count" json:"evidence_count"`
	CandidateScore float64 `db:"candidate_score" json:"candidate_score"`
}

// Upsert merges a post into its canonical event. The insert-or-update and
// evidence concat run in one transaction; the dedup compaction pass runs
// after it under FOR UPDATE NOWAIT with a bounded retry. When the lock
// cannot be had, the append still stands and the fallback counter ticks.
func (r *EventsRepo) Upsert(ctx context.Context, up EventUpsert) (UpsertResult, error) {
	if up.EventKey == "" {
		return UpsertResult{}, &event.ErrInvalidInput{Field: "event_key", Reason: "missing"}
	}

	incoming := event.Dedupe(up.Evidence)
	evidenceJSON, err := json.Marshal(incoming)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("marshal evidence: %w", err)
	}
	keywordsJSON, err := json.Marshal(normStrings(up.KeywordsNorm))
	if err != nil {
		return UpsertResult{}, fmt.Errorf("marshal keywords: %w", err)
	}

	inserted, err := r.insertOrConcat(ctx, up, evidenceJSON, keywordsJSON)
	if err != nil {
		return UpsertResult{}, err
	}

	if inserted {
		r.metrics.EventUpserts.WithLabelValues("inserted").Inc()
	} else {
		r.metrics.EventUpserts.WithLabelValues("merged").Inc()
		if err := r.compactWithRetry(ctx, up.EventKey, up.CurrentSource); err != nil {
			return UpsertResult{}, err
		}
	}

	var res UpsertResult
	err = r.db.GetContext(ctx, &res,
		`SELECT event_key, evidence_count, candidate_score FROM events WHERE event_key = $1`,
		up.EventKey)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("read back event %s: %w", up.EventKey, err)
	}
	return res, nil
}

func (r *EventsRepo) insertOrConcat(ctx context.Context, up EventUpsert, evidenceJSON, keywordsJSON []byte) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	var inserted bool
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO events (
			event_key, symbol, token_ca, topic_hash, time_bucket_start,
			start_ts, last_ts, evidence_count, candidate_score, keywords_norm,
			version, last_sentiment_label, last_sentiment_score, goplus_risk, evidence
		) VALUES (
			$1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''), $5,
			$6, $6, jsonb_array_length($10::jsonb), $7, $8,
			$9, NULLIF($11,''), $12, NULLIF($13,''), $10::jsonb
		)
		ON CONFLICT (event_key) DO UPDATE SET
			last_ts = GREATEST(events.last_ts, EXCLUDED.last_ts),
			candidate_score = EXCLUDED.candidate_score,
			last_sentiment_label = COALESCE(EXCLUDED.last_sentiment_label, events.last_sentiment_label),
			last_sentiment_score = COALESCE(EXCLUDED.last_sentiment_score, events.last_sentiment_score),
			goplus_risk = COALESCE(EXCLUDED.goplus_risk, events.goplus_risk),
			evidence = events.evidence || EXCLUDED.evidence,
			evidence_count = jsonb_array_length(events.evidence || EXCLUDED.evidence),
			updated_at = NOW()
		RETURNING (xmax = 0)`,
		up.EventKey, up.Symbol, up.TokenCA, up.TopicHash, nullTime(up.TimeBucketStart),
		up.TS, up.CandidateScore, keywordsJSON, up.Version,
		evidenceJSON, up.SentimentLabel, nullFloat(up.SentimentScore, up.SentimentLabel != ""), up.GoplusRisk,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert event %s: %w", up.EventKey, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert tx: %w", err)
	}
	return inserted, nil
}

// compactWithRetry rewrites the evidence array as a set. Lock conflicts are
// retried; on exhaustion the append-only result is accepted as-is.
func (r *EventsRepo) compactWithRetry(ctx context.Context, eventKey, currentSource string) error {
	var lastErr error
	for attempt := 0; attempt <= r.MaxLockRetries; attempt++ {
		err := r.compactOnce(ctx, eventKey, currentSource)
		if err == nil {
			return nil
		}
		if !IsLockNotAvailable(err) {
			return err
		}
		lastErr = err
		log.Debug().Str("event_key", eventKey).Int("attempt", attempt).Msg("evidence compaction lock busy")
	}

	r.metrics.InsertConflictFallbacks.Inc()
	r.metrics.EventUpserts.WithLabelValues("fallback").Inc()
	log.Warn().Str("event_key", eventKey).Err(lastErr).
		Msg("evidence compaction skipped after lock retries; append recorded uncompacted")
	return nil
}

func (r *EventsRepo) compactOnce(ctx context.Context, eventKey, currentSource string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin compaction tx: %w", err)
	}
	defer tx.Rollback()

	var raw json.RawMessage
	err = tx.QueryRowxContext(ctx,
		`SELECT evidence FROM events WHERE event_key = $1 FOR UPDATE NOWAIT`, eventKey).
		Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}

	var items []event.EvidenceItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("decode evidence for %s: %w", eventKey, err)
	}

	var compacted []event.EvidenceItem
	if r.MergeStrict {
		compacted = event.Dedupe(items)
	} else {
		compacted = event.Merge(items, nil, false, currentSource)
	}
	if removed := len(items) - len(compacted); removed > 0 {
		r.metrics.EvidenceCompacted.Add(float64(removed))
	}

	out, err := json.Marshal(compacted)
	if err != nil {
		return fmt.Errorf("encode compacted evidence: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE events SET evidence = $2::jsonb, evidence_count = $3, updated_at = NOW() WHERE event_key = $1`,
		eventKey, out, len(compacted))
	if err != nil {
		return fmt.Errorf("rewrite evidence for %s: %w", eventKey, err)
	}
	return tx.Commit()
}

// Get loads one event row.
func (r *EventsRepo) Get(ctx context.Context, eventKey string) (*Event, error) {
	var e Event
	err := r.db.GetContext(ctx, &e, `SELECT * FROM events WHERE event_key = $1`, eventKey)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get event %s: %w", eventKey, err)
	}
	return &e, nil
}

// ResolveEventKey finds the newest event for a token contract or symbol.
// Contract match takes priority; symbol lookup is the loose fallback.
func (r *EventsRepo) ResolveEventKey(ctx context.Context, tokenCA, symbol string, allowSymbol bool) (string, error) {
	var key string
	if tokenCA != "" {
		err := r.db.GetContext(ctx, &key,
			`SELECT event_key FROM events WHERE token_ca = $1 ORDER BY last_ts DESC LIMIT 1`, tokenCA)
		if err == nil {
			return key, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("resolve by token_ca: %w", err)
		}
	}
	if allowSymbol && symbol != "" {
		err := r.db.GetContext(ctx, &key,
			`SELECT event_key FROM events WHERE symbol = $1 ORDER BY last_ts DESC LIMIT 1`, symbol)
		if err == nil {
			return key, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("resolve by symbol: %w", err)
		}
	}
	return "", nil
}

func normStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullFloat(f float64, valid bool) interface{} {
	if !valid {
		return nil
	}
	return f
}
