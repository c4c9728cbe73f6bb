package cards

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokenpulse/tokenpulse/internal/kv"
	"github.com/tokenpulse/tokenpulse/internal/metrics"
)

// Dedup decision reasons.
const (
	ReasonFirstSeen      = "first_seen"
	ReasonStateUnchanged = "state_unchanged"
	ReasonStateChanged   = "state_changed"
	ReasonKVUnavailable  = "kv_unavailable"
)

// StateVersion encodes the emittable state of an event as a short string:
// {state}|{risk}|degrade:{0|1}|{key_version}, plus an _mr<hash> suffix when
// market-risk rules fired. Rule IDs are sorted lexicographically on their
// raw form before hashing.
func StateVersion(state, riskLevel string, degrade bool, keyVersion string, hitRules []string) string {
	d := "0"
	if degrade {
		d = "1"
	}
	version := fmt.Sprintf("%s|%s|degrade:%s|%s", state, riskLevel, d, keyVersion)
	if len(hitRules) > 0 {
		sorted := append([]string(nil), hitRules...)
		sort.Strings(sorted)
		sum := sha1.Sum([]byte(strings.Join(sorted, ",")))
		version += "_mr" + hex.EncodeToString(sum[:])[:8]
	}
	return version
}

// Deduper suppresses cards whose state version has not moved since the
// last successful dispatch. KV failures fail open: a duplicate card beats
// a silently dropped one, and outbox uniqueness backstops delivery.
type Deduper struct {
	kv      *kv.Store
	ttl     time.Duration
	metrics *metrics.Registry
}

// NewDeduper wires the deduper.
func NewDeduper(store *kv.Store, ttl time.Duration, m *metrics.Registry) *Deduper {
	return &Deduper{kv: store, ttl: ttl, metrics: m}
}

// ShouldEmit decides whether a card with this state version goes out.
func (d *Deduper) ShouldEmit(ctx context.Context, eventKey, version string) (bool, string) {
	prev, found, err := d.kv.Get(ctx, kv.DedupKey(eventKey))
	if err != nil {
		d.metrics.CardsDedup.WithLabelValues(ReasonKVUnavailable).Inc()
		log.Warn().Err(err).Str("event_key", eventKey).Str("stage", "dedup").
			Msg("dedup store unavailable; emitting fail-open")
		return true, ReasonKVUnavailable
	}

	switch {
	case !found:
		d.metrics.CardsDedup.WithLabelValues(ReasonFirstSeen).Inc()
		return true, ReasonFirstSeen
	case prev == version:
		d.metrics.CardsDedup.WithLabelValues(ReasonStateUnchanged).Inc()
		return false, ReasonStateUnchanged
	default:
		d.metrics.CardsDedup.WithLabelValues(ReasonStateChanged).Inc()
		return true, ReasonStateChanged
	}
}

// MarkEmitted records the version after a successful dispatch; failures
// before dispatch must not advance the marker.
func (d *Deduper) MarkEmitted(ctx context.Context, eventKey, version string) {
	if err := d.kv.Set(ctx, kv.DedupKey(eventKey), version, d.ttl); err != nil {
		log.Warn().Err(err).Str("event_key", eventKey).Str("stage", "dedup").
			Msg("failed to record emitted state version")
	}
}
