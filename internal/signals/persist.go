package signals

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokenpulse/tokenpulse/internal/metrics"
	"github.com/tokenpulse/tokenpulse/internal/store"
)

// PersistConfig carries the heat-persistence tunables.
type PersistConfig struct {
	Enabled     bool
	StrictMatch bool // resolve only by token_ca; loose mode also tries symbol
	Timeout     time.Duration
}

// EventResolver resolves a token identity to its newest event key.
type EventResolver interface {
	ResolveEventKey(ctx context.Context, tokenCA, symbol string, allowSymbol bool) (string, error)
}

// FeatureWriter merges a feature sub-object into a signal row.
type FeatureWriter interface {
	MergeFeature(ctx context.Context, eventKey, path string, value interface{}, timeout time.Duration) (string, error)
	SetHeatSlope(ctx context.Context, eventKey string, slope float64) error
}

// Persister writes computed heat into the signal row's features_snapshot.
// It deliberately never creates a signal row: if none exists the result is
// refused with row_not_found, whatever HEAT_PERSIST_UPSERT claims.
type Persister struct {
	cfg      PersistConfig
	resolver EventResolver
	writer   FeatureWriter
	metrics  *metrics.Registry
}

// NewPersister wires the persister.
func NewPersister(cfg PersistConfig, resolver EventResolver, writer FeatureWriter, m *metrics.Registry) *Persister {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	return &Persister{cfg: cfg, resolver: resolver, writer: writer, metrics: m}
}

// Persist writes the heat sub-object under the signal row lock. Repeated
// calls with the same input overwrite the same field; no history is kept.
// The bool is false with a reason when nothing was written; the error is
// reserved for operational failures.
func (p *Persister) Persist(ctx context.Context, heat Heat) (bool, string, error) {
	if !p.cfg.Enabled {
		return false, "disabled", nil
	}

	eventKey, err := p.resolver.ResolveEventKey(ctx, heat.TokenCA, heat.Token, !p.cfg.StrictMatch)
	if err != nil {
		return false, "", err
	}
	if eventKey == "" {
		p.metrics.HeatPersist.WithLabelValues("no_event").Inc()
		return false, "event_not_found", nil
	}

	reason, err := p.writer.MergeFeature(ctx, eventKey, "heat", heat, p.cfg.Timeout)
	if err != nil {
		p.metrics.HeatPersist.WithLabelValues("error").Inc()
		return false, "", err
	}
	if reason != store.MergeOK {
		p.metrics.HeatPersist.WithLabelValues(reason).Inc()
		log.Warn().Str("event_key", eventKey).Str("reason", reason).Str("stage", "heat_persist").
			Msg("heat not persisted")
		return false, reason, nil
	}

	if heat.Slope != nil {
		if err := p.writer.SetHeatSlope(ctx, eventKey, *heat.Slope); err != nil {
			// The snapshot write already landed; the scalar mirror is
			// best-effort and the next persist refreshes it.
			log.Warn().Err(err).Str("event_key", eventKey).Msg("heat slope mirror failed")
		}
	}

	p.metrics.HeatPersist.WithLabelValues("ok").Inc()
	return true, "", nil
}
