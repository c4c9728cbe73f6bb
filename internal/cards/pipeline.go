package cards

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokenpulse/tokenpulse/internal/goplus"
	"github.com/tokenpulse/tokenpulse/internal/metrics"
)

// Channel is one delivery target for emitted cards.
type Channel struct {
	ID       string
	ThreadID string
}

// Enqueuer is the durable handoff. Satisfied by store.OutboxRepo.
type Enqueuer interface {
	Enqueue(ctx context.Context, channelID, threadID, eventKey string, payload json.RawMessage) (bool, error)
}

// Result reports what the pipeline decided for one card.
type Result struct {
	Emitted      bool
	Reason       string
	StateVersion string
	Pushcard     Pushcard
	Enqueued     int
}

// Pipeline runs normalize, gate, render, validate, dedup, enqueue. Failures
// after normalization degrade the card rather than drop it; only an unknown
// type or a dedup skip stops emission.
type Pipeline struct {
	renderer   *Renderer
	deduper    *Deduper
	outbox     Enqueuer
	metrics    *metrics.Registry
	channels   []Channel
	keyVersion string
}

func NewPipeline(r *Renderer, d *Deduper, out Enqueuer, m *metrics.Registry, channels []Channel, keyVersion string) *Pipeline {
	return &Pipeline{
		renderer:   r,
		deduper:    d,
		outbox:     out,
		metrics:    m,
		channels:   channels,
		keyVersion: keyVersion,
	}
}

// Process takes a card through the full path. The assessment is consulted
// only for primary cards; pass the zero Assessment for other types.
func (p *Pipeline) Process(ctx context.Context, card Card, assessment goplus.Assessment) (Result, error) {
	start := time.Now()

	cardType, err := NormalizeType(card.Type)
	if err != nil {
		p.metrics.CardsUnknownType.WithLabelValues(card.Type).Inc()
		log.Error().Str("type", card.Type).Str("event_key", card.EventKey).
			Msg("card rejected: unknown type")
		return Result{}, err
	}
	card.Type = cardType
	defer func() {
		p.metrics.CardLatency.WithLabelValues(cardType).Observe(time.Since(start).Seconds())
	}()

	if cardType == TypePrimary {
		ApplyPrimaryGate(&card, assessment)
	}

	gen, err := Route(cardType)
	if err != nil {
		return Result{}, err
	}
	rendered, degraded := p.renderer.Render(gen(card))
	if degraded {
		p.metrics.CardsRenderFail.WithLabelValues("template").Inc()
		card.States.Degrade = true
		if card.States.Reason == "" {
			card.States.Reason = "render_fallback"
		}
	}
	card.Rendered = &rendered

	pc := ToPushcard(card)
	if err := pc.Validate(); err != nil {
		p.metrics.CardsRenderFail.WithLabelValues("validate").Inc()
		pc.States.Degrade = true
		if pc.States.Reason == "" {
			pc.States.Reason = "schema_invalid"
		}
		log.Warn().Err(err).Str("event_key", card.EventKey).
			Msg("pushcard validation failed; shipping degraded")
	}

	version := StateVersion(card.State, pc.RiskLevel, pc.States.Degrade, p.keyVersion, card.RulesFired)
	pc.StateVersion = version
	emit, reason := p.deduper.ShouldEmit(ctx, card.EventKey, version)
	res := Result{Reason: reason, StateVersion: version, Pushcard: pc}
	if !emit {
		log.Debug().Str("event_key", card.EventKey).Str("version", version).
			Msg("card suppressed: state unchanged")
		return res, nil
	}

	payload, err := json.Marshal(pc)
	if err != nil {
		return res, fmt.Errorf("marshal pushcard: %w", err)
	}
	for _, ch := range p.channels {
		created, err := p.outbox.Enqueue(ctx, ch.ID, ch.ThreadID, card.EventKey, payload)
		if err != nil {
			return res, fmt.Errorf("enqueue channel %s: %w", ch.ID, err)
		}
		if created {
			p.metrics.OutboxEnqueued.Inc()
			res.Enqueued++
		}
	}
	res.Emitted = true
	log.Info().Str("event_key", card.EventKey).Str("type", cardType).
		Str("version", version).Int("enqueued", res.Enqueued).
		Msg("card emitted")
	return res, nil
}
