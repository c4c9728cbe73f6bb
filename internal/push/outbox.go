package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokenpulse/tokenpulse/internal/cards"
	"github.com/tokenpulse/tokenpulse/internal/metrics"
	"github.com/tokenpulse/tokenpulse/internal/store"
)

// Queue is the durable backlog the worker drains. Satisfied by
// store.OutboxRepo.
type Queue interface {
	Lease(ctx context.Context, limit int) ([]store.OutboxRow, error)
	MarkDone(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, nextTry time.Time, lastError string) error
	MoveToDLQ(ctx context.Context, id int64, lastError string) error
}

// Marker advances the card dedup marker after a confirmed dispatch.
// Satisfied by cards.Deduper.
type Marker interface {
	MarkEmitted(ctx context.Context, eventKey, version string)
}

// WorkerConfig tunes the drain loop.
type WorkerConfig struct {
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	PollEvery   time.Duration
}

// Worker drains the push outbox. Retryable failures reschedule with
// exponential backoff plus jitter; non-retryable failures and exhausted
// attempts go to the dead-letter table. A 429 puts the whole channel on
// cooldown so the batch does not hammer a throttling API.
type Worker struct {
	queue   Queue
	sender  Sender
	dedup   Marker
	metrics *metrics.Registry
	cfg     WorkerConfig
	now     func() time.Time

	mu        sync.Mutex
	cooldowns map[string]time.Time
}

func NewWorker(q Queue, s Sender, d Marker, m *metrics.Registry, cfg WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Minute
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	return &Worker{
		queue:     q,
		sender:    s,
		dedup:     d,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
		cooldowns: make(map[string]time.Time),
	}
}

// Run drains until the context is canceled. A full batch polls again
// immediately; an empty one waits a tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollEvery)
	defer ticker.Stop()
	for {
		n, err := w.DrainOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("outbox drain cycle failed")
		}
		if n >= w.cfg.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DrainOnce leases and processes one batch, returning how many rows it
// handled.
func (w *Worker) DrainOnce(ctx context.Context) (int, error) {
	rows, err := w.queue.Lease(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("lease batch: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	w.metrics.OutboxBatchSize.Observe(float64(len(rows)))

	handled := 0
	for _, row := range rows {
		if w.onCooldown(row.ChannelID) {
			// Leave the row pending and due; the next cycle retries it
			// once the channel cools off.
			continue
		}
		w.process(ctx, row)
		handled++
	}
	return handled, nil
}

func (w *Worker) process(ctx context.Context, row store.OutboxRow) {
	var pc cards.Pushcard
	if err := json.Unmarshal(row.Payload, &pc); err != nil {
		// A payload we cannot parse will never send; straight to DLQ.
		w.deadLetter(ctx, row, "unparseable payload: "+err.Error())
		return
	}

	threadID := ""
	if row.ThreadID.Valid {
		threadID = row.ThreadID.String
	}
	err := w.sender.Send(ctx, row.ChannelID, threadID, dispatchText(pc))
	if err == nil {
		if markErr := w.queue.MarkDone(ctx, row.ID); markErr != nil {
			log.Error().Err(markErr).Int64("outbox_id", row.ID).
				Msg("sent but failed to mark done; row will redeliver")
			return
		}
		w.metrics.OutboxDrained.WithLabelValues("done").Inc()
		w.metrics.CardsPush.WithLabelValues(pc.Type).Inc()
		if pc.StateVersion != "" {
			w.dedup.MarkEmitted(ctx, row.EventKey, pc.StateVersion)
		}
		log.Info().Int64("outbox_id", row.ID).Str("event_key", row.EventKey).
			Str("channel_id", row.ChannelID).Int("attempt", row.Attempt).
			Msg("push delivered")
		return
	}

	se := Classify(err)
	w.metrics.CardsPushFail.WithLabelValues(pc.Type, se.Code).Inc()

	if !se.Retryable {
		w.deadLetter(ctx, row, se.Error())
		return
	}
	if row.Attempt+1 >= w.cfg.MaxAttempts {
		w.deadLetter(ctx, row, fmt.Sprintf("attempts exhausted: %v", se))
		return
	}

	backoff := w.backoff(row.Attempt, se.RetryAfter)
	nextTry := w.now().Add(backoff)
	if err := w.queue.MarkRetry(ctx, row.ID, nextTry, se.Error()); err != nil {
		log.Error().Err(err).Int64("outbox_id", row.ID).Msg("failed to schedule retry")
		return
	}
	w.metrics.OutboxDrained.WithLabelValues("retry").Inc()
	if se.Code == CodeRateLimited {
		w.setCooldown(row.ChannelID, nextTry)
	}
	log.Warn().Int64("outbox_id", row.ID).Str("code", se.Code).
		Int("attempt", row.Attempt+1).Time("next_try_at", nextTry).
		Msg("push failed; retry scheduled")
}

func (w *Worker) deadLetter(ctx context.Context, row store.OutboxRow, reason string) {
	if err := w.queue.MoveToDLQ(ctx, row.ID, reason); err != nil {
		log.Error().Err(err).Int64("outbox_id", row.ID).Msg("failed to move row to dlq")
		return
	}
	w.metrics.OutboxDLQ.Inc()
	w.metrics.OutboxDrained.WithLabelValues("dlq").Inc()
	log.Error().Int64("outbox_id", row.ID).Str("event_key", row.EventKey).
		Str("reason", reason).Msg("push dead-lettered")
}

// backoff doubles per attempt from the base, capped, with up to 10% jitter
// so a burst of failures does not retry in lockstep. An API-supplied
// retry-after wins when longer.
func (w *Worker) backoff(attempt int, retryAfter time.Duration) time.Duration {
	d := w.cfg.BaseBackoff << uint(attempt)
	if d > w.cfg.MaxBackoff || d <= 0 {
		d = w.cfg.MaxBackoff
	}
	d += time.Duration(rand.Int63n(int64(d)/10 + 1))
	if retryAfter > d {
		d = retryAfter
	}
	return d
}

func (w *Worker) onCooldown(channelID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	until, ok := w.cooldowns[channelID]
	if !ok {
		return false
	}
	if w.now().After(until) {
		delete(w.cooldowns, channelID)
		return false
	}
	return true
}

func (w *Worker) setCooldown(channelID string, until time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cooldowns[channelID] = until
}

// dispatchText prefers the pre-rendered Telegram surface; a card that lost
// its render still ships as a minimal line.
func dispatchText(pc cards.Pushcard) string {
	if pc.Rendered != nil && pc.Rendered.TG != "" {
		return pc.Rendered.TG
	}
	return fmt.Sprintf("%s [%s] %s (verify: %s)",
		pc.TokenInfo.Symbol, pc.RiskLevel, pc.RiskNote, pc.VerifyPath)
}
