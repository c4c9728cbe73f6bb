package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tokenpulse/tokenpulse/internal/cards"
	"github.com/tokenpulse/tokenpulse/internal/event"
	"github.com/tokenpulse/tokenpulse/internal/onchain"
	"github.com/tokenpulse/tokenpulse/internal/push"
	"github.com/tokenpulse/tokenpulse/internal/scheduler"
	"github.com/tokenpulse/tokenpulse/internal/store"
)

func runScheduler(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()
	cfg := d.cfg

	postsRepo := store.NewPostsRepo(d.db.DB())
	eventsRepo := store.NewEventsRepo(d.db.DB(), d.metrics, cfg.EventDeadlockRetries, cfg.EventMergeStrict)
	signalsRepo := store.NewSignalsRepo(d.db.DB())
	onchainRepo := store.NewOnchainRepo(d.db.DB())

	rules, err := onchain.NewRegistry(cfg.OnchainRulesPath, d.metrics)
	if err != nil {
		return err
	}
	go rules.Run(ctx, cfg.RulesReloadEvery)

	env := event.KeyEnv{
		Salt:          cfg.EventKeySalt,
		Version:       cfg.EventKeyVersion,
		TimeBucketSec: cfg.EventTimeBucketSec,
	}

	jobs := []scheduler.Job{
		scheduler.CompactJob(postsRepo, eventsRepo, env, cfg.EventTopicTopK),
		scheduler.ScanTopicSignalsJob(postsRepo, signalsRepo, env),
		scheduler.AggregateTopicsJob(signalsRepo),
		scheduler.VerifyOnchainJob(signalsRepo, onchainRepo, eventsRepo, rules,
			d.metrics, cfg.FreshnessSLO, 100),
	}

	// The drain job rides along only when dispatch is configured; a
	// dedicated worker process is the normal deployment.
	if cfg.TelegramToken != "" {
		sender, err := push.NewTelegramSender(cfg.TelegramToken)
		if err != nil {
			return err
		}
		outbox := store.NewOutboxRepo(d.db.DB())
		deduper := cards.NewDeduper(d.kv, cfg.DedupTTL, d.metrics)
		worker := push.NewWorker(outbox, sender, deduper, d.metrics, push.WorkerConfig{
			BatchSize:   cfg.OutboxBatchSize,
			MaxAttempts: cfg.OutboxMaxAttempts,
			BaseBackoff: cfg.OutboxBaseBackoff,
			MaxBackoff:  cfg.OutboxMaxBackoff,
		})
		jobs = append(jobs, scheduler.OutboxDrainJob(worker))
	} else {
		log.Info().Msg("no telegram token; outbox drain job disabled")
	}

	staleAfter := time.Duration(cfg.BeatStaleSec) * time.Second
	for {
		sched := scheduler.New(d.kv, d.metrics, staleAfter, jobs...)
		err := sched.Run(ctx)
		switch {
		case errors.Is(err, scheduler.ErrHeartbeatStale):
			log.Error().Err(err).Msg("heartbeat stale; restarting scheduler")
			continue
		case errors.Is(err, context.Canceled), err == nil:
			return nil
		default:
			return err
		}
	}
}
