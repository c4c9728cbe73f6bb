package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tokenpulse/tokenpulse/internal/cards"
	"github.com/tokenpulse/tokenpulse/internal/push"
	"github.com/tokenpulse/tokenpulse/internal/store"
)

func runWorker(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()
	cfg := d.cfg

	if cfg.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required for the worker")
	}
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

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
