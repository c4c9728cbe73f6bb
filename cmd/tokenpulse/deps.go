package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/tokenpulse/tokenpulse/internal/config"
	"github.com/tokenpulse/tokenpulse/internal/kv"
	"github.com/tokenpulse/tokenpulse/internal/metrics"
	"github.com/tokenpulse/tokenpulse/internal/store"
)

// deps is the shared wiring every long-running command starts from.
type deps struct {
	cfg     *config.Config
	metrics *metrics.Registry
	db      *store.Manager
	kv      *kv.Store
}

func buildDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	kvStore, err := kv.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &deps{
		cfg:     cfg,
		metrics: metrics.NewRegistry(),
		db:      db,
		kv:      kvStore,
	}, nil
}

func (d *deps) close() {
	d.kv.Close()
	d.db.Close()
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
