package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tokenpulse/tokenpulse/internal/cards"
	"github.com/tokenpulse/tokenpulse/internal/httpapi"
	"github.com/tokenpulse/tokenpulse/internal/onchain"
	"github.com/tokenpulse/tokenpulse/internal/signals"
	"github.com/tokenpulse/tokenpulse/internal/store"
)

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()
	cfg := d.cfg

	signalsRepo := store.NewSignalsRepo(d.db.DB())
	eventsRepo := store.NewEventsRepo(d.db.DB(), d.metrics, cfg.EventDeadlockRetries, cfg.EventMergeStrict)
	onchainRepo := store.NewOnchainRepo(d.db.DB())
	postsRepo := store.NewPostsRepo(d.db.DB())

	rules, err := onchain.NewRegistry(cfg.OnchainRulesPath, d.metrics)
	if err != nil {
		return err
	}
	go rules.Run(ctx, cfg.RulesReloadEvery)

	computer := signals.NewComputer(signals.HeatConfig{
		ThetaRise:  cfg.ThetaRise,
		MinSample:  cfg.HeatMinSample,
		NoiseFloor: cfg.HeatNoiseFloor,
		EMAAlpha:   cfg.HeatEMAAlpha,
		CacheTTL:   cfg.HeatCacheTTL,
		MaxRows:    cfg.HeatMaxRows,
		Timeout:    cfg.HeatTimeout,
	}, postsRepo, d.db, d.kv, d.metrics)

	persister := signals.NewPersister(signals.PersistConfig{
		Enabled:     cfg.HeatEnablePersist,
		StrictMatch: cfg.HeatPersistStrict,
		Timeout:     cfg.HeatPersistTimeout,
	}, eventsRepo, signalsRepo, d.metrics)

	var runner httpapi.QueryRunner
	if cfg.OnchainBackend == "bq" {
		if err := cfg.RequireBQ(); err != nil {
			return err
		}
		bq, err := onchain.NewBQRunner(ctx, cfg.Project(), cfg.Dataset(), cfg.BQLocation,
			cfg.BQTimeout, cfg.BQMaxScannedGB, d.metrics)
		if err != nil {
			return err
		}
		runner = bq
	}

	renderer, err := cards.NewRenderer()
	if err != nil {
		return err
	}

	handlers := httpapi.NewHandlers(httpapi.HandlersConfig{
		ExpertView:       cfg.ExpertView == "on",
		ExpertKey:        cfg.ExpertKey,
		ExpertRatePerMin: cfg.ExpertRatePerMin,
		ExpertCacheTTL:   cfg.ExpertCacheTTL,
		FreshnessSLO:     cfg.FreshnessSLO,
		SignalCacheTTL:   120 * time.Second,
		PreviewTimeout:   cfg.CardsSummaryTimeout,
	}, d.db, d.kv, d.kv, signalsRepo, eventsRepo, onchainRepo,
		computer, persister, runner, rules, renderer)

	srv := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.HTTPHost,
		Port:         cfg.HTTPPort,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, handlers, d.metrics)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	return nil
}
