package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

const (
	appName = "tokenpulse"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Crypto social-signal pipeline: events, heat, on-chain verification, cards",
		Version: version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only HTTP API",
		Long:  "Serves signals, heat, on-chain features and card previews, plus /metrics",
		RunE:  runServe,
	}

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the push outbox drain worker",
		Long:  "Leases pending outbox rows and dispatches them to Telegram with backoff and DLQ",
		RunE:  runWorker,
	}

	schedulerCmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run the background job scheduler",
		Long:  "Compaction, topic scans, on-chain verification and outbox drain on independent tickers, with a heartbeat watchdog",
		RunE:  runScheduler,
	}

	alerterCmd := &cobra.Command{
		Use:   "alerter",
		Short: "Run the metrics alert runner",
		Long:  "Scrapes a Prometheus endpoint, evaluates alert rules and notifies a webhook or script",
		RunE:  runAlerter,
	}
	alerterCmd.Flags().String("config", "config/alerts.yaml", "Alert rules file")

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-drive failed payloads against an ingest endpoint",
		RunE:  runReplay,
	}
	replayCmd.Flags().String("target", "", "Ingest endpoint URL (required)")
	replayCmd.Flags().Int("limit", 500, "Maximum rows to replay")

	lintCmd := &cobra.Command{
		Use:   "lint-rules [file]",
		Short: "Validate an on-chain rules file",
		Long:  "Exit 0 when the file parses and validates, 1 on validation failure, 2 on read failure",
		Args:  cobra.MaximumNArgs(1),
		Run:   runLintRules,
	}

	rootCmd.AddCommand(serveCmd, workerCmd, schedulerCmd, alerterCmd, replayCmd, lintCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
