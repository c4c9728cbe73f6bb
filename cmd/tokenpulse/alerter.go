package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/tokenpulse/tokenpulse/internal/alerting"
)

func runAlerter(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := alerting.LoadConfig(path)
	if err != nil {
		return err
	}
	runner, err := alerting.NewRunner(cfg)
	if err != nil {
		return err
	}

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
