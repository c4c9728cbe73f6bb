package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokenpulse/tokenpulse/internal/replay"
	"github.com/tokenpulse/tokenpulse/internal/store"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	target, err := cmd.Flags().GetString("target")
	if err != nil {
		return err
	}
	if target == "" {
		return fmt.Errorf("--target is required")
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	runner := replay.NewRunner(replay.Config{TargetURL: target, Limit: limit},
		store.NewReplayRepo(d.db.DB()))
	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
