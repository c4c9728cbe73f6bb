package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokenpulse/tokenpulse/internal/onchain"
)

// runLintRules validates a rules file standalone, without touching any
// backend. Exit 0 ok, 1 validation failure, 2 read failure.
func runLintRules(_ *cobra.Command, args []string) {
	path := "config/onchain_rules.yaml"
	if len(args) > 0 {
		path = args[0]
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
		os.Exit(2)
	}

	rules, err := onchain.ParseRules(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		os.Exit(1)
	}

	fmt.Printf("%s: ok (%d windows, %d threshold groups)\n", path, len(rules.Windows), len(rules.Thresholds))
}
