package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "footyd",
	Short: "Real-time football match data pipeline",
	Long: `footyd ingests live fixtures, odds, events and statistics from the
upstream provider, stores every observation as an immutable tick, rolls
ticks into per-minute frames, and fans change notes out to websocket
subscribers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (falls back to CONFIG_PATH)")
	// Deploy tooling writes flags with underscores; accept both.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
}

// Execute runs the CLI under the signal-aware context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
