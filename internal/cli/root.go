// Package cli implements the rewardd command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonview/rewards/internal/daemon"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "rewardd",
	Short: "Reward ledger and payment confirmation engine",
	Long: `rewardd maintains per-user points ledgers for watch rewards,
referral cascades, and daily bonuses, and drives on-chain payment
verification for ad purchases and withdrawals.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", daemon.DefaultPath(), "Path to config file")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (daemon.Config, error) {
	return daemon.Load(configPath)
}
