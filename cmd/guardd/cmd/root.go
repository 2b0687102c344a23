package cmd

import (
	"github.com/kirillm/trade-guard/internal/config"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "guardd",
	Short: "Risk guardrails and execution control plane for trading agents",
	Long: `guardd sits between a trading agent and the venue. Every stateful
operation goes through the risk manager before it is submitted, and its
lifecycle (submit, confirm, retry, reorg) is tracked by the execution manager.

Configuration comes from environment variables and an optional .env file.`,
	SilenceUsage: true,
}

// Execute запускает корневую команду
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "path to .env file (default ./.env if present)")
}

func loadConfig() (*config.Config, error) {
	if envFile != "" {
		return config.Load(envFile)
	}
	return config.Load()
}
