package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayushrajani07/g6-collector/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "g6-collector",
	Short: "Option-chain collection shadow verification and promotion tooling",
	Long:  "Compares legacy and candidate collector runs cycle by cycle, tracks parity signatures, and drives canary promotion of the candidate implementation.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
