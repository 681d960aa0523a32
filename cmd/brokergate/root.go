package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daon-network/broker-gateway/internal/logging"
)

var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "brokergate",
	Short: "DAON broker trust gateway",
	Long: `brokergate is the trust gateway between third-party platform brokers
and the DAON protected-content ledger. It authenticates broker API keys,
enforces per-tier rate limits, verifies request signatures, records security
events, and delivers webhook notifications with retries.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.FromEnv())
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
