// Package main implements trackerctl, a CLI that reads and writes tracker
// profiles directly against the configured document store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/usefultools/backend/internal/bootstrap"
	"github.com/usefultools/backend/internal/config"
	"github.com/usefultools/backend/internal/logging"
)

var (
	// userID is the identity whose profile the command operates on
	userID string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trackerctl",
	Short: "Inspect and edit pregnancy and baby tracker profiles",
	Long: `trackerctl talks to the same document store as the server, selected by
STORE_BACKEND and the related environment variables (a .env file in the
working directory is honoured).`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "user identity (empty addresses the unscoped root profile)")
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(watchCmd)
}

// openStack loads configuration and opens the store. The caller must call
// the returned close function.
func openStack(ctx context.Context) (*bootstrap.Stack, *zap.Logger, func(), error) {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return nil, nil, nil, err
	}

	stack, err := bootstrap.Open(ctx, cfg, logger, nil)
	if err != nil {
		logger.Sync()
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return stack, logger, func() {
		if err := stack.Close(context.Background()); err != nil {
			logger.Warn("store close", zap.Error(err))
		}
		logger.Sync()
	}, nil
}
