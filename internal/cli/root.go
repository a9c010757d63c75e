// Package cli provides the command-line interface for mindmate.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/mindmate/internal/app"
	"github.com/raphaelgruber/mindmate/internal/client"
	"github.com/raphaelgruber/mindmate/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Global config and logger
	cfg           config.Config
	logger        *slog.Logger
	loggerCleanup func() error

	// Lazy-initialized application, only for commands that run locally
	application *app.App
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mindmate",
	Short: "Supportive chat assistant with long-term memory",
	Long: `mindmate is a supportive conversational assistant. Every reply draws on
semantic memory of earlier conversations with the same user and on a static
knowledge corpus searched by similarity.

Commands run against local storage unless --server points at a running
mindmate-server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, loggerCleanup = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if application != nil {
			if err := application.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close: %v\n", err)
			}
			application = nil
		}
		if loggerCleanup != nil {
			_ = loggerCleanup()
		}
	},
}

// getApp builds the local application on first use.
func getApp(ctx context.Context) (*app.App, error) {
	if application != nil {
		return application, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	application = a
	return a, nil
}

// remote reports whether commands should talk to a server.
func remote() bool {
	return serverURL != ""
}

func newClient() *client.Client {
	return client.New(serverURL)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "mindmate-server URL (default: run locally)")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(corpusCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(statsCmd)
}
