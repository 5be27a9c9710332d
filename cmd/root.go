// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/callmon/internal/config"
	"firestige.xyz/callmon/internal/core"
	"firestige.xyz/callmon/internal/directory"
	"firestige.xyz/callmon/internal/log"

	// Directory backends register themselves with the directory package.
	_ "firestige.xyz/callmon/internal/directory/livekit"
	_ "firestige.xyz/callmon/internal/directory/memory"
)

var (
	// Global flags
	configFile    string
	directoryType string
	logLevel      string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "callmon",
	Short: "callmon - lifecycle monitor for telephony calls bridged into media sessions",
	Long: `callmon watches a media session for the signaling participant of an inbound
telephony call, follows the call until the caller hangs up or leaves, and
can force-end calls on request.

Features:
  - Bounded discovery of the telephony leg by call attributes
  - Hangup / departure detection by polling the room directory
  - Forced termination with bounded timeout
  - Pluggable directory backends: livekit, memory
  - Optional call history on disk`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer log.Close()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (default: built-in defaults + CALLMON_* environment)")
	rootCmd.PersistentFlags().StringVar(&directoryType, "directory", "",
		"override directory.type (livekit | memory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log.level (trace | debug | info | warn | error)")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(dialCmd)
	rootCmd.AddCommand(terminateCmd)
	rootCmd.AddCommand(rosterCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig loads the global configuration, applies flag overrides and
// initialises logging.
func loadConfig() (*config.GlobalConfig, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if directoryType != "" {
		cfg.Directory.Type = directoryType
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, err
	}
	if err := log.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialise logging: %w", err)
	}
	return cfg, nil
}

// openBackend loads the configuration and opens the configured directory.
func openBackend() (*config.GlobalConfig, core.Backend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	backend, err := directory.Open(directory.WithAttributeKeys(cfg.Directory, cfg.Monitor.Attributes))
	if err != nil {
		return nil, nil, err
	}
	return cfg, backend, nil
}
