package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schaermu/modsync/internal/config"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "modsync",
	Short: "Keep a game installation in sync with a published manifest",
	Long: `modsync keeps a local game or mod installation in sync with a manifest
published over HTTP(S), then starts the configured executable.

Files are compared by SHA-256 digest and only changed files are downloaded,
optionally in parallel and in byte ranges. The same binary can generate
manifests from a release directory and serve them to clients.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("modsync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/modsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// setupLogger builds the logger from the global flags. Logs go to stderr so
// command output on stdout stays machine-readable.
func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// loadConfig reads the config file. A missing file is only accepted when the
// default location is used; an explicit --config must exist.
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		logger.Debug("loading configuration", "path", cfgFile)
		cfg, err = config.Load(cfgFile)
	} else {
		path := config.DefaultPath()
		logger.Debug("loading configuration", "path", path)
		cfg, err = config.LoadOrDefault(path)
	}
	if err != nil {
		return nil, err
	}

	if cfg.HTTP.UserAgent == "" {
		cfg.HTTP.UserAgent = "modsync/" + version
	}

	logger.Debug("configuration loaded",
		"root_dir", cfg.Paths.RootDir,
		"state_file", cfg.Paths.StateFile,
		"skip_flag", cfg.Paths.SkipFlag)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
