// Package cmd is the quoroom CLI: the engine daemon plus local management
// commands that operate on the same data directory.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quoroomlabs/quoroom/internal/config"
)

// Version is set at build time via
// -ldflags "-X github.com/quoroomlabs/quoroom/cmd.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "quoroom",
	Short: "quoroom runs autonomous agent collectives",
	Long: "quoroom runs rooms of autonomous LLM agents: a Queen and her workers\n" +
		"pursue an objective through goals, quorum votes, scheduled tasks, and a\n" +
		"shared wallet. `quoroom engine` starts the daemon; the other commands\n" +
		"manage rooms in the same data directory.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.quoroom/config.json or $QUOROOM_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(engineCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(roomsCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("quoroom %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("QUOROOM_CONFIG"); v != "" {
		return v
	}
	return config.DefaultPath()
}

// loadConfig reads the config file and installs the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
