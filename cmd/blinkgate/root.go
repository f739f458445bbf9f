package main

import (
	"log/slog"
	"os"

	"github.com/abihf/blinkgate/config"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	conf   *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "blinkgate",
	Short: "Blink-gated face recognition attendance",
	Long: `blinkgate watches a webcam, waits for the person in front of it to blink,
and then submits a single still to a face recognition service to record attendance.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		conf = c
		logger = newLogger(config.ParseLogLevel(c.LogLevel))
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the JSON config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	)
}
