package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/audiolibrelab/micrecord/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int

	logFile *lumberjack.Logger
)

var rootCmd = &cobra.Command{
	Use:   "micrecord",
	Short: "Microphone recording sessions with preview and submit",
	Long: `micrecord records a single take from a microphone.

It lists capture devices, shows a live input level, counts down before
recording, and lets you preview, retake or submit the recording to the
configured output directory or upload URL.

Use 'micrecord record' for the terminal flow or 'micrecord serve' to drive
the same session from a browser.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel, config.LoggingConfig{})

		var err error
		cfg, err = config.LoadOrDefault(cfgFile, profile, cfgFile != "")
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Reconfigure once the logging section is known
		setupLogging(verboseLevel, cfg.Logging)
		slog.Debug("Configuration loaded", "profile", cfg.Profile, "backend", cfg.Audio.Backend)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/micrecord.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=subprocess output, 3=max tracing")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(playCmd)
}

// setupLogging configures slog based on the verbose level. When a log file is
// configured, records go to stderr and to the rotated file.
func setupLogging(level int, logging config.LoggingConfig) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	case 1, 2, 3:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if logging.File != "" {
		if logFile != nil {
			logFile.Close()
		}
		logFile = &lumberjack.Logger{
			Filename:   logging.File,
			MaxSize:    logging.MaxSizeMB,
			MaxBackups: logging.MaxBackups,
			MaxAge:     logging.MaxAgeDays,
			Compress:   logging.Compress,
		}
		out = io.MultiWriter(os.Stderr, logFile)
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(out, opts)
	slog.SetDefault(slog.New(handler))

	if level >= 2 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
	}
	if level >= 3 {
		os.Setenv("FFMPEG_LOGLEVEL", "debug")
	}
}
